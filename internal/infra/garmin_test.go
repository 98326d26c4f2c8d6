package infra

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/trackvault/internal/domain"
)

// memStore is an in-memory domain.SessionStore for client tests.
type memStore struct {
	tokens map[string]string
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]string)}
}

func (s *memStore) GetToken(name string) (string, error) {
	return s.tokens[name], nil
}

func (s *memStore) SetToken(name, value string) error {
	s.tokens[name] = value
	return nil
}

func (s *memStore) Close() error { return nil }

func newTestClient(t *testing.T, server *httptest.Server, store domain.SessionStore) *GarminClient {
	t.Helper()
	auth := NewAuthenticator("user@example.com", "secret", server.URL, server.Client(), store, zap.NewNop())
	return NewGarminClient(GarminClientOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	}, auth, zap.NewNop())
}

const activityListJSON = `[
	{
		"activityId": 12345678901,
		"activityName": "Morning Run",
		"activityType": {"typeKey": "running"},
		"startTimeGMT": "2024-01-15 08:30:00",
		"hasPolyline": true
	},
	{
		"activityId": 12345678900,
		"activityName": "Evening Swim",
		"activityType": {"typeKey": "lap_swimming"},
		"startTimeGMT": "2024-01-14 19:00:00",
		"hasPolyline": false
	}
]`

func TestFetchPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/activitylist-service/activities/search/activities", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("start"))
		assert.Equal(t, "30", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer stored-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, activityListJSON)
	}))
	defer server.Close()

	store := newMemStore()
	store.tokens[accessTokenName] = "stored-token"
	client := newTestClient(t, server, store)

	activities, err := client.FetchPage(context.Background(), 5, 30)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, domain.ActivityID(12345678901), activities[0].ID)
	assert.Equal(t, "running", activities[0].Type)
	assert.False(t, activities[1].HasPolyline)
}

func TestFetchPageLogsInWhenNoSavedSession(t *testing.T) {
	var loginCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/oauth-service/") {
			loginCalls++
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "user@example.com", r.PostForm.Get("username"))
			fmt.Fprint(w, `{"access_token": "fresh-token"}`)
			return
		}
		assert.Equal(t, "Bearer fresh-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	store := newMemStore()
	client := newTestClient(t, server, store)

	_, err := client.FetchPage(context.Background(), 0, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, loginCalls)
	assert.Equal(t, "fresh-token", store.tokens[accessTokenName])
}

func TestFetchPageReauthenticatesOnExpiredSession(t *testing.T) {
	var loginCalls, listCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/oauth-service/") {
			loginCalls++
			fmt.Fprint(w, `{"access_token": "renewed-token"}`)
			return
		}
		listCalls++
		if r.Header.Get("Authorization") == "Bearer stale-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, activityListJSON)
	}))
	defer server.Close()

	store := newMemStore()
	store.tokens[accessTokenName] = "stale-token"
	client := newTestClient(t, server, store)

	activities, err := client.FetchPage(context.Background(), 0, 30)
	require.NoError(t, err)
	assert.Len(t, activities, 2)
	assert.Equal(t, 1, loginCalls)
	assert.Equal(t, 2, listCalls, "one rejected call, one retry")
	assert.Equal(t, "renewed-token", store.tokens[accessTokenName])
}

func TestFetchPageRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	store := newMemStore()
	store.tokens[accessTokenName] = "stored-token"
	client := newTestClient(t, server, store)

	_, err := client.FetchPage(context.Background(), 0, 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestFetchPageServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newMemStore()
	store.tokens[accessTokenName] = "stored-token"
	client := newTestClient(t, server, store)

	_, err := client.FetchPage(context.Background(), 0, 30)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRateLimited)
}

func TestFetchTrackBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/download-service/export/gpx/activity/42", r.URL.Path)
		fmt.Fprint(w, "<gpx>track</gpx>")
	}))
	defer server.Close()

	store := newMemStore()
	store.tokens[accessTokenName] = "stored-token"
	client := newTestClient(t, server, store)

	data, err := client.FetchTrackBytes(context.Background(), 42, "gpx")
	require.NoError(t, err)
	assert.Equal(t, []byte("<gpx>track</gpx>"), data)
}

// A 404 from the download service means no track data upstream, which
// is a valid empty result, not an error.
func TestFetchTrackBytesNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store := newMemStore()
	store.tokens[accessTokenName] = "stored-token"
	client := newTestClient(t, server, store)

	data, err := client.FetchTrackBytes(context.Background(), 42, "tcx")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestLoginRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(t, server, newMemStore())

	_, err := client.FetchPage(context.Background(), 0, 30)
	require.Error(t, err)
	var authErr *domain.AuthError
	assert.ErrorAs(t, err, &authErr)
}
