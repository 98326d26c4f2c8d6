// Package infra contains implementations of the domain's collaborator
// interfaces: the Garmin Connect client, session persistence, and the
// cron scheduler.
package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/trackvault/internal/domain"
)

const defaultConnectBaseURL = "https://connectapi.garmin.com"

// GarminClientOptions configures the Connect API client.
type GarminClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// GarminClient is a thin client for the Garmin Connect REST API,
// implementing domain.ActivitySource. Session handling happens below
// the FetchPage/FetchTrackBytes boundary: an expired session triggers
// one re-login and retry before the error surfaces.
type GarminClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	auth       *Authenticator
	logger     *zap.Logger
}

// NewGarminClient creates a Connect client backed by the given
// authenticator.
func NewGarminClient(opts GarminClientOptions, auth *Authenticator, logger *zap.Logger) *GarminClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultConnectBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GarminClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  opts.UserAgent,
		auth:       auth,
		logger:     logger,
	}
}

// FetchPage returns one page of the activity feed, newest first.
func (c *GarminClient) FetchPage(ctx context.Context, offset, limit int) ([]domain.Activity, error) {
	query := url.Values{
		"start": {strconv.Itoa(offset)},
		"limit": {strconv.Itoa(limit)},
	}
	body, err := c.do(ctx, "/activitylist-service/activities/search/activities", query)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("malformed activity list response: %w", err)
	}

	activities := make([]domain.Activity, 0, len(raws))
	for _, raw := range raws {
		act, err := domain.ActivityFromAPI(raw)
		if err != nil {
			return nil, err
		}
		activities = append(activities, act)
	}
	return activities, nil
}

// FetchTrackBytes downloads one track export. A 404 from the download
// service means no track data exists and returns empty bytes.
func (c *GarminClient) FetchTrackBytes(ctx context.Context, id domain.ActivityID, format string) ([]byte, error) {
	path := fmt.Sprintf("/download-service/export/%s/activity/%d", format, id)
	body, err := c.do(ctx, path, nil)
	if err != nil {
		var apiErr *apiStatusError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return body, nil
}

// do issues an authenticated GET, re-logging in once on an expired
// session.
func (c *GarminClient) do(ctx context.Context, path string, query url.Values) ([]byte, error) {
	token, err := c.auth.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, path, query, token)
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		c.logger.Warn("session expired during operation, re-authenticating")
		token, err = c.auth.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		body, err = c.get(ctx, path, query, token)
	}
	return body, err
}

func (c *GarminClient) get(ctx context.Context, path string, query url.Values, token string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: GET %s", domain.ErrRateLimited, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &domain.AuthError{
			Op:  "GET " + path,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 400:
		return nil, &apiStatusError{path: path, status: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}

// apiStatusError is a non-auth, non-throttle HTTP failure.
type apiStatusError struct {
	path   string
	status int
}

func (e *apiStatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.path, e.status)
}

// Ensure GarminClient implements domain.ActivitySource.
var _ domain.ActivitySource = (*GarminClient)(nil)
