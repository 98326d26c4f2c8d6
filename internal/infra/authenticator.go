package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/trackvault/internal/domain"
)

// accessTokenName keys the OAuth2 access token in the session store.
const accessTokenName = "oauth2_access"

// Authenticator manages the Garmin Connect session lifecycle: reuse of
// the persisted session token, and re-login with credentials when no
// token exists or the session has expired.
type Authenticator struct {
	username   string
	password   string
	baseURL    string
	httpClient *http.Client
	store      domain.SessionStore
	logger     *zap.Logger

	token string
}

// NewAuthenticator creates an authenticator persisting tokens to the
// given session store. baseURL defaults to the public Connect API.
func NewAuthenticator(
	username, password, baseURL string,
	httpClient *http.Client,
	store domain.SessionStore,
	logger *zap.Logger,
) *Authenticator {
	if baseURL == "" {
		baseURL = defaultConnectBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Authenticator{
		username:   username,
		password:   password,
		baseURL:    baseURL,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
	}
}

// EnsureAuthenticated returns a usable session token, preferring the
// in-memory one, then the persisted one, then a fresh login.
func (a *Authenticator) EnsureAuthenticated(ctx context.Context) (string, error) {
	if a.token != "" {
		return a.token, nil
	}

	stored, err := a.store.GetToken(accessTokenName)
	if err != nil {
		return "", fmt.Errorf("read session store: %w", err)
	}
	if stored != "" {
		a.logger.Info("authenticated with saved session token")
		a.token = stored
		return stored, nil
	}

	return a.Refresh(ctx)
}

// Refresh discards the current session, logs in with credentials and
// persists the fresh token for the next restart.
func (a *Authenticator) Refresh(ctx context.Context) (string, error) {
	a.logger.Info("session missing or expired, logging in with credentials")

	token, err := a.login(ctx)
	if err != nil {
		return "", err
	}
	if err := a.store.SetToken(accessTokenName, token); err != nil {
		return "", fmt.Errorf("persist session token: %w", err)
	}

	a.token = token
	a.logger.Info("successfully authenticated and saved session token")
	return token, nil
}

func (a *Authenticator) login(ctx context.Context) (string, error) {
	form := url.Values{
		"username": {a.username},
		"password": {a.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/oauth-service/oauth/exchange/user/2.0",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: login", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &domain.AuthError{
			Op:  "login",
			Err: fmt.Errorf("credentials rejected with status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("malformed login response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", &domain.AuthError{Op: "login", Err: fmt.Errorf("empty access token in response")}
	}
	return payload.AccessToken, nil
}
