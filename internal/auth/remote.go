package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
	"golang.org/x/oauth2"
)

// Remote is the server side of the session: refresh exchange, cookie revocation and identity lookup.
type Remote interface {
	Refresh(ctx context.Context) (string, error)
	Revoke(ctx context.Context) error
	Me(ctx context.Context, token string) (*models.User, error)
}

// HTTPRemote talks to the same-origin auth route that manages the refresh cookie.
type HTTPRemote struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRemote creates a remote rooted at baseURL.
//
// When client is nil a client with an in-memory cookie jar is created.
// A client without a jar gets one so the refresh cookie survives between calls.
func NewHTTPRemote(baseURL string, client *http.Client) (*HTTPRemote, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: api.auth_url is required", shared.ErrMissingConfig)
	}
	if client == nil {
		client = &http.Client{}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		client.Jar = jar
	}

	return &HTTPRemote{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}, nil
}

// HTTPClient returns the cookie-carrying client.
//
// Pass it to [oauth2.Config.Exchange] through [oauth2.HTTPClient] so the
// refresh cookie set by the token endpoint lands in the same jar.
func (r *HTTPRemote) HTTPClient() *http.Client { return r.httpClient }

// ImportCookies seeds the jar with cookies copied from a browser session on the auth origin.
func (r *HTTPRemote) ImportCookies(cookies []*http.Cookie) error {
	u, err := url.Parse(r.baseURL + "/")
	if err != nil {
		return fmt.Errorf("%w: api.auth_url: %v", shared.ErrInvalidConfig, err)
	}
	r.httpClient.Jar.SetCookies(u, cookies)
	return nil
}

// Refresh exchanges the refresh cookie for a new access token.
//
// Calls POST /auth/refresh.
func (r *HTTPRemote) Refresh(ctx context.Context) (string, error) {
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := r.do(ctx, r.httpClient, http.MethodPost, "/auth/refresh", &body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", shared.ErrRefreshFailed)
	}
	return body.AccessToken, nil
}

// Revoke asks the server to clear the refresh cookie.
//
// Calls DELETE /auth/refresh.
func (r *HTTPRemote) Revoke(ctx context.Context) error {
	return r.do(ctx, r.httpClient, http.MethodDelete, "/auth/refresh", nil)
}

// Me validates token by fetching the identity behind it.
//
// Calls GET /auth/me.
func (r *HTTPRemote) Me(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, shared.ErrNotAuthenticated
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	var user models.User
	if err := r.do(ctx, client, http.MethodGet, "/auth/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *HTTPRemote) do(ctx context.Context, client *http.Client, method, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s", shared.ErrUnauthorized, method, endpoint)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s %s returned status %d", shared.ErrAPIRequest, method, endpoint, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
