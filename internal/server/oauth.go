package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/desertthunder/genx/internal/auth"
	"github.com/desertthunder/genx/internal/shared"
	"golang.org/x/oauth2"
)

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// NewOAuthConfig builds the [oauth2.Config] for the login round trip.
func NewOAuthConfig(c shared.OAuthConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthorizeURL,
			TokenURL: c.TokenURL,
		},
	}
}

// PrepareLogin stores a fresh state token and returns the authorization URL to open.
func PrepareLogin(ctx context.Context, config *oauth2.Config, store auth.Store) (string, error) {
	if config.ClientID == "" || config.Endpoint.AuthURL == "" {
		return "", fmt.Errorf("%w: oauth.client_id and oauth.authorize_url are required", shared.ErrMissingConfig)
	}

	state := shared.GenerateID()
	if err := store.Set(ctx, auth.KeyOAuthState, state); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	return config.AuthCodeURL(state), nil
}

// OAuthHandler handles OAuth2 callback requests for authorization code flow.
// Implements the Handler interface for registration with a Router.
type OAuthHandler struct {
	config      *oauth2.Config
	states      auth.Store
	client      *http.Client
	resultChan  chan OAuthResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewOAuthHandler creates a handler that validates callbacks against the state held in states.
//
// client performs the code exchange; nil uses [http.DefaultClient].
func NewOAuthHandler(config *oauth2.Config, states auth.Store, client *http.Client) *OAuthHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &OAuthHandler{
		config:     config,
		states:     states,
		client:     client,
		resultChan: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"GET /callback"}
}

// ServeHTTP handles the OAuth callback request.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	ctx := r.Context()

	expected, err := h.states.Get(ctx, auth.KeyOAuthState)
	if err != nil {
		h.Send(OAuthResult{err: fmt.Errorf("failed to read oauth state: %w", err)})
		http.Error(w, "Session store unavailable", http.StatusInternalServerError)
		return
	}
	// The state is single use whatever the outcome.
	if err := h.states.Delete(ctx, auth.KeyOAuthState); err != nil {
		h.Send(OAuthResult{err: fmt.Errorf("failed to clear oauth state: %w", err)})
		http.Error(w, "Session store unavailable", http.StatusInternalServerError)
		return
	}

	state := r.URL.Query().Get("state")
	if expected == "" || state != expected {
		h.Send(OAuthResult{err: shared.ErrInvalidState})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		errParam := r.URL.Query().Get("error")
		errDesc := r.URL.Query().Get("error_description")
		err := fmt.Errorf("%w: %s - %s", shared.ErrAuthFailed, errParam, errDesc)
		h.Send(OAuthResult{err: err})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	token, err := h.config.Exchange(context.WithValue(ctx, oauth2.HTTPClient, h.client), code)
	if err != nil {
		h.Send(OAuthResult{err: fmt.Errorf("%w: token exchange failed: %v", shared.ErrAuthFailed, err)})
		http.Error(w, "Token exchange failed", http.StatusInternalServerError)
		return
	}

	h.Send(OAuthResult{Token: token})

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

// Send sends the OAuth result through the channel (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}

const successPage = `
<!DOCTYPE html>
<html>
<head>
    <title>Signed in to genx</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #7C3AED; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>✓ Signed in</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`
