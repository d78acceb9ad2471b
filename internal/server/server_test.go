package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/genx/internal/auth"
	"github.com/desertthunder/genx/internal/shared"
	"golang.org/x/oauth2"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// tokenServer issues access token "a1" for code "good" and sets the refresh cookie.
func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r1", Path: "/", HttpOnly: true})
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"a1","token_type":"Bearer","expires_in":900}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(tokenURL string) *oauth2.Config {
	return NewOAuthConfig(shared.OAuthConfig{
		ClientID:     "genx-cli",
		AuthorizeURL: "https://auth.example.com/oauth/authorize",
		TokenURL:     tokenURL,
		RedirectURI:  "http://127.0.0.1:3001/callback",
		Scopes:       []string{"generate"},
	})
}

func TestPrepareLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("Stores State", func(t *testing.T) {
		store := newMemStore()
		authURL, err := PrepareLogin(ctx, testConfig("http://unused"), store)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		u, err := url.Parse(authURL)
		if err != nil {
			t.Fatalf("invalid auth url: %v", err)
		}
		state, _ := store.Get(ctx, auth.KeyOAuthState)
		if state == "" || u.Query().Get("state") != state {
			t.Errorf("expected stored state %q in url %s", state, authURL)
		}
		if u.Query().Get("client_id") != "genx-cli" || u.Query().Get("redirect_uri") != "http://127.0.0.1:3001/callback" {
			t.Errorf("unexpected query %v", u.Query())
		}
	})

	t.Run("Missing Config", func(t *testing.T) {
		_, err := PrepareLogin(ctx, &oauth2.Config{}, newMemStore())
		if !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})
}

func TestOAuthHandler(t *testing.T) {
	ctx := context.Background()

	callback := func(h *OAuthHandler, query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+query, nil))
		return rec
	}

	t.Run("Exchanges Code", func(t *testing.T) {
		tokens := tokenServer(t)
		store := newMemStore()
		store.Set(ctx, auth.KeyOAuthState, "s1")

		jar, _ := cookiejar.New(nil)
		client := &http.Client{Jar: jar}
		h := NewOAuthHandler(testConfig(tokens.URL), store, client)

		rec := callback(h, "state=s1&code=good")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		result := <-h.Result()
		if result.Error() != nil {
			t.Fatalf("expected no error, got %v", result.Error())
		}
		if result.Token.AccessToken != "a1" {
			t.Errorf("expected access token a1, got %q", result.Token.AccessToken)
		}

		u, _ := url.Parse(tokens.URL)
		if cookies := jar.Cookies(u); len(cookies) != 1 || cookies[0].Value != "r1" {
			t.Errorf("expected refresh cookie in the shared jar, got %v", cookies)
		}
		if v, _ := store.Get(ctx, auth.KeyOAuthState); v != "" {
			t.Errorf("expected state to be consumed, got %q", v)
		}
	})

	t.Run("Invalid State", func(t *testing.T) {
		store := newMemStore()
		store.Set(ctx, auth.KeyOAuthState, "s1")
		h := NewOAuthHandler(testConfig("http://unused"), store, nil)

		rec := callback(h, "state=forged&code=good")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if result := <-h.Result(); !errors.Is(result.Error(), shared.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", result.Error())
		}
		if v, _ := store.Get(ctx, auth.KeyOAuthState); v != "" {
			t.Error("expected state to be consumed after a failed attempt")
		}
	})

	t.Run("No Stored State", func(t *testing.T) {
		h := NewOAuthHandler(testConfig("http://unused"), newMemStore(), nil)

		callback(h, "state=&code=good")
		if result := <-h.Result(); !errors.Is(result.Error(), shared.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", result.Error())
		}
	})

	t.Run("Provider Error", func(t *testing.T) {
		store := newMemStore()
		store.Set(ctx, auth.KeyOAuthState, "s1")
		h := NewOAuthHandler(testConfig("http://unused"), store, nil)

		rec := callback(h, "state=s1&error=access_denied&error_description=user+declined")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		result := <-h.Result()
		if !errors.Is(result.Error(), shared.ErrAuthFailed) || !strings.Contains(result.Error().Error(), "user declined") {
			t.Errorf("expected ErrAuthFailed with description, got %v", result.Error())
		}
	})

	t.Run("Exchange Failure", func(t *testing.T) {
		tokens := tokenServer(t)
		store := newMemStore()
		store.Set(ctx, auth.KeyOAuthState, "s1")
		h := NewOAuthHandler(testConfig(tokens.URL), store, nil)

		rec := callback(h, "state=s1&code=bad")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if result := <-h.Result(); !errors.Is(result.Error(), shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", result.Error())
		}
	})

	t.Run("Second Callback Rejected", func(t *testing.T) {
		tokens := tokenServer(t)
		store := newMemStore()
		store.Set(ctx, auth.KeyOAuthState, "s1")
		h := NewOAuthHandler(testConfig(tokens.URL), store, nil)

		callback(h, "state=s1&code=good")
		rec := callback(h, "state=s1&code=good")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected replay to be rejected, got %d", rec.Code)
		}
	})
}

func TestBasicRouter(t *testing.T) {
	t.Run("Method Filtering", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle(http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("Middleware Order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, req)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"), RequestLogger(nil))
		r.Handler(NewOAuthHandler(testConfig("http://unused"), newMemStore(), nil))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/callback", nil))
		if strings.Join(order, ",") != "first,second" {
			t.Errorf("expected first,second got %v", order)
		}
	})
}
