package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
)

type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore() *memStore { return &memStore{values: map[string]string{}} }

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// authServer fakes the same-origin auth route. A refresh succeeds only while
// the client presents the refresh cookie set by /login.
type authServer struct {
	*httptest.Server
	refreshes  atomic.Int32
	validToken string
	nextToken  string
	delay      time.Duration
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	a := &authServer{validToken: "good", nextToken: "fresh"}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "refresh", Value: "r1", Path: "/", HttpOnly: true})
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		a.refreshes.Add(1)
		time.Sleep(a.delay)
		if c, err := r.Cookie("refresh"); err != nil || c.Value != "r1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": a.nextToken})
	})
	mux.HandleFunc("DELETE /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "refresh", Value: "", Path: "/", MaxAge: -1})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+a.validToken && auth != "Bearer "+a.nextToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(models.User{ID: "u1", Email: "dev@example.com"})
	})
	a.Server = httptest.NewServer(mux)
	t.Cleanup(a.Close)
	return a
}

func (a *authServer) remote(t *testing.T, withCookie bool) *HTTPRemote {
	t.Helper()
	r, err := NewHTTPRemote(a.URL, nil)
	if err != nil {
		t.Fatalf("failed to create remote: %v", err)
	}
	if withCookie {
		resp, err := r.HTTPClient().Get(a.URL + "/login")
		if err != nil {
			t.Fatalf("failed to obtain cookie: %v", err)
		}
		resp.Body.Close()
	}
	return r
}

func TestSessionRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("Stored Token Validated", func(t *testing.T) {
		srv := newAuthServer(t)
		store := newMemStore()
		store.Set(ctx, KeyAccessToken, "good")

		s := NewSession(srv.remote(t, false), store, nil)
		if s.State() != StateLoading {
			t.Fatalf("expected loading before restore, got %s", s.State())
		}

		if got := s.Restore(ctx); got != StateAuthenticated {
			t.Fatalf("expected authenticated, got %s", got)
		}
		if s.Token() != "good" {
			t.Errorf("expected stored token, got %q", s.Token())
		}
		if s.User() == nil || s.User().ID != "u1" {
			t.Errorf("expected user u1, got %+v", s.User())
		}
		if srv.refreshes.Load() != 0 {
			t.Error("expected no refresh when stored token is valid")
		}
	})

	t.Run("Cancelled Restore Keeps Mirror", func(t *testing.T) {
		srv := newAuthServer(t)
		store := newMemStore()
		store.Set(ctx, KeyAccessToken, "good")

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		s := NewSession(srv.remote(t, true), store, nil)
		if got := s.Restore(cancelled); got != StateUnauthenticated {
			t.Fatalf("expected unauthenticated, got %s", got)
		}
		if v, _ := store.Get(ctx, KeyAccessToken); v != "good" {
			t.Errorf("expected mirror to be kept, got %q", v)
		}
	})

	t.Run("Falls Back To Refresh Cookie", func(t *testing.T) {
		srv := newAuthServer(t)
		store := newMemStore()
		store.Set(ctx, KeyAccessToken, "stale")

		s := NewSession(srv.remote(t, true), store, nil)
		if got := s.Restore(ctx); got != StateAuthenticated {
			t.Fatalf("expected authenticated, got %s", got)
		}
		if s.Token() != "fresh" {
			t.Errorf("expected refreshed token, got %q", s.Token())
		}
		if v, _ := store.Get(ctx, KeyAccessToken); v != "fresh" {
			t.Errorf("expected mirror to hold refreshed token, got %q", v)
		}
	})

	t.Run("Unauthenticated Without Credentials", func(t *testing.T) {
		srv := newAuthServer(t)
		store := newMemStore()
		store.Set(ctx, KeyAccessToken, "stale")

		s := NewSession(srv.remote(t, false), store, nil)
		if got := s.Restore(ctx); got != StateUnauthenticated {
			t.Fatalf("expected unauthenticated, got %s", got)
		}
		if s.Token() != "" {
			t.Errorf("expected empty token, got %q", s.Token())
		}
		if v, _ := store.Get(ctx, KeyAccessToken); v != "" {
			t.Errorf("expected mirror to be cleared, got %q", v)
		}
	})
}

func TestSessionHandleUnauthorized(t *testing.T) {
	ctx := context.Background()

	t.Run("Refresh Installs New Token", func(t *testing.T) {
		srv := newAuthServer(t)
		s := NewSession(srv.remote(t, true), newMemStore(), nil)
		if err := s.Login(ctx, "good"); err != nil {
			t.Fatalf("login failed: %v", err)
		}

		var seen []string
		s.OnChange(func(token string) { seen = append(seen, token) })

		if err := s.HandleUnauthorized(ctx); err != nil {
			t.Fatalf("expected refresh to succeed, got %v", err)
		}
		if s.Token() != "fresh" || s.State() != StateAuthenticated {
			t.Errorf("expected fresh token and authenticated, got %q %s", s.Token(), s.State())
		}
		if len(seen) != 1 || seen[0] != "fresh" {
			t.Errorf("expected one change notification, got %v", seen)
		}
	})

	t.Run("Failed Refresh Tears Down", func(t *testing.T) {
		srv := newAuthServer(t)
		store := newMemStore()
		s := NewSession(srv.remote(t, false), store, nil)
		if err := s.Login(ctx, "good"); err != nil {
			t.Fatalf("login failed: %v", err)
		}

		var cleared bool
		s.OnChange(func(token string) { cleared = token == "" })

		err := s.HandleUnauthorized(ctx)
		if !errors.Is(err, shared.ErrRefreshFailed) {
			t.Fatalf("expected ErrRefreshFailed, got %v", err)
		}
		if s.Token() != "" || s.State() != StateUnauthenticated {
			t.Errorf("expected torn down session, got %q %s", s.Token(), s.State())
		}
		if v, _ := store.Get(ctx, KeyAccessToken); v != "" {
			t.Errorf("expected mirror to be cleared, got %q", v)
		}
		if !cleared {
			t.Error("expected listeners to observe the cleared token")
		}
	})

	t.Run("Cancelled Caller Keeps Session", func(t *testing.T) {
		srv := newAuthServer(t)
		srv.delay = 200 * time.Millisecond
		store := newMemStore()
		s := NewSession(srv.remote(t, true), store, nil)
		if err := s.Login(ctx, "good"); err != nil {
			t.Fatalf("login failed: %v", err)
		}

		patient := make(chan error, 1)
		go func() { patient <- s.HandleUnauthorized(ctx) }()

		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if err := s.HandleUnauthorized(short); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		if s.State() != StateAuthenticated || s.Token() != "good" {
			t.Errorf("expected session to survive the cancelled caller, got %q %s", s.Token(), s.State())
		}

		select {
		case err := <-patient:
			if err != nil {
				t.Fatalf("expected shared refresh to succeed, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("shared refresh never finished")
		}

		if s.Token() != "fresh" || s.State() != StateAuthenticated {
			t.Errorf("expected refreshed token, got %q %s", s.Token(), s.State())
		}
		if v, _ := store.Get(ctx, KeyAccessToken); v != "fresh" {
			t.Errorf("expected mirror to hold the refreshed token, got %q", v)
		}
		if n := srv.refreshes.Load(); n != 1 {
			t.Errorf("expected one refresh exchange, got %d", n)
		}
	})

	t.Run("Concurrent 401s Share One Refresh", func(t *testing.T) {
		srv := newAuthServer(t)
		srv.delay = 50 * time.Millisecond
		s := NewSession(srv.remote(t, true), nil, nil)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.HandleUnauthorized(ctx)
			}()
		}
		wg.Wait()

		if n := srv.refreshes.Load(); n != 1 {
			t.Errorf("expected a single refresh exchange, got %d", n)
		}
		if s.Token() != "fresh" {
			t.Errorf("expected fresh token, got %q", s.Token())
		}
	})
}

func TestSessionLoginLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("Login Rejects Empty Token", func(t *testing.T) {
		srv := newAuthServer(t)
		s := NewSession(srv.remote(t, false), nil, nil)
		if err := s.Login(ctx, ""); !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("Logout Clears Cookie And Token", func(t *testing.T) {
		srv := newAuthServer(t)
		store := newMemStore()
		s := NewSession(srv.remote(t, true), store, nil)
		if err := s.Login(ctx, "good"); err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if v, _ := store.Get(ctx, KeyAccessToken); v != "good" {
			t.Errorf("expected token mirrored on login, got %q", v)
		}

		if err := s.Logout(ctx); err != nil {
			t.Fatalf("logout failed: %v", err)
		}
		if s.State() != StateUnauthenticated || s.Token() != "" {
			t.Errorf("expected unauthenticated, got %s %q", s.State(), s.Token())
		}

		if err := s.HandleUnauthorized(ctx); err == nil {
			t.Error("expected refresh to fail after the cookie was revoked")
		}
	})

	t.Run("OnChange Unsubscribe", func(t *testing.T) {
		srv := newAuthServer(t)
		s := NewSession(srv.remote(t, false), nil, nil)

		calls := 0
		unsubscribe := s.OnChange(func(string) { calls++ })
		unsubscribe()
		unsubscribe()

		if err := s.Login(ctx, "good"); err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if calls != 0 {
			t.Errorf("expected no calls after unsubscribe, got %d", calls)
		}
	})

	t.Run("TokenSource", func(t *testing.T) {
		srv := newAuthServer(t)
		s := NewSession(srv.remote(t, false), nil, nil)

		if _, err := s.TokenSource().Token(); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}

		if err := s.Login(ctx, "good"); err != nil {
			t.Fatalf("login failed: %v", err)
		}
		tok, err := s.TokenSource().Token()
		if err != nil || tok.AccessToken != "good" || tok.TokenType != "Bearer" {
			t.Errorf("unexpected token %+v, %v", tok, err)
		}
	})
}

func TestHTTPRemote(t *testing.T) {
	t.Run("Requires Base URL", func(t *testing.T) {
		if _, err := NewHTTPRemote("", nil); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("Me Maps 401", func(t *testing.T) {
		srv := newAuthServer(t)
		_, err := srv.remote(t, false).Me(context.Background(), "bogus")
		if !errors.Is(err, shared.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})
}
