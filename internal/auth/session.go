package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// State is the session lifecycle state.
type State string

const (
	StateLoading         State = "loading"
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
)

// refreshTimeout bounds one refresh exchange independently of the callers waiting on it.
const refreshTimeout = 30 * time.Second

// Store keys mirrored by the session and the login callback.
const (
	KeyAccessToken = "access_token"
	KeyOAuthState  = "oauth_state"
)

// Store is a recoverable key/value mirror for client-side session values.
//
// Get returns "" and a nil error for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type listener struct {
	fn      func(token string)
	removed bool
}

// Session holds the current access token.
type Session struct {
	remote Remote
	store  Store
	logger *log.Logger

	refreshes singleflight.Group

	mu        sync.Mutex
	token     string
	state     State
	user      *models.User
	listeners []*listener
}

// NewSession creates a session in the loading state. A nil store disables mirroring.
func NewSession(remote Remote, store Store, logger *log.Logger) *Session {
	return &Session{
		remote: remote,
		store:  store,
		logger: shared.WithLogger(logger, "component", "auth"),
		state:  StateLoading,
	}
}

// Token returns the current access token, or "" when there is none.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the identity validated during restore, if any.
func (s *Session) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// OnChange registers fn to be called with the new token whenever it changes.
// The returned function unregisters it and may be called more than once.
func (s *Session) OnChange(fn func(token string)) func() {
	l := &listener{fn: fn}

	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		l.removed = true
		for i, other := range s.listeners {
			if other == l {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Restore attempts a silent restore from the mirrored token, then from the refresh cookie.
func (s *Session) Restore(ctx context.Context) State {
	s.setState(StateLoading)

	if token := s.load(ctx); token != "" {
		user, err := s.remote.Me(ctx, token)
		if err == nil {
			s.install(ctx, token, user)
			return StateAuthenticated
		}
		s.logger.Debug("stored token rejected", "error", err)
	}

	token, err := s.remote.Refresh(ctx)
	if err != nil && ctx.Err() != nil {
		// Abandoned, not rejected: keep the mirror for the next restore.
		s.setState(StateUnauthenticated)
		return StateUnauthenticated
	}
	if err != nil {
		s.logger.Debug("refresh during restore failed", "error", err)
		s.teardown(ctx)
		return StateUnauthenticated
	}

	user, err := s.remote.Me(ctx, token)
	if err != nil {
		s.logger.Debug("refreshed token has no identity", "error", err)
	}
	s.install(ctx, token, user)
	return StateAuthenticated
}

// HandleUnauthorized refreshes the access token after a 401.
//
// Concurrent callers share one refresh exchange. On failure the session is torn down
// and the returned error wraps [shared.ErrRefreshFailed]. The failing request is not retried.
// A caller whose ctx ends gets ctx.Err() and the exchange carries on for the others.
func (s *Session) HandleUnauthorized(ctx context.Context) error {
	ch := s.refreshes.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		token, err := s.remote.Refresh(rctx)
		if err != nil {
			s.logger.Warn("token refresh failed, signing out", "error", err)
			s.teardown(rctx)
			if errors.Is(err, shared.ErrRefreshFailed) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
		}

		s.install(rctx, token, s.User())
		s.logger.Debug("token refreshed")
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login installs a token obtained from the login callback.
func (s *Session) Login(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty access token", shared.ErrAuthFailed)
	}

	user, err := s.remote.Me(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}
	s.install(ctx, token, user)
	return nil
}

// Logout clears the refresh cookie server side and tears the session down.
// The local teardown happens even when revocation fails.
func (s *Session) Logout(ctx context.Context) error {
	err := s.remote.Revoke(ctx)
	if err != nil {
		s.logger.Warn("failed to revoke refresh cookie", "error", err)
	}
	s.teardown(ctx)
	return err
}

// TokenSource adapts the session to [oauth2.TokenSource].
func (s *Session) TokenSource() oauth2.TokenSource { return tokenSource{s} }

type tokenSource struct{ s *Session }

func (t tokenSource) Token() (*oauth2.Token, error) {
	token := t.s.Token()
	if token == "" {
		return nil, shared.ErrNotAuthenticated
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) load(ctx context.Context) string {
	if s.store == nil {
		return ""
	}
	token, err := s.store.Get(ctx, KeyAccessToken)
	if err != nil {
		s.logger.Warn("failed to read stored token", "error", err)
		return ""
	}
	return token
}

func (s *Session) install(ctx context.Context, token string, user *models.User) {
	s.mu.Lock()
	changed := s.token != token
	s.token = token
	s.user = user
	s.state = StateAuthenticated
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Set(ctx, KeyAccessToken, token); err != nil {
			s.logger.Warn("failed to mirror token", "error", err)
		}
	}
	if changed {
		s.notify(token)
	}
}

func (s *Session) teardown(ctx context.Context) {
	s.mu.Lock()
	changed := s.token != ""
	s.token = ""
	s.user = nil
	s.state = StateUnauthenticated
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(ctx, KeyAccessToken); err != nil {
			s.logger.Warn("failed to clear mirrored token", "error", err)
		}
	}
	if changed {
		s.notify("")
	}
}

// notify runs listeners outside the lock in registration order.
func (s *Session) notify(token string) {
	s.mu.Lock()
	snapshot := append([]*listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range snapshot {
		s.mu.Lock()
		removed := l.removed
		s.mu.Unlock()
		if !removed {
			l.fn(token)
		}
	}
}
