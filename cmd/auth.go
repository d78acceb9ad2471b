package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/genx/internal/auth"
	"github.com/desertthunder/genx/internal/server"
	"github.com/desertthunder/genx/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const loginTimeout = 2 * time.Minute

// AuthLogin runs the browser login round trip and installs the returned access token.
//
// Starts a local callback server, opens the authorization URL and exchanges the code.
// The exchange uses the auth remote's client so the refresh cookie lands in its jar.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(ctx); err != nil {
		return err
	}

	config := server.NewOAuthConfig(r.config.OAuth)
	authURL, err := server.PrepareLogin(ctx, config, r.store)
	if err != nil {
		return err
	}

	token, err := r.doOAuth(ctx, config, authURL, !cmd.Bool("no-browser"))
	if err != nil {
		return err
	}

	if err := r.session.Login(ctx, token.AccessToken); err != nil {
		return err
	}

	r.writePlainln("✓ Signed in")
	if user := r.session.User(); user != nil {
		r.writePlain("Account: %s\n", user.Email)
	}
	return r.writePlain("You can now use: genx generate image \"a lighthouse at dusk\"\n")
}

func (r *Runner) doOAuth(ctx context.Context, config *oauth2.Config, authURL string, openBrowser bool) (*oauth2.Token, error) {
	oauthHandler := server.NewOAuthHandler(config, r.store, r.remote.HTTPClient())
	router := server.NewBasicRouter()
	router.Use(server.RequestLogger(r.logger))
	router.Handler(oauthHandler)

	serverAddr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	httpServer := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server at %v", serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	opened := false
	if openBrowser {
		r.writePlain("→ Opening browser to sign in...\n")
		if err := shared.OpenBrowser(authURL); err != nil {
			r.logger.Warnf("failed to open browser automatically %v", err)
		} else {
			opened = true
		}
	}
	if !opened {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(loginTimeout)
	defer timeout.Stop()

	var result server.OAuthResult
	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}
	return result.Token, nil
}

// AuthLogout revokes the refresh cookie and clears the stored token.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(ctx); err != nil {
		return err
	}

	if err := r.session.Logout(ctx); err != nil {
		r.writePlain("⚠ Could not revoke the refresh cookie: %v\n", err)
	}
	return r.writePlain("✓ Signed out\n")
}

type authStatus struct {
	State   auth.State `json:"state"`
	Email   string     `json:"email,omitempty"`
	Name    string     `json:"name,omitempty"`
	Backend string     `json:"session_backend"`
	Push    string     `json:"push"`
}

// AuthStatus restores the session silently and reports the result.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(ctx); err != nil {
		return err
	}

	status := authStatus{
		State:   r.session.State(),
		Backend: r.config.Session.Backend,
		Push:    string(r.push.State()),
	}
	if user := r.session.User(); user != nil {
		status.Email, status.Name = user.Email, user.Name
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}

	r.writePlainHeader("Session")
	if status.State != auth.StateAuthenticated {
		r.writePlain("Authentication: ✗ Not signed in\n")
		return r.writePlain("Run 'genx auth login' to sign in.\n")
	}
	r.writePlain("Authentication: ✓ Signed in\n")
	if status.Email != "" {
		r.writePlain("Account: %s\n", status.Email)
	}
	r.writePlain("Session store: %s\n", status.Backend)
	return r.writePlain("Push channel: %s\n", status.Push)
}

// AuthRefresh forces a refresh exchange.
func (r *Runner) AuthRefresh(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(ctx); err != nil {
		return err
	}

	if err := r.session.HandleUnauthorized(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Access token refreshed\n")
}

// AuthImport copies the cookies of a saved browser request into the auth remote's jar
// and restores the session from them. Useful where no browser can reach the callback server.
func (r *Runner) AuthImport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("file")
	if path == "" {
		return fmt.Errorf("%w: file", shared.ErrMissingArgument)
	}

	request, err := shared.ParseCurlFile(path)
	if err != nil {
		return err
	}
	cookies, err := request.Cookies()
	if err != nil {
		return err
	}

	if err := r.connect(ctx); err != nil {
		return err
	}
	if err := r.remote.ImportCookies(cookies); err != nil {
		return err
	}
	r.logger.Debug("imported browser cookies", "count", len(cookies), "url", request.URL)

	if err := r.session.HandleUnauthorized(ctx); err != nil {
		return err
	}
	if err := r.session.Login(ctx, r.session.Token()); err != nil {
		return err
	}

	r.writePlain("✓ Signed in from %d imported cookies\n", len(cookies))
	if user := r.session.User(); user != nil {
		r.writePlain("Account: %s\n", user.Email)
	}
	return nil
}
