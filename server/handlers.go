package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Provider IdentityProvider
	Sessions *SessionManager
	Upstream *UpstreamProxy
}

// NewApp wires together the application state from configuration. The
// provider discovery request happens here, once per process.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	provider, err := NewProvider(ctx, cfg.Provider)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Provider: provider,
		Sessions: NewSessionManager(cfg),
	}

	if cfg.Upstream.Target != "" {
		upstream, err := NewUpstreamProxy(cfg.Upstream, logger)
		if err != nil {
			return nil, err
		}
		app.Upstream = upstream
		logger.Info("upstream proxy configured", "target", cfg.Upstream.Target)
	}

	return app, nil
}

// handleLogin starts a fresh authorization-code flow: it stores the
// PKCE verifier and state in transient cookies and redirects the
// browser to the provider.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	attempt, err := NewLoginAttempt()
	if err != nil {
		a.Logger.Error("login attempt generation failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	a.Sessions.StoreLoginAttempt(w, attempt)

	authURL := a.Provider.AuthCodeURL(attempt.State, attempt.Verifier)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback validates the provider's redirect and exchanges the
// authorization code for tokens. The transient cookies are consumed
// before anything else so a replayed callback always fails.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	verifier, storedState := a.Sessions.ConsumeLoginAttempt(w, r)

	if err := a.completeLogin(w, r, verifier, storedState); err != nil {
		a.Logger.Warn("callback rejected", "error", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	writeJSON(w, map[string]any{"status": "logged_in"})
}

func (a *App) completeLogin(w http.ResponseWriter, r *http.Request, verifier, storedState string) error {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")

	if code == "" || state == "" {
		return errors.New("missing code or state")
	}
	if verifier == "" || storedState == "" {
		return errors.New("no login attempt in progress")
	}
	if state != storedState {
		return ErrStateMismatch
	}

	result, err := a.Provider.Exchange(r.Context(), code, verifier)
	if err != nil {
		return err
	}
	if result.RefreshToken == "" {
		// offline_access was not granted; without it the session can
		// never outlive its first expiry.
		return ErrMissingRefreshToken
	}

	if _, err := a.Sessions.Issue(w, result.RefreshToken, result.Subject); err != nil {
		return err
	}
	return nil
}

// handleLogout deletes the session cookie. Calling it without an
// active session is a no-op success.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.Sessions.Clear(w)
	writeJSON(w, map[string]any{"status": "logged_out"})
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleGated serves everything behind the session gate: either the
// configured upstream or the built-in identity page.
func (a *App) handleGated(w http.ResponseWriter, r *http.Request) {
	if a.Upstream != nil {
		a.Upstream.ServeHTTP(w, r)
		return
	}
	a.handleWhoAmI(w, r)
}

// handleWhoAmI exposes the identity resolved by the gate, or its
// absence, to the caller.
func (a *App) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, map[string]any{"authenticated": false})
		return
	}

	resp := map[string]any{
		"authenticated": true,
		"expires_at":    sess.Expire.UTC().Format(time.RFC3339),
	}
	if sess.Subject != "" {
		resp["sub"] = sess.Subject
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
