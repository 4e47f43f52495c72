package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router. The auth endpoints sit outside the
// session gate; every other path runs through it before reaching the
// upstream or the identity page.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	r.Get("/login", a.handleLogin)
	r.Get("/callback", a.handleCallback)
	r.Get("/logout", a.handleLogout)
	r.Get("/healthz", a.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(a.SessionGate)
		r.Handle("/*", http.HandlerFunc(a.handleGated))
	})

	return r
}
