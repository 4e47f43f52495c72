package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// Identity headers injected for the upstream application.
const (
	headerAuthSubject = "X-Auth-Subject"
	headerAuthExpiry  = "X-Auth-Session-Expiry"
)

// UpstreamProxy forwards gated requests to the application behind the
// gateway, translating the resolved session into identity headers. The
// session cookie itself never reaches the upstream.
type UpstreamProxy struct {
	target      *url.URL
	proxy       *httputil.ReverseProxy
	requireAuth bool
	logger      *slog.Logger
}

// NewUpstreamProxy creates the reverse proxy from configuration.
func NewUpstreamProxy(cfg UpstreamConfig, logger *slog.Logger) (*UpstreamProxy, error) {
	targetURL, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream target: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	proxy := httputil.NewSingleHostReverseProxy(targetURL)
	proxy.Transport = transport

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)

		if !cfg.PreserveHost {
			req.Host = targetURL.Host
		}

		if clientIP, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
			prior := req.Header.Get("X-Forwarded-For")
			if prior != "" {
				clientIP = prior + ", " + clientIP
			}
			req.Header.Set("X-Forwarded-For", clientIP)
		}
		req.Header.Set("X-Forwarded-Proto", schemeFromRequest(req))
		req.Header.Set("X-Forwarded-Host", req.Host)

		stripSessionCookie(req)

		req.Header.Del(headerAuthSubject)
		req.Header.Del(headerAuthExpiry)
		if sess, ok := SessionFromContext(req.Context()); ok {
			if sess.Subject != "" {
				req.Header.Set(headerAuthSubject, sess.Subject)
			}
			req.Header.Set(headerAuthExpiry, sess.Expire.UTC().Format(time.RFC3339))
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", "target", cfg.Target, "error", err, "path", r.URL.Path)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}

	return &UpstreamProxy{
		target:      targetURL,
		proxy:       proxy,
		requireAuth: cfg.RequireAuth,
		logger:      logger,
	}, nil
}

// ServeHTTP forwards the request, short-circuiting unauthenticated
// requests when the upstream requires identity.
func (up *UpstreamProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if up.requireAuth {
		if _, ok := SessionFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	up.proxy.ServeHTTP(w, r)
}

// stripSessionCookie removes the gateway's cookies from the forwarded
// request while leaving the application's own cookies untouched.
func stripSessionCookie(req *http.Request) {
	cookies := req.Cookies()
	req.Header.Del("Cookie")
	for _, c := range cookies {
		switch c.Name {
		case sessionCookieName, verifierCookieName, stateCookieName:
		default:
			req.AddCookie(c)
		}
	}
}

func schemeFromRequest(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
