package server

import "errors"

// Error taxonomy for the authentication flow. Callback-time errors are
// surfaced to the browser as a 401; mid-session errors degrade the
// request to unauthenticated instead of failing it.
var (
	// ErrDiscovery indicates the provider metadata could not be resolved.
	ErrDiscovery = errors.New("provider discovery failed")

	// ErrStateMismatch indicates the state returned by the provider does
	// not match the one issued to this browser.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrCodeExchange indicates the authorization code could not be
	// exchanged for tokens.
	ErrCodeExchange = errors.New("code exchange failed")

	// ErrMissingRefreshToken indicates the provider granted no refresh
	// token; the flow requires offline access.
	ErrMissingRefreshToken = errors.New("no refresh token in token response")

	// ErrRefreshGrant indicates the provider rejected a refresh-token
	// grant, e.g. because the grant was revoked or expired.
	ErrRefreshGrant = errors.New("refresh grant rejected")

	// ErrSessionInvalid indicates a session token failed signature
	// verification or decoding.
	ErrSessionInvalid = errors.New("invalid session token")
)

// IsDiscoveryError reports whether err came from provider discovery.
func IsDiscoveryError(err error) bool {
	return errors.Is(err, ErrDiscovery)
}

// IsCodeExchangeError reports whether err came from the code exchange.
func IsCodeExchangeError(err error) bool {
	return errors.Is(err, ErrCodeExchange)
}

// IsRefreshGrantError reports whether err came from a refresh grant.
func IsRefreshGrantError(err error) bool {
	return errors.Is(err, ErrRefreshGrant)
}
