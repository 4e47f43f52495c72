package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// LoginAttempt holds the per-attempt PKCE pair and anti-CSRF state.
// Attempts are single-use: the browser carries them in short-lived
// cookies and the callback consumes them exactly once.
type LoginAttempt struct {
	Verifier  string
	Challenge string
	State     string
}

// NewLoginAttempt generates a fresh code verifier, its S256 challenge,
// and an independent random state. Values are never reused across
// attempts.
func NewLoginAttempt() (LoginAttempt, error) {
	verifier := oauth2.GenerateVerifier()

	state, err := randomToken()
	if err != nil {
		return LoginAttempt{}, fmt.Errorf("generate state: %w", err)
	}

	return LoginAttempt{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		State:     state,
	}, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
