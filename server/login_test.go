package server

import (
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

const verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

func TestNewLoginAttemptVerifierShape(t *testing.T) {
	attempt, err := NewLoginAttempt()
	if err != nil {
		t.Fatalf("NewLoginAttempt returned error: %v", err)
	}

	if n := len(attempt.Verifier); n < 43 || n > 128 {
		t.Fatalf("verifier length %d outside [43, 128]", n)
	}
	for _, c := range attempt.Verifier {
		if !strings.ContainsRune(verifierCharset, c) {
			t.Fatalf("verifier contains disallowed character %q", c)
		}
	}
	if attempt.State == "" {
		t.Fatalf("state must not be empty")
	}
}

func TestChallengeMatchesKnownVector(t *testing.T) {
	// Test vector from RFC 7636 appendix B.
	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	const want = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if got := oauth2.S256ChallengeFromVerifier(verifier); got != want {
		t.Fatalf("challenge = %q, want %q", got, want)
	}
}

func TestNewLoginAttemptChallengeDerivation(t *testing.T) {
	attempt, err := NewLoginAttempt()
	if err != nil {
		t.Fatalf("NewLoginAttempt returned error: %v", err)
	}
	if attempt.Challenge != oauth2.S256ChallengeFromVerifier(attempt.Verifier) {
		t.Fatalf("challenge does not match S256 of verifier")
	}
}

func TestNewLoginAttemptValuesNotReused(t *testing.T) {
	seenVerifiers := map[string]bool{}
	seenStates := map[string]bool{}

	for i := 0; i < 50; i++ {
		attempt, err := NewLoginAttempt()
		if err != nil {
			t.Fatalf("NewLoginAttempt returned error: %v", err)
		}
		if seenVerifiers[attempt.Verifier] {
			t.Fatalf("verifier reused across attempts")
		}
		if seenStates[attempt.State] {
			t.Fatalf("state reused across attempts")
		}
		seenVerifiers[attempt.Verifier] = true
		seenStates[attempt.State] = true
	}
}
