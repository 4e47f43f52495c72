package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionCookieName  = "session_jwt"
	verifierCookieName = "code_verifier"
	stateCookieName    = "state"
)

// Session is the entire server-side view of a logged-in browser. It is
// carried inside a signed JWT in the session cookie; the gateway keeps
// no session table.
type Session struct {
	RefreshToken string
	Expire       time.Time
	Subject      string
}

// Expired reports whether the session needs a refresh before use.
func (s Session) Expired(now time.Time) bool {
	return !s.Expire.After(now)
}

type sessionClaims struct {
	RefreshToken string `json:"refresh_token"`
	Expire       int64  `json:"expire"`
	jwt.RegisteredClaims
}

// SessionCodec signs sessions into self-contained tokens and verifies
// them on the way back in. The expiry is a private claim rather than
// "exp" so an expired session still decodes and yields its refresh
// token for rotation.
type SessionCodec struct {
	secret []byte
}

// NewSessionCodec constructs a codec over the shared signing secret.
func NewSessionCodec(secret string) *SessionCodec {
	return &SessionCodec{secret: []byte(secret)}
}

// Encode produces the signed session token. A session without a refresh
// token is unusable once expired, so encoding one is refused.
func (c *SessionCodec) Encode(s Session) (string, error) {
	if s.RefreshToken == "" {
		return "", fmt.Errorf("encode session: %w", ErrMissingRefreshToken)
	}

	claims := sessionClaims{
		RefreshToken: s.RefreshToken,
		Expire:       s.Expire.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: s.Subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Decode verifies the token signature and reconstructs the session.
// Any tampering or malformed input yields ErrSessionInvalid.
func (c *SessionCodec) Decode(raw string) (Session, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	}

	if claims.RefreshToken == "" {
		return Session{}, fmt.Errorf("%w: missing refresh token claim", ErrSessionInvalid)
	}

	return Session{
		RefreshToken: claims.RefreshToken,
		Expire:       time.Unix(claims.Expire, 0),
		Subject:      claims.Subject,
	}, nil
}

// SessionManager handles the session cookie and the transient
// login-attempt cookies.
type SessionManager struct {
	codec      *SessionCodec
	ttl        time.Duration
	attemptTTL time.Duration
	secure     bool
	sameSite   http.SameSite
	now        func() time.Time
}

// NewSessionManager constructs a session manager honouring config.
func NewSessionManager(cfg Config) *SessionManager {
	return &SessionManager{
		codec:      NewSessionCodec(cfg.Session.Secret),
		ttl:        cfg.Session.TTLDuration(),
		attemptTTL: DefaultLoginAttemptTTL,
		secure:     !cfg.Server.DevMode,
		// Lax so the cookies survive the provider's cross-site redirect
		// back to /callback.
		sameSite: http.SameSiteLaxMode,
		now:      time.Now,
	}
}

// Codec exposes the underlying codec, mainly for tests.
func (sm *SessionManager) Codec() *SessionCodec {
	return sm.codec
}

// Issue builds a session expiring one TTL from now, encodes it, and
// writes the session cookie. Used at callback success and after every
// refresh rotation.
func (sm *SessionManager) Issue(w http.ResponseWriter, refreshToken, subject string) (Session, error) {
	sess := Session{
		RefreshToken: refreshToken,
		Expire:       sm.now().Add(sm.ttl),
		Subject:      subject,
	}

	encoded, err := sm.codec.Encode(sess)
	if err != nil {
		return Session{}, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
	})
	return sess, nil
}

// Fetch decodes the session cookie if present. ok is false when there
// is no cookie at all; a present but unverifiable cookie returns an
// error wrapping ErrSessionInvalid.
func (sm *SessionManager) Fetch(r *http.Request) (Session, bool, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return Session{}, false, nil
	}
	sess, err := sm.codec.Decode(cookie.Value)
	if err != nil {
		return Session{}, true, err
	}
	return sess, true, nil
}

// Clear removes the session cookie. Idempotent.
func (sm *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
		MaxAge:   -1,
	})
}

// StoreLoginAttempt writes the transient verifier and state cookies for
// a new login attempt.
func (sm *SessionManager) StoreLoginAttempt(w http.ResponseWriter, attempt LoginAttempt) {
	maxAge := int(sm.attemptTTL.Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     verifierCookieName,
		Value:    attempt.Verifier,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    attempt.State,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
	})
}

// ConsumeLoginAttempt reads the transient cookies and deletes them
// regardless of what happens next, so a consumed attempt can never be
// replayed.
func (sm *SessionManager) ConsumeLoginAttempt(w http.ResponseWriter, r *http.Request) (verifier, state string) {
	if c, err := r.Cookie(verifierCookieName); err == nil {
		verifier = c.Value
	}
	if c, err := r.Cookie(stateCookieName); err == nil {
		state = c.Value
	}

	for _, name := range []string{verifierCookieName, stateCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: sm.sameSite,
		})
	}
	return verifier, state
}

// IsSessionInvalid reports whether err came from a failed decode rather
// than an absent cookie.
func IsSessionInvalid(err error) bool {
	return errors.Is(err, ErrSessionInvalid)
}
