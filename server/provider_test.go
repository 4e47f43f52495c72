package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// fakeOP serves just enough of an OIDC provider for discovery and the
// token endpoint.
func fakeOP(t *testing.T, tokenHandler http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"keys":[]}`)
	})
	mux.HandleFunc("/token", tokenHandler)

	return srv
}

func providerConfigFor(srv *httptest.Server) ProviderConfig {
	return ProviderConfig{
		Issuer:       srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://127.0.0.1:8080/callback",
		Scopes:       []string{"openid", "offline_access"},
	}
}

func TestNewProviderDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewProvider(context.Background(), providerConfigFor(srv))
	if !IsDiscoveryError(err) {
		t.Fatalf("error = %v, want discovery error", err)
	}
}

func TestAuthCodeURLCarriesChallenge(t *testing.T) {
	srv := fakeOP(t, func(w http.ResponseWriter, r *http.Request) {})

	p, err := NewProvider(context.Background(), providerConfigFor(srv))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}

	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	authURL, err := url.Parse(p.AuthCodeURL("st-1", verifier))
	if err != nil {
		t.Fatalf("parse auth URL: %v", err)
	}

	q := authURL.Query()
	if q.Get("state") != "st-1" {
		t.Fatalf("state = %q, want st-1", q.Get("state"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Fatalf("code_challenge_method = %q, want S256", q.Get("code_challenge_method"))
	}
	if q.Get("code_challenge") != "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM" {
		t.Fatalf("code_challenge = %q", q.Get("code_challenge"))
	}
	if q.Get("client_id") != "client" {
		t.Fatalf("client_id = %q, want client", q.Get("client_id"))
	}
}

func TestExchangeSendsVerifier(t *testing.T) {
	var gotVerifier, gotCode, gotGrant string

	srv := fakeOP(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		gotVerifier = r.PostForm.Get("code_verifier")
		gotCode = r.PostForm.Get("code")
		gotGrant = r.PostForm.Get("grant_type")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","token_type":"Bearer","refresh_token":"rt-1","expires_in":3600}`)
	})

	p, err := NewProvider(context.Background(), providerConfigFor(srv))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}

	result, err := p.Exchange(context.Background(), "the-code", "the-verifier")
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}

	if gotGrant != "authorization_code" || gotCode != "the-code" || gotVerifier != "the-verifier" {
		t.Fatalf("token request = (grant=%q, code=%q, verifier=%q)", gotGrant, gotCode, gotVerifier)
	}
	if result.AccessToken != "at-1" || result.RefreshToken != "rt-1" {
		t.Fatalf("result = %+v", result)
	}
}

func TestExchangeErrorWrapsCodeExchange(t *testing.T) {
	srv := fakeOP(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})

	p, err := NewProvider(context.Background(), providerConfigFor(srv))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}

	if _, err := p.Exchange(context.Background(), "bad", "v"); !IsCodeExchangeError(err) {
		t.Fatalf("error = %v, want code exchange error", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	var gotGrant, gotRefresh string

	srv := fakeOP(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		gotGrant = r.PostForm.Get("grant_type")
		gotRefresh = r.PostForm.Get("refresh_token")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-2","token_type":"Bearer","refresh_token":"rt-rotated","expires_in":3600}`)
	})

	p, err := NewProvider(context.Background(), providerConfigFor(srv))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}

	result, err := p.Refresh(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if gotGrant != "refresh_token" || gotRefresh != "rt-old" {
		t.Fatalf("token request = (grant=%q, refresh=%q)", gotGrant, gotRefresh)
	}
	if result.RefreshToken != "rt-rotated" {
		t.Fatalf("refresh token = %q, want rt-rotated", result.RefreshToken)
	}
}

func TestRefreshRetainsTokenWhenNotRotated(t *testing.T) {
	srv := fakeOP(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-3","token_type":"Bearer","expires_in":3600}`)
	})

	p, err := NewProvider(context.Background(), providerConfigFor(srv))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}

	result, err := p.Refresh(context.Background(), "rt-keep")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if result.RefreshToken != "rt-keep" {
		t.Fatalf("refresh token = %q, want the retained rt-keep", result.RefreshToken)
	}
}

func TestRefreshErrorWrapsRefreshGrant(t *testing.T) {
	srv := fakeOP(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})

	p, err := NewProvider(context.Background(), providerConfigFor(srv))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}

	if _, err := p.Refresh(context.Background(), "rt-revoked"); !IsRefreshGrantError(err) {
		t.Fatalf("error = %v, want refresh grant error", err)
	}
}
