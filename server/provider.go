package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// TokenResult carries the outcome of a code exchange or refresh grant.
// The access token is never persisted by the gateway; the subject comes
// from the verified id_token when the provider returned one.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	Subject      string
}

// IdentityProvider represents the minimal behaviour required from the
// OIDC provider so handlers and the session gate can be tested against
// fakes.
type IdentityProvider interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (TokenResult, error)
	Refresh(ctx context.Context, refreshToken string) (TokenResult, error)
}

// Provider wraps the discovered OIDC provider metadata and the OAuth2
// client configuration. Metadata is resolved once at startup and
// immutable afterwards.
type Provider struct {
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

// NewProvider resolves provider metadata via OIDC discovery and builds
// the OAuth2 configuration. The discovery request and all later token
// endpoint calls use a pooled client bounded by the configured timeout.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.HTTPTimeout()

	op, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, oidc.ScopeOfflineAccess}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     op.Endpoint(),
		Scopes:       scopes,
	}

	return &Provider{
		oauth:      oauthCfg,
		verifier:   op.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		httpClient: httpClient,
	}, nil
}

// AuthCodeURL composes the provider's authorization URL with the PKCE
// challenge derived from verifier. Pure; no network I/O.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades the authorization code and verifier for tokens. When
// the response carries an id_token it is verified and its subject
// captured for identity propagation.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (TokenResult, error) {
	tok, err := p.oauth.Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return TokenResult{}, fmt.Errorf("%w: %w", ErrCodeExchange, err)
	}

	result := TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}

	if rawIDToken, ok := tok.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken, err := p.verifier.Verify(p.clientContext(ctx), rawIDToken)
		if err != nil {
			return TokenResult{}, fmt.Errorf("%w: verify id_token: %w", ErrCodeExchange, err)
		}
		result.Subject = idToken.Subject
	}

	return result, nil
}

// Refresh performs a single refresh-token grant. When the provider
// omits a rotated refresh token the prior one is retained, per grant
// semantics.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (TokenResult, error) {
	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenResult{}, fmt.Errorf("%w: %w", ErrRefreshGrant, err)
	}

	result := TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	return result, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}
