package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Hardcoded session and transport defaults
const (
	DefaultSessionTTL      = time.Hour
	DefaultLoginAttemptTTL = 24 * time.Hour
	DefaultProviderTimeout = 10 * time.Second
)

// Config captures the full gateway configuration loaded from YAML and
// environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Upstream UpstreamConfig `yaml:"upstream"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour for production listeners.
type TLSConfig struct {
	Domains  []string `yaml:"domains"`
	Email    string   `yaml:"email"`
	CacheDir string   `yaml:"cache_dir"`
}

// ProviderConfig encapsulates the OIDC provider and client credentials.
type ProviderConfig struct {
	Issuer       string   `yaml:"issuer"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri"`
	Scopes       []string `yaml:"scopes"`
	Timeout      string   `yaml:"timeout"`
}

// HTTPTimeout returns the parsed provider request timeout.
func (p ProviderConfig) HTTPTimeout() time.Duration {
	return parseDuration(p.Timeout, DefaultProviderTimeout)
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	Secret string `yaml:"secret"`
	TTL    string `yaml:"ttl"`
}

// TTLDuration returns the parsed session lifetime.
func (s SessionConfig) TTLDuration() time.Duration {
	return parseDuration(s.TTL, DefaultSessionTTL)
}

// UpstreamConfig defines the optional reverse-proxied application
// behind the gateway.
type UpstreamConfig struct {
	Target       string `yaml:"target"`
	RequireAuth  bool   `yaml:"require_auth"`
	PreserveHost bool   `yaml:"preserve_host"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
// A .env file in the working directory is honoured if present.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			slog.Error("failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				CacheDir: "./tls-cache",
			},
		},
		Provider: ProviderConfig{
			Scopes:  []string{"openid", "offline_access"},
			Timeout: DefaultProviderTimeout.String(),
		},
		Session: SessionConfig{
			TTL: DefaultSessionTTL.String(),
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"OIDCGATE_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"OIDCGATE_DEV_LISTEN_ADDR":   func(v string) { cfg.Server.DevListenAddr = v },
		"OIDCGATE_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"OIDCGATE_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"OIDCGATE_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"OIDCGATE_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"OIDCGATE_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"OIDCGATE_ISSUER":            func(v string) { cfg.Provider.Issuer = v },
		"OIDCGATE_CLIENT_ID":         func(v string) { cfg.Provider.ClientID = v },
		"OIDCGATE_CLIENT_SECRET":     func(v string) { cfg.Provider.ClientSecret = v },
		"OIDCGATE_REDIRECT_URI":      func(v string) { cfg.Provider.RedirectURI = v },
		"OIDCGATE_SCOPES":            func(v string) { cfg.Provider.Scopes = splitAndTrim(v) },
		"OIDCGATE_SESSION_SECRET":    func(v string) { cfg.Session.Secret = v },
		"OIDCGATE_SESSION_TTL":       func(v string) { cfg.Session.TTL = v },
		"OIDCGATE_UPSTREAM_TARGET":   func(v string) { cfg.Upstream.Target = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the config. Every credential the
// flow depends on must be present at startup.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !isHTTPURL(c.Server.PublicURL) {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if c.Provider.Issuer == "" {
		return errors.New("provider.issuer is required")
	}
	if !isHTTPURL(c.Provider.Issuer) {
		return fmt.Errorf("provider.issuer must start with http:// or https://, got: %s", c.Provider.Issuer)
	}
	if c.Provider.ClientID == "" {
		return errors.New("provider.client_id is required")
	}
	if c.Provider.ClientSecret == "" {
		return errors.New("provider.client_secret is required")
	}
	if c.Provider.RedirectURI == "" {
		return errors.New("provider.redirect_uri is required")
	}
	if !isHTTPURL(c.Provider.RedirectURI) {
		return fmt.Errorf("provider.redirect_uri must start with http:// or https://, got: %s", c.Provider.RedirectURI)
	}

	if c.Session.Secret == "" {
		return errors.New("session.secret is required")
	}
	if len(c.Session.Secret) < 32 {
		return errors.New("session.secret must be at least 32 bytes")
	}
	if c.Session.TTL != "" {
		d, err := time.ParseDuration(c.Session.TTL)
		if err != nil {
			return fmt.Errorf("session.ttl: invalid duration %q: %w", c.Session.TTL, err)
		}
		if d <= 0 {
			return errors.New("session.ttl must be positive")
		}
	}
	if c.Provider.Timeout != "" {
		if _, err := time.ParseDuration(c.Provider.Timeout); err != nil {
			return fmt.Errorf("provider.timeout: invalid duration %q: %w", c.Provider.Timeout, err)
		}
	}

	if c.Upstream.Target != "" && !isHTTPURL(c.Upstream.Target) {
		return fmt.Errorf("upstream.target must start with http:// or https://, got: %s", c.Upstream.Target)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		return errors.New("server.tls.domains must be provided in production")
	}

	return nil
}

func isHTTPURL(v string) bool {
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}
