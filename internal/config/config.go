// Package config resolves console settings in priority order:
// defaults, then the YAML file, then CONSOLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	HTTP      HTTPConfig                `yaml:"http"`
	Backend   BackendConfig             `yaml:"backend"`
	Session   SessionConfig             `yaml:"session"`
	RedisURL  string                    `yaml:"redis_url"`
	Postgres  string                    `yaml:"postgres_dsn"`
	RateLimit RateLimitConfig           `yaml:"rate_limit"`
	LogLevel  string                    `yaml:"log_level"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	// OneAccountPerEmail rejects a sign-in whose email is already linked
	// to a different provider.
	OneAccountPerEmail bool `yaml:"one_account_per_email"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	PublicURL       string        `yaml:"public_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	ActivityDebounce  time.Duration `yaml:"activity_debounce"`
	CookieName        string        `yaml:"cookie_name"`
	CookieSecure      bool          `yaml:"cookie_secure"`
	CookieTTL         time.Duration `yaml:"cookie_ttl"`
	Secret            string        `yaml:"secret"`
	// IdleEviction drops unauthenticated console sessions nobody has
	// touched for this long.
	IdleEviction time.Duration `yaml:"idle_eviction"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type RateLimitConfig struct {
	Burst     int `yaml:"burst"`
	PerSecond int `yaml:"per_second"`
	// TrustedProxies are CIDRs or addresses of reverse proxies allowed to
	// set X-Forwarded-For. Empty means the peer address is always used.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// ProviderConfig describes one identity provider. Kind is "oidc" (id_token
// verified against the provider JWKS) or "oauth2" (access token plus a
// userinfo call).
type ProviderConfig struct {
	Kind                  string            `yaml:"kind"`
	DisplayName           string            `yaml:"display_name"`
	ClientID              string            `yaml:"client_id"`
	ClientSecret          string            `yaml:"client_secret"`
	IssuerURL             string            `yaml:"issuer_url"`
	DiscoveryURL          string            `yaml:"discovery_url"`
	AuthorizationEndpoint string            `yaml:"authorization_endpoint"`
	TokenEndpoint         string            `yaml:"token_endpoint"`
	UserInfoEndpoint      string            `yaml:"userinfo_endpoint"`
	EmailsEndpoint        string            `yaml:"emails_endpoint"`
	JWKSURI               string            `yaml:"jwks_uri"`
	Scopes                []string          `yaml:"scopes"`
	Params                map[string]string `yaml:"params"`
}

// Enabled reports whether the provider has credentials.
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.ClientID) != ""
}

// ProviderOrder is the order providers are offered on the login page.
var ProviderOrder = []string{"google", "github", "microsoft"}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			PublicURL:       "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Backend: BackendConfig{
			BaseURL: "http://127.0.0.1:5000",
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			InactivityTimeout: 30 * time.Minute,
			ActivityDebounce:  time.Second,
			CookieName:        "console_sid",
			CookieTTL:         12 * time.Hour,
			IdleEviction:      2 * time.Hour,
			TokenTTL:          12 * time.Hour,
		},
		RateLimit: RateLimitConfig{Burst: 20, PerSecond: 5},
		LogLevel:  "info",
		Providers: map[string]ProviderConfig{
			"google": {
				Kind:        "oidc",
				DisplayName: "Google",
				IssuerURL:   "https://accounts.google.com",
				Scopes:      []string{"openid", "email", "profile"},
				// Google only issues a refresh token for offline access and
				// only on consent, so ask for both on every sign-in.
				Params: map[string]string{"prompt": "select_account consent", "access_type": "offline"},
			},
			"github": {
				Kind:                  "oauth2",
				DisplayName:           "GitHub",
				AuthorizationEndpoint: "https://github.com/login/oauth/authorize",
				TokenEndpoint:         "https://github.com/login/oauth/access_token",
				UserInfoEndpoint:      "https://api.github.com/user",
				EmailsEndpoint:        "https://api.github.com/user/emails",
				Scopes:                []string{"read:user", "user:email"},
			},
			"microsoft": {
				Kind:         "oidc",
				DisplayName:  "Microsoft",
				DiscoveryURL: "https://login.microsoftonline.com/common/v2.0/.well-known/openid-configuration",
				Scopes:       []string{"openid", "email", "profile", "offline_access"},
				Params:       map[string]string{"prompt": "select_account"},
			},
		},
		OneAccountPerEmail: true,
	}
}

type fileProviders struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// Load reads path (optional; a missing file keeps the defaults) and applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	// yaml decodes into the existing map in place.
	defaultProviders := Default().Providers

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
			var fp fileProviders
			if err := yaml.Unmarshal(raw, &fp); err != nil {
				return Config{}, fmt.Errorf("parse config providers: %w", err)
			}
			cfg.Providers = mergeProviders(defaultProviders, fp.Providers)
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTP.Addr = envOrDefault("CONSOLE_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.PublicURL = envOrDefault("CONSOLE_PUBLIC_URL", cfg.HTTP.PublicURL)
	cfg.Backend.BaseURL = envOrDefault("CONSOLE_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Timeout = envDuration("CONSOLE_BACKEND_TIMEOUT", cfg.Backend.Timeout)
	cfg.Session.Secret = envOrDefault("CONSOLE_SESSION_SECRET", cfg.Session.Secret)
	cfg.Session.CookieSecure = envBool("CONSOLE_COOKIE_SECURE", cfg.Session.CookieSecure)
	cfg.Session.InactivityTimeout = envDuration("CONSOLE_INACTIVITY_TIMEOUT", cfg.Session.InactivityTimeout)
	cfg.Session.ActivityDebounce = envDuration("CONSOLE_ACTIVITY_DEBOUNCE", cfg.Session.ActivityDebounce)
	cfg.RedisURL = envOrDefault("CONSOLE_REDIS_URL", cfg.RedisURL)
	cfg.Postgres = envOrDefault("CONSOLE_PG_DSN", cfg.Postgres)
	cfg.LogLevel = envOrDefault("CONSOLE_LOG_LEVEL", cfg.LogLevel)
	cfg.RateLimit.Burst = envInt("CONSOLE_RATE_LIMIT_BURST", cfg.RateLimit.Burst)
	cfg.RateLimit.PerSecond = envInt("CONSOLE_RATE_LIMIT_RPS", cfg.RateLimit.PerSecond)
	cfg.RateLimit.TrustedProxies = envCSV("CONSOLE_TRUSTED_PROXIES", cfg.RateLimit.TrustedProxies)
	cfg.OneAccountPerEmail = envBool("CONSOLE_ONE_ACCOUNT_PER_EMAIL", cfg.OneAccountPerEmail)

	for name, p := range cfg.Providers {
		prefix := "CONSOLE_" + strings.ToUpper(name) + "_"
		p.ClientID = envOrDefault(prefix+"CLIENT_ID", p.ClientID)
		p.ClientSecret = envOrDefault(prefix+"CLIENT_SECRET", p.ClientSecret)
		p.Scopes = envCSV(prefix+"SCOPES", p.Scopes)
		cfg.Providers[name] = p
	}
}

// Validate checks invariants the rest of the console relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Session.Secret) == "" {
		return errors.New("config: session secret is required (CONSOLE_SESSION_SECRET)")
	}
	if len(c.Session.Secret) < 32 {
		return errors.New("config: session secret must be at least 32 bytes")
	}
	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("config: invalid backend base_url: %w", err)
	}
	if _, err := url.ParseRequestURI(c.HTTP.PublicURL); err != nil {
		return fmt.Errorf("config: invalid http public_url: %w", err)
	}
	if c.Session.InactivityTimeout <= 0 {
		return errors.New("config: session inactivity_timeout must be positive")
	}
	if c.Session.ActivityDebounce < 0 || c.Session.ActivityDebounce >= c.Session.InactivityTimeout {
		return errors.New("config: session activity_debounce must be shorter than inactivity_timeout")
	}
	for name, p := range c.Providers {
		switch p.Kind {
		case "oidc", "oauth2":
		default:
			return fmt.Errorf("config: provider %s has unknown kind %q", name, p.Kind)
		}
	}
	return nil
}

// CallbackURL is the redirect URI registered with every provider.
func (c Config) CallbackURL() string {
	return strings.TrimRight(c.HTTP.PublicURL, "/") + "/auth/callback"
}

func mergeProviders(base, override map[string]ProviderConfig) map[string]ProviderConfig {
	out := make(map[string]ProviderConfig, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for name, o := range override {
		name = strings.ToLower(strings.TrimSpace(name))
		p := out[name]
		p.Kind = firstNonEmpty(o.Kind, p.Kind)
		p.DisplayName = firstNonEmpty(o.DisplayName, p.DisplayName)
		p.ClientID = firstNonEmpty(o.ClientID, p.ClientID)
		p.ClientSecret = firstNonEmpty(o.ClientSecret, p.ClientSecret)
		p.IssuerURL = firstNonEmpty(o.IssuerURL, p.IssuerURL)
		p.DiscoveryURL = firstNonEmpty(o.DiscoveryURL, p.DiscoveryURL)
		p.AuthorizationEndpoint = firstNonEmpty(o.AuthorizationEndpoint, p.AuthorizationEndpoint)
		p.TokenEndpoint = firstNonEmpty(o.TokenEndpoint, p.TokenEndpoint)
		p.UserInfoEndpoint = firstNonEmpty(o.UserInfoEndpoint, p.UserInfoEndpoint)
		p.EmailsEndpoint = firstNonEmpty(o.EmailsEndpoint, p.EmailsEndpoint)
		p.JWKSURI = firstNonEmpty(o.JWKSURI, p.JWKSURI)
		if len(o.Scopes) > 0 {
			p.Scopes = o.Scopes
		}
		if len(o.Params) > 0 {
			p.Params = o.Params
		}
		out[name] = p
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envCSV(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
