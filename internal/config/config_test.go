package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "console.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithMissingFile(t *testing.T) {
	t.Setenv("CONSOLE_SESSION_SECRET", testSecret)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.InactivityTimeout != 30*time.Minute {
		t.Fatalf("inactivity timeout = %v", cfg.Session.InactivityTimeout)
	}
	if cfg.Session.ActivityDebounce != time.Second {
		t.Fatalf("debounce = %v", cfg.Session.ActivityDebounce)
	}
	if cfg.Backend.BaseURL != "http://127.0.0.1:5000" {
		t.Fatalf("backend = %q", cfg.Backend.BaseURL)
	}
	if got := cfg.Providers["microsoft"].Params["prompt"]; got != "select_account" {
		t.Fatalf("microsoft prompt = %q", got)
	}
	google := cfg.Providers["google"].Params
	if google["access_type"] != "offline" || google["prompt"] != "select_account consent" {
		t.Fatalf("google params = %v", google)
	}
	if cfg.CallbackURL() != "http://localhost:8080/auth/callback" {
		t.Fatalf("callback = %q", cfg.CallbackURL())
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":9000"
backend:
  base_url: "http://backend:5000"
session:
  inactivity_timeout: 10m
  secret: "`+testSecret+`"
providers:
  google:
    client_id: file-client
`)
	t.Setenv("CONSOLE_ADDR", ":9100")
	t.Setenv("CONSOLE_GOOGLE_CLIENT_SECRET", "env-secret")
	t.Setenv("CONSOLE_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9100" {
		t.Fatalf("env should override file addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Backend.BaseURL != "http://backend:5000" {
		t.Fatalf("backend = %q", cfg.Backend.BaseURL)
	}
	if cfg.Session.InactivityTimeout != 10*time.Minute {
		t.Fatalf("inactivity = %v", cfg.Session.InactivityTimeout)
	}
	g := cfg.Providers["google"]
	if g.ClientID != "file-client" || g.ClientSecret != "env-secret" {
		t.Fatalf("google provider = %+v", g)
	}
	if g.IssuerURL != "https://accounts.google.com" || g.Kind != "oidc" {
		t.Fatalf("file override dropped defaults: %+v", g)
	}
	if g.Params["access_type"] != "offline" {
		t.Fatalf("file override dropped offline access: %v", g.Params)
	}
	if got := cfg.RateLimit.TrustedProxies; len(got) != 2 || got[0] != "10.0.0.0/8" || got[1] != "192.0.2.1" {
		t.Fatalf("trusted proxies = %v", got)
	}
	if !g.Enabled() || cfg.Providers["github"].Enabled() {
		t.Fatal("unexpected enabled flags")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"missing secret": func(c *Config) { c.Session.Secret = "" },
		"short secret":   func(c *Config) { c.Session.Secret = "short" },
		"bad backend":    func(c *Config) { c.Backend.BaseURL = "::nope" },
		"zero timeout":   func(c *Config) { c.Session.InactivityTimeout = 0 },
		"debounce":       func(c *Config) { c.Session.ActivityDebounce = time.Hour },
		"provider kind": func(c *Config) {
			p := c.Providers["google"]
			p.Kind = "saml"
			c.Providers["google"] = p
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		cfg.Session.Secret = testSecret
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
