package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(`external_hostname: juju.local`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.ExternalHostname != "juju.local" {
		t.Errorf("unexpected hostname %q", cfg.ExternalHostname)
	}
	if cfg.RoutingMode != "path" {
		t.Errorf("expected default routing mode path, got %q", cfg.RoutingMode)
	}
	if cfg.Reconcile.Debounce != 100*time.Millisecond {
		t.Errorf("expected default debounce, got %v", cfg.Reconcile.Debounce)
	}
	if cfg.Proxy.ConfigPath == "" {
		t.Error("expected a default proxy config path")
	}
}

func TestParseEnvExpansion(t *testing.T) {
	t.Setenv("INGRESS_HOSTNAME", "env.local")
	cfg, err := NewLoader().Parse([]byte("external_hostname: ${INGRESS_HOSTNAME}\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.ExternalHostname != "env.local" {
		t.Errorf("expected env expansion, got %q", cfg.ExternalHostname)
	}
}

func TestParseUnsetEnvKept(t *testing.T) {
	loader := NewLoader()
	got := loader.expandEnvVars("prefix-${DEFINITELY_NOT_SET_XYZ}")
	if got != "prefix-${DEFINITELY_NOT_SET_XYZ}" {
		t.Errorf("unset variables should be kept verbatim, got %q", got)
	}
}

func TestParseConfigURLOverridesDefaultPath(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(`
proxy:
  config_url: http://localhost:9000/config
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Proxy.ConfigPath != "" {
		t.Errorf("config_url should override the default file target, path=%q", cfg.Proxy.ConfigPath)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad hostname", func(c *Config) { c.ExternalHostname = "juju local!" }},
		{"bad routing mode", func(c *Config) { c.RoutingMode = "header" }},
		{"subdomain without hostname", func(c *Config) {
			c.RoutingMode = "subdomain"
			c.ExternalHostname = ""
		}},
		{"no publish target", func(c *Config) { c.Proxy.ConfigPath = "" }},
		{"two publish targets", func(c *Config) { c.Proxy.ConfigURL = "http://x/y" }},
		{"tls without cert dir", func(c *Config) { c.TLS.CertDir = "" }},
		{"negative retries", func(c *Config) { c.Reconcile.MaxRetries = -1 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateDefaultsOK(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.yaml")
	content := []byte("external_hostname: juju.local\nrouting_mode: subdomain\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RoutingMode != "subdomain" {
		t.Errorf("unexpected routing mode %q", cfg.RoutingMode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := NewLoader().Load("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
