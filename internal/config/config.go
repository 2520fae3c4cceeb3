// Package config defines the operator's own configuration: the externally
// visible hostname, routing mode, and how the rendered proxy config is
// delivered.
package config

import (
	"time"
)

// Config is the top-level operator configuration.
type Config struct {
	// ExternalHostname is the hostname clients are reached through. Required
	// for TLS; optional for plain HTTP (rules then match any host).
	ExternalHostname string `yaml:"external_hostname"`
	// RoutingMode is "path" (default) or "subdomain".
	RoutingMode string `yaml:"routing_mode"`
	// ListenAddress is the bind address of the admin/relations API.
	ListenAddress string `yaml:"listen_address"`

	Proxy     ProxyConfig     `yaml:"proxy"`
	TLS       TLSConfig       `yaml:"tls"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Log       LogConfig       `yaml:"log"`
}

// ProxyConfig describes where rendered config is published.
type ProxyConfig struct {
	// ConfigPath is the dynamic config file the proxy's file provider
	// watches. Mutually exclusive with ConfigURL.
	ConfigPath string `yaml:"config_path"`
	// ConfigURL is a proxy admin endpoint accepting PUT of the config.
	ConfigURL string `yaml:"config_url"`
	// PublishTimeout bounds a single publish call.
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// TLSConfig controls TLS termination.
type TLSConfig struct {
	// Enabled gates TLS handling: when false, certificate deliveries are
	// rejected and the proxy serves plain HTTP.
	Enabled bool `yaml:"enabled"`
	// CertDir is where accepted certificate material is persisted.
	CertDir string `yaml:"cert_dir"`
}

// ReconcileConfig tunes the reconcile loop.
type ReconcileConfig struct {
	// Debounce coalesces rapid trigger bursts into one pass.
	Debounce time.Duration `yaml:"debounce"`
	// TickInterval is the periodic safety-net reconciliation.
	TickInterval time.Duration `yaml:"tick_interval"`
	// MaxRetries bounds publish retries before the engine goes Blocked.
	MaxRetries int `yaml:"max_retries"`
	// InitialBackoff/MaxBackoff bound the retry backoff.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		RoutingMode:   "path",
		ListenAddress: ":8080",
		Proxy: ProxyConfig{
			ConfigPath:     "/etc/traefik/dynamic/ingress.yaml",
			PublishTimeout: 10 * time.Second,
		},
		TLS: TLSConfig{
			Enabled: true,
			CertDir: "/etc/traefik/certs",
		},
		Reconcile: ReconcileConfig{
			Debounce:       100 * time.Millisecond,
			TickInterval:   5 * time.Minute,
			MaxRetries:     5,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}
