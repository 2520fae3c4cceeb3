package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/wudi/ingress-operator/internal/validate"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes.
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// A configured config_url overrides the default file target.
	if cfg.Proxy.ConfigURL != "" && cfg.Proxy.ConfigPath == DefaultConfig().Proxy.ConfigPath {
		cfg.Proxy.ConfigPath = ""
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// Validate checks configuration for errors.
func Validate(cfg *Config) error {
	if cfg.ExternalHostname != "" && !validate.Hostname(cfg.ExternalHostname) {
		return fmt.Errorf("external_hostname %q is not a valid hostname", cfg.ExternalHostname)
	}

	switch cfg.RoutingMode {
	case "path", "subdomain":
	default:
		return fmt.Errorf("invalid routing_mode: %s", cfg.RoutingMode)
	}

	if cfg.RoutingMode == "subdomain" && cfg.ExternalHostname == "" {
		return fmt.Errorf("routing_mode subdomain requires external_hostname")
	}

	if cfg.Proxy.ConfigPath == "" && cfg.Proxy.ConfigURL == "" {
		return fmt.Errorf("one of proxy.config_path or proxy.config_url is required")
	}
	if cfg.Proxy.ConfigPath != "" && cfg.Proxy.ConfigURL != "" {
		return fmt.Errorf("proxy.config_path and proxy.config_url are mutually exclusive")
	}

	if cfg.TLS.Enabled && cfg.TLS.CertDir == "" {
		return fmt.Errorf("tls.cert_dir is required when TLS is enabled")
	}

	if cfg.Reconcile.MaxRetries < 0 {
		return fmt.Errorf("reconcile.max_retries must be >= 0")
	}
	if cfg.Reconcile.Debounce < 0 {
		return fmt.Errorf("reconcile.debounce must be >= 0")
	}

	return nil
}
