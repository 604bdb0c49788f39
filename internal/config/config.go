// Package config loads and validates the medsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// APIBaseURL is the base URL of the health24 API
	// (e.g. "https://api.health24.ua").
	APIBaseURL string `yaml:"api_base_url"`

	// TokenFile is the path to a file containing the bearer access token.
	// The token itself never lives in the config file.
	TokenFile string `yaml:"token_file"`

	// DBPath is the SQLite database location. Defaults to
	// ~/.local/share/medsync/medsync.db if unset.
	DBPath string `yaml:"db_path"`

	// RequestTimeout bounds every single API request. Minimum 1s,
	// maximum 2m. Defaults to 10s if unset.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// PageSize is the page size used for paginated API reads.
	// Defaults to 100.
	PageSize int `yaml:"page_size"`

	// DictionaryInterval controls how often the daemon re-evaluates the
	// dictionary sync jobs. Individual table TTLs still gate the actual
	// fetches. Defaults to 6h.
	DictionaryInterval time.Duration `yaml:"dictionary_interval"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "medsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/medsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "medsync", "config.yaml"), nil
}

// DefaultDBPath returns the default database path: ~/.local/share/medsync/medsync.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "medsync", "medsync.db"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed,
// applying defaults in place.
func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	u, err := url.ParseRequestURI(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api_base_url %q must be a valid http or https URL", c.APIBaseURL)
	}

	if c.TokenFile == "" {
		return fmt.Errorf("token_file is required")
	}

	if c.DBPath == "" {
		p, err := DefaultDBPath()
		if err != nil {
			return err
		}
		c.DBPath = p
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("request_timeout %v is too short (minimum 1s)", c.RequestTimeout)
	}
	if c.RequestTimeout > 2*time.Minute {
		return fmt.Errorf("request_timeout %v is too long (maximum 2m)", c.RequestTimeout)
	}

	if c.PageSize == 0 {
		c.PageSize = 100
	}
	if c.PageSize < 1 || c.PageSize > 500 {
		return fmt.Errorf("page_size %d is out of range (1–500)", c.PageSize)
	}

	if c.DictionaryInterval == 0 {
		c.DictionaryInterval = 6 * time.Hour
	}
	if c.DictionaryInterval < time.Minute {
		return fmt.Errorf("dictionary_interval %v is too short (minimum 1m)", c.DictionaryInterval)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
