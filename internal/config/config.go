// Package config loads and validates the gateway configuration.
//
// DESIGN: All configuration MUST come from YAML files. Only the values a
// deployment cannot meaningfully choose (provider base URLs) fall back to
// the vendor defaults; everything else is explicit and auditable.
//
// FILES:
//   - config.go:     Root Config struct, Load(), Validate()
//   - providers.go:  Per-provider upstream overrides
//   - monitoring.go: Logging, metrics and telemetry settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the provider gateway.
type Config struct {
	Server      ServerConfig      `yaml:"server"`      // HTTP server settings
	Providers   ProvidersConfig   `yaml:"providers"`   // Upstream overrides by provider name
	Compression CompressionConfig `yaml:"compression"` // TOON tool-result compression
	Pricing     PricingConfig     `yaml:"pricing"`     // Model price catalog
	Policy      PolicyConfig      `yaml:"policy"`      // Tool-call policy
	Store       StoreConfig       `yaml:"store"`       // Compression memo
	Monitoring  MonitoringConfig  `yaml:"monitoring"`  // Logging, metrics, telemetry
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // Port to listen on
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Max time to read request
	WriteTimeout time.Duration `yaml:"write_timeout"` // Max time to write response
	MaxBodySize  int64         `yaml:"max_body_size"` // Request body limit in bytes, 0 = 50MB
	RateLimit    int           `yaml:"rate_limit"`    // Requests per second per client IP, 0 = off
}

// CompressionConfig controls the TOON stage.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled"`
	// TOON re-encodes JSON tool results. Ignored when Enabled is false.
	TOON bool `yaml:"toon"`
}

// Active reports whether request adapters should compress tool results.
func (c CompressionConfig) Active() bool {
	return c.Enabled && c.TOON
}

// PricingConfig locates the price catalog.
type PricingConfig struct {
	CatalogPath string `yaml:"catalog_path"` // sqlite file, optional
	SeedPath    string `yaml:"seed_path"`    // YAML seed overlaid on built-ins, optional
	Watch       bool   `yaml:"watch"`        // Reload seed_path on change
}

// PolicyConfig holds tool-call policy.
type PolicyConfig struct {
	BlockedTools []string `yaml:"blocked_tools"`
}

// IsBlocked reports whether tool name is refused. Matching is exact and
// case-insensitive.
func (p PolicyConfig) IsBlocked(name string) bool {
	for _, b := range p.BlockedTools {
		if strings.EqualFold(b, name) {
			return true
		}
	}
	return false
}

// StoreConfig contains compression memo settings.
type StoreConfig struct {
	Type string        `yaml:"type"` // Store type: "memory"
	TTL  time.Duration `yaml:"ttl"`  // Time-to-live for entries
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// ExpandEnvWithDefaults is the exported form of the ${VAR:-default} expander.
func ExpandEnvWithDefaults(s string) string {
	return expandEnvWithDefaults(s)
}

// Load reads configuration from a YAML file.
// Returns an error if the file doesn't exist or is invalid.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets the runtime environment redirect output paths
// without editing the config file.
func (c *Config) applyEnvOverrides() {
	if envPath := os.Getenv("GATEWAY_TELEMETRY_LOG"); envPath != "" {
		c.Monitoring.TelemetryPath = envPath
		c.Monitoring.TelemetryEnabled = true
	}
	if level := os.Getenv("GATEWAY_LOG_LEVEL"); level != "" {
		c.Monitoring.LogLevel = level
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout == 0 {
		return fmt.Errorf("server.read_timeout is required")
	}
	if c.Server.WriteTimeout == 0 {
		return fmt.Errorf("server.write_timeout is required")
	}
	if c.Server.MaxBodySize < 0 {
		return fmt.Errorf("server.max_body_size must not be negative")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}

	if c.Store.Type != "" && c.Store.Type != "memory" {
		return fmt.Errorf("unsupported store.type %q (only \"memory\")", c.Store.Type)
	}
	if c.Store.TTL < 0 {
		return fmt.Errorf("store.ttl must not be negative")
	}

	if c.Pricing.Watch && c.Pricing.SeedPath == "" {
		return fmt.Errorf("pricing.watch requires pricing.seed_path")
	}

	for i, name := range c.Policy.BlockedTools {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("policy.blocked_tools[%d] is empty", i)
		}
	}

	if err := c.Providers.Validate(); err != nil {
		return err
	}

	return c.Monitoring.Validate()
}
