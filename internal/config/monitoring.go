// Monitoring configuration - logging, metrics and telemetry settings.
//
// DESIGN: Separates logging (zerolog) from telemetry (JSONL files).
// Logging is for operators, telemetry is for analytics/debugging.
package config

import (
	"fmt"
	"time"

	"github.com/compresr/provider-gateway/internal/monitoring"
)

// MonitoringConfig contains all monitoring settings.
type MonitoringConfig struct {
	// Logging settings
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console, auto
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"` // Serve /metrics

	// Telemetry settings
	TelemetryEnabled bool   `yaml:"telemetry_enabled"` // Enable telemetry tracking
	TelemetryPath    string `yaml:"telemetry_path"`    // Path to telemetry JSONL file
	LogToStdout      bool   `yaml:"log_to_stdout"`     // Also log telemetry to stdout

	// Alerts
	HighLatencyThreshold time.Duration `yaml:"high_latency_threshold"`
}

// Validate checks level and format names.
func (m MonitoringConfig) Validate() error {
	switch m.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("monitoring.log_level: unknown level %q", m.LogLevel)
	}
	switch m.LogFormat {
	case "", "json", "console", "auto":
	default:
		return fmt.Errorf("monitoring.log_format: unknown format %q", m.LogFormat)
	}
	return nil
}

// Logger converts to the monitoring logger config.
func (m MonitoringConfig) Logger() monitoring.LoggerConfig {
	return monitoring.LoggerConfig{Level: m.LogLevel, Format: m.LogFormat, Output: m.LogOutput}
}

// Telemetry converts to the monitoring telemetry config.
func (m MonitoringConfig) Telemetry() monitoring.TelemetryConfig {
	return monitoring.TelemetryConfig{
		Enabled:     m.TelemetryEnabled,
		LogPath:     m.TelemetryPath,
		LogToStdout: m.LogToStdout,
	}
}

// Alerts converts to the monitoring alert config.
func (m MonitoringConfig) Alerts() monitoring.AlertConfig {
	return monitoring.AlertConfig{HighLatencyThreshold: m.HighLatencyThreshold}
}
