// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by both gateway/ and monitoring/ packages.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - RequestEvent:  Telemetry data for each proxied request
//   - Config types:  TelemetryConfig, LoggerConfig, AlertConfig
package monitoring

import "time"

// =============================================================================
// EVENT TYPES - Structured data for telemetry recording
// =============================================================================

// RequestEvent captures a request through the gateway.
type RequestEvent struct {
	RequestID   string      `json:"request_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Method      string      `json:"method"`
	Path        string      `json:"path"`
	Provider    string      `json:"provider"`
	Model       string      `json:"model,omitempty"`
	Stream      bool        `json:"stream"`
	Correlation Correlation `json:"correlation,omitempty"`

	RequestBodySize  int `json:"request_body_size"`
	ResponseBodySize int `json:"response_body_size"`
	StatusCode       int `json:"status_code"`

	// TOON accounting; nil when no tool result was present.
	ToonTokensBefore *int     `json:"toon_tokens_before,omitempty"`
	ToonTokensAfter  *int     `json:"toon_tokens_after,omitempty"`
	ToonCostSavings  *float64 `json:"toon_cost_savings,omitempty"`
	ToonCostStatus   string   `json:"toon_cost_status,omitempty"`

	// Outcome, read from the response or stream adapter.
	StopReason   string   `json:"stop_reason,omitempty"`
	ToolCalls    int      `json:"tool_calls"`
	BlockedTools []string `json:"blocked_tools,omitempty"`
	InputTokens  int      `json:"input_tokens,omitempty"`
	OutputTokens int      `json:"output_tokens,omitempty"`

	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	FirstChunkMs     int64  `json:"first_chunk_ms,omitempty"`
	UpstreamLatency  int64  `json:"upstream_latency_ms"`
	TotalLatencyMs   int64  `json:"total_latency_ms"`
	CompressionMs    int64  `json:"compression_ms"`
	WithheldEvents   int    `json:"withheld_events,omitempty"`
	ForwardedEvents  int    `json:"forwarded_events,omitempty"`
	TransportChannel string `json:"transport,omitempty"` // http or websocket
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console, auto
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	HighLatencyThreshold time.Duration `yaml:"high_latency_threshold"`
}
