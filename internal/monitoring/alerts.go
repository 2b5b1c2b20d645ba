// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagHighLatency:     Warn when request exceeds threshold
//   - FlagProviderError:   Warn on upstream 4xx/5xx responses
//   - FlagUpstreamTimeout: Error when the upstream deadline passes
//   - FlagBlockedTool:     Warn when policy refuses a tool call
//   - FlagPanic:           Error on recovered panics
package monitoring

import "time"

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger               *Logger
	highLatencyThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.HighLatencyThreshold
	if threshold == 0 {
		threshold = 30 * time.Second
	}
	return &AlertManager{logger: logger, highLatencyThreshold: threshold}
}

// FlagHighLatency logs when request latency exceeds threshold.
func (am *AlertManager) FlagHighLatency(requestID string, latency time.Duration, provider, path string) {
	if latency < am.highLatencyThreshold {
		return
	}
	am.logger.Warn().
		Str("request_id", requestID).
		Dur("latency", latency).
		Str("provider", provider).
		Str("path", path).
		Msg("high_latency")
}

// FlagProviderError logs upstream provider error.
func (am *AlertManager) FlagProviderError(requestID, provider string, statusCode int, errorMsg string) {
	am.logger.Warn().
		Str("request_id", requestID).
		Str("provider", provider).
		Int("status", statusCode).
		Str("error", errorMsg).
		Msg("provider_error")
}

// FlagUpstreamTimeout logs upstream timeout.
func (am *AlertManager) FlagUpstreamTimeout(requestID, provider string, timeout time.Duration) {
	am.logger.Error().
		Str("request_id", requestID).
		Str("provider", provider).
		Dur("timeout", timeout).
		Msg("upstream_timeout")
}

// FlagBlockedTool logs a tool call refused by policy.
func (am *AlertManager) FlagBlockedTool(requestID, provider, tool, callID string) {
	am.logger.Warn().
		Str("request_id", requestID).
		Str("provider", provider).
		Str("tool", tool).
		Str("call_id", callID).
		Msg("tool_call_blocked")
}

// FlagInvalidRequest logs invalid request.
func (am *AlertManager) FlagInvalidRequest(requestID, reason string) {
	am.logger.Debug().
		Str("request_id", requestID).
		Str("reason", reason).
		Msg("invalid_request")
}

// FlagPanic logs recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue any, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Str("stack", stack).
		Msg("panic_recovered")
}
