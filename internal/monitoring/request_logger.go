// Package monitoring - request_logger.go logs the request lifecycle.
//
// DESIGN: Structured logging for request tracing at DEBUG level:
//   - LogIncoming:    Request received from client (headers redacted)
//   - LogOutgoing:    Request forwarded to provider
//   - LogResponse:    Response sent to client
//   - LogCompression: TOON accounting for the request
//   - LogStreamEnd:   Accumulated stream outcome
package monitoring

import (
	"net/http"
	"time"
)

// RequestLogger logs HTTP request lifecycle events.
type RequestLogger struct {
	logger *Logger
}

// NewRequestLogger creates a new request logger.
func NewRequestLogger(logger *Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

// RequestInfo contains incoming request information.
type RequestInfo struct {
	RequestID   string
	Method      string
	Path        string
	Query       string
	RemoteAddr  string
	BodySize    int
	Headers     map[string]string
	Correlation Correlation
	StartTime   time.Time
}

// NewRequestInfo creates RequestInfo from an HTTP request. Credentials in
// headers and query are redacted here so nothing downstream sees them.
func NewRequestInfo(r *http.Request, requestID string, bodySize int) *RequestInfo {
	return &RequestInfo{
		RequestID:   requestID,
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       RedactQuery(r.URL.RawQuery),
		RemoteAddr:  r.RemoteAddr,
		BodySize:    bodySize,
		Headers:     RedactHeaders(r.Header),
		Correlation: CorrelationFromHeader(r.Header),
		StartTime:   time.Now(),
	}
}

// LogIncoming logs an incoming request.
func (rl *RequestLogger) LogIncoming(info *RequestInfo) {
	event := rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("method", info.Method).
		Str("path", info.Path).
		Int("body_size", info.BodySize).
		Interface("headers", info.Headers)
	if info.Query != "" {
		event = event.Str("query", info.Query)
	}
	if !info.Correlation.IsZero() {
		event = event.Str("gateway_meta", info.Correlation.String())
	}
	event.Msg("incoming")
}

// OutgoingRequestInfo contains outgoing request information.
type OutgoingRequestInfo struct {
	RequestID string
	Provider  string
	Span      string
	BaseURL   string
	Model     string
	Stream    bool
	BodySize  int
}

// LogOutgoing logs an outgoing request.
func (rl *RequestLogger) LogOutgoing(info *OutgoingRequestInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("provider", info.Provider).
		Str("span", info.Span).
		Str("base_url", info.BaseURL).
		Str("model", info.Model).
		Bool("stream", info.Stream).
		Int("body_size", info.BodySize).
		Msg("outgoing")
}

// ResponseInfo contains response information.
type ResponseInfo struct {
	RequestID  string
	StatusCode int
	Latency    time.Duration
}

// LogResponse logs a response.
func (rl *RequestLogger) LogResponse(info *ResponseInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Int("status", info.StatusCode).
		Dur("latency", info.Latency).
		Msg("response")
}

// CompressionInfo contains TOON accounting for one request.
type CompressionInfo struct {
	RequestID    string
	Provider     string
	Model        string
	TokensBefore *int
	TokensAfter  *int
	CostSavings  *float64
	CostStatus   string
	Duration     time.Duration
}

// LogCompression logs a compression operation.
func (rl *RequestLogger) LogCompression(info *CompressionInfo) {
	event := rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("provider", info.Provider).
		Str("model", info.Model).
		Str("cost_status", info.CostStatus).
		Dur("duration", info.Duration)
	if info.TokensBefore != nil && info.TokensAfter != nil {
		event = event.Int("tokens_before", *info.TokensBefore).Int("tokens_after", *info.TokensAfter)
	}
	if info.CostSavings != nil {
		event = event.Float64("cost_savings", *info.CostSavings)
	}
	event.Msg("toon")
}

// StreamEndInfo summarizes an accumulated stream.
type StreamEndInfo struct {
	RequestID  string
	Provider   string
	StopReason string
	ToolCalls  int
	Withheld   int
	Forwarded  int
	FirstChunk time.Duration
}

// LogStreamEnd logs the outcome of a stream.
func (rl *RequestLogger) LogStreamEnd(info *StreamEndInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("provider", info.Provider).
		Str("stop_reason", info.StopReason).
		Int("tool_calls", info.ToolCalls).
		Int("withheld", info.Withheld).
		Int("forwarded", info.Forwarded).
		Dur("first_chunk", info.FirstChunk).
		Msg("stream_end")
}
