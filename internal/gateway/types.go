// Package gateway types - per-request state carried through the gateway.
//
// DESIGN: RequestContext is created when a request arrives and filled in
// as it moves through the stages:
//   - routing:     provider, factory, model, stream mode
//   - compression: TOON accounting
//   - upstream:    status, latency, stream counters
//   - outcome:     stop reason, tool calls, usage, policy refusals
//
// It is owned by the request goroutine and converted to a telemetry
// event once the response is complete.
package gateway

import (
	"time"

	"github.com/compresr/provider-gateway/internal/adapters"
	"github.com/compresr/provider-gateway/internal/compression"
	"github.com/compresr/provider-gateway/internal/monitoring"
	"github.com/compresr/provider-gateway/internal/providers"
)

// Transport channels a client can use.
const (
	ChannelHTTP      = "http"
	ChannelWebSocket = "websocket"
)

// RequestContext carries data through request processing.
type RequestContext struct {
	RequestID   string
	Method      string
	Path        string
	Channel     string
	Correlation monitoring.Correlation
	ReceivedAt  time.Time
	RequestSize int

	// Routing
	Provider adapters.Provider
	Factory  providers.Factory
	Adapter  adapters.RequestAdapter
	Client   *providers.Client
	Stream   bool

	// Compression; nil when the stage did not run.
	Compression     *compression.Result
	CompressionTime time.Duration

	// Upstream
	StatusCode   int
	ResponseSize int
	UpstreamTime time.Duration
	FirstChunk   time.Duration
	Withheld     int
	Forwarded    int

	// Outcome
	StopReason string
	ToolCalls  int
	Usage      adapters.Usage
	Blocked    []string
	Err        error
}

// NewRequestContext creates a request context for provider p.
func NewRequestContext(requestID string, p adapters.Provider, channel string) *RequestContext {
	return &RequestContext{
		RequestID:  requestID,
		Provider:   p,
		Channel:    channel,
		ReceivedAt: time.Now(),
		StatusCode: 200,
	}
}

// Model returns the model the request targets.
func (rc *RequestContext) Model() string {
	if rc.Adapter == nil {
		return ""
	}
	return rc.Adapter.Model()
}

func (rc *RequestContext) fromResponse(resp adapters.ResponseAdapter) {
	rc.StopReason = resp.StopReason()
	rc.ToolCalls = len(resp.ToolCalls())
	rc.Usage = resp.Usage()
}

func (rc *RequestContext) fromStream(sa adapters.StreamAdapter) {
	rc.StopReason = sa.StopReason()
	rc.ToolCalls = len(sa.ToolCalls())
	rc.Usage = sa.Usage()
	rc.FirstChunk = sa.State().Timing.TimeToFirstChunk()
}

// Event converts the context to a telemetry event.
func (rc *RequestContext) Event() *monitoring.RequestEvent {
	ev := &monitoring.RequestEvent{
		RequestID:        rc.RequestID,
		Timestamp:        rc.ReceivedAt,
		Method:           rc.Method,
		Path:             rc.Path,
		Provider:         string(rc.Provider),
		Model:            rc.Model(),
		Stream:           rc.Stream,
		Correlation:      rc.Correlation,
		RequestBodySize:  rc.RequestSize,
		ResponseBodySize: rc.ResponseSize,
		StatusCode:       rc.StatusCode,
		StopReason:       rc.StopReason,
		ToolCalls:        rc.ToolCalls,
		BlockedTools:     rc.Blocked,
		InputTokens:      rc.Usage.InputTokens,
		OutputTokens:     rc.Usage.OutputTokens,
		Success:          rc.Err == nil && rc.StatusCode < 400,
		FirstChunkMs:     rc.FirstChunk.Milliseconds(),
		UpstreamLatency:  rc.UpstreamTime.Milliseconds(),
		TotalLatencyMs:   time.Since(rc.ReceivedAt).Milliseconds(),
		CompressionMs:    rc.CompressionTime.Milliseconds(),
		WithheldEvents:   rc.Withheld,
		ForwardedEvents:  rc.Forwarded,
		TransportChannel: rc.Channel,
	}
	if rc.Err != nil {
		ev.Error = rc.Err.Error()
	}
	if rc.Compression != nil {
		ev.ToonTokensBefore = rc.Compression.TokensBefore
		ev.ToonTokensAfter = rc.Compression.TokensAfter
		ev.ToonCostSavings = rc.Compression.CostSavings
		ev.ToonCostStatus = string(rc.Compression.CostStatus)
	}
	return ev
}
