// Package adapters translates vendor wire protocols to and from the common
// intermediate representation.
//
// DESIGN: Each protocol implements three independent roles:
//
//   - RequestAdapter:  read / stage modifications / rebuild a vendor request
//   - ResponseAdapter: read a non-streaming vendor response
//   - StreamAdapter:   fold vendor stream events into accumulated state and
//     decide per event whether to forward, withhold, or finish
//
// Request adapters never mutate the bytes they were built from. Reads use
// gjson on the raw body and rebuilds patch a copy with sjson, so fields the
// adapter does not understand survive untouched.
//
// FLOW:
//  1. Gateway picks a Factory by route and builds a RequestAdapter
//  2. ApplyToonCompression / UpdateToolResult stage content replacements
//  3. ToProviderRequest produces the vendor body sent upstream
//  4. The vendor answer goes through a ResponseAdapter or StreamAdapter
//
// To add a protocol: implement the three interfaces and register a Codec.
package adapters

import (
	"sync"

	"github.com/compresr/provider-gateway/internal/compression"
	"github.com/compresr/provider-gateway/internal/pricing"
	"github.com/compresr/provider-gateway/internal/tokenizer"
)

// RequestAdapter wraps one vendor request.
// All reads are total: malformed content degrades instead of failing.
type RequestAdapter interface {
	// Provider returns the wire protocol of this request.
	Provider() Provider

	// Model returns the staged model override, or the request's model.
	Model() string

	// SetModel stages a model override.
	SetModel(model string)

	// Messages returns every turn in vendor-neutral form.
	Messages() []CommonMessage

	// ToolResults returns the tool-result entries in document order.
	ToolResults() []CommonToolResult

	// Tools returns user-defined function tools. Vendor built-in tools are excluded.
	Tools() []CommonTool

	// HasTools reports whether Tools would return anything.
	HasTools() bool

	// UpdateToolResult stages new content for a tool result.
	UpdateToolResult(id, content string)

	// ApplyToolResultUpdates merges staged contents; later calls win.
	ApplyToolResultUpdates(updates map[string]string)

	// ApplyToonCompression stages TOON encodings of JSON tool results.
	ApplyToonCompression(model string) ToonCompressionResult

	// ToProviderRequest builds the vendor request with staged changes applied.
	ToProviderRequest() ([]byte, error)
}

// ResponseAdapter wraps one non-streaming vendor response.
type ResponseAdapter interface {
	Provider() Provider
	ID() string
	Model() string

	// Text concatenates assistant text in document order.
	Text() string

	// ToolCalls parses every tool call; malformed arguments become {}.
	ToolCalls() []CommonToolCall

	HasToolCalls() bool
	Usage() Usage
	StopReason() string

	// ToRefusalResponse builds a vendor response that replaces the answer
	// with a refusal.
	ToRefusalResponse(refusalMessage, contentMessage string) ([]byte, error)
}

// StreamAdapter is the per-request stream state machine.
// It is owned by one goroutine and is not safe for concurrent use.
type StreamAdapter interface {
	Provider() Provider

	// ProcessChunk applies one event and says what to forward.
	ProcessChunk(event StreamEvent) ChunkProcessingResult

	State() *StreamAccumulatorState
	Text() string
	ToolCalls() []CommonToolCall
	Usage() Usage
	StopReason() string
	RawToolCallEvents() [][]byte

	// SSEHeaders returns the response headers for the client stream.
	SSEHeaders() map[string]string

	// FormatTextDeltaSSE renders a synthetic text delta in the vendor grammar.
	FormatTextDeltaSSE(text string) []byte

	// FormatCompleteTextSSE renders a synthetic complete text block.
	FormatCompleteTextSSE(text string) []byte

	// FormatEndSSE renders the synthetic end of stream.
	FormatEndSSE() []byte

	// ToProviderResponse builds the non-streaming vendor response for the
	// accumulated state.
	ToProviderResponse() ([]byte, error)

	// ToProviderRefusalResponse is ToRefusalResponse over accumulated state.
	ToProviderRefusalResponse(refusalMessage, contentMessage string) ([]byte, error)
}

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures a request adapter.
type Option func(*options)

type options struct {
	compressor compression.Compressor
}

// WithCompressor sets the compressor used by ApplyToonCompression.
func WithCompressor(c compression.Compressor) Option {
	return func(o *options) {
		o.compressor = c
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.compressor == nil {
		o.compressor = defaultCompressor()
	}
	return o
}

var (
	defaultStageOnce sync.Once
	defaultStage     *compression.Stage
)

func defaultCompressor() compression.Compressor {
	defaultStageOnce.Do(func() {
		defaultStage = compression.NewStage(tokenizer.NewCache(), pricing.NewDefaultCatalog(), nil)
	})
	return defaultStage
}

// SSEHeaders are the client stream headers shared by every protocol.
func SSEHeaders() map[string]string {
	return map[string]string{
		"Content-Type":  "text/event-stream",
		"Cache-Control": "no-cache",
		"Connection":    "keep-alive",
	}
}
