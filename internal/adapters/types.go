// Package adapters types - the common intermediate representation (CIR).
//
// DESIGN: Every wire protocol converts to and from these vendor-neutral
// types. All types needed by adapters, providers, and gateway are defined
// here so no package has to import a vendor-specific file.
package adapters

import (
	"encoding/json"
	"time"

	"github.com/compresr/provider-gateway/internal/compression"
)

// =============================================================================
// PROVIDER TYPES - A provider is a wire protocol, not a company
// =============================================================================

// Provider identifies a wire protocol.
type Provider string

const (
	ProviderOpenAI          Provider = "openai"
	ProviderOpenAIResponses Provider = "openai-responses"
	ProviderAnthropic       Provider = "anthropic"
	ProviderBedrock         Provider = "bedrock"
	ProviderZhipu           Provider = "zhipuai"
	ProviderGemini          Provider = "gemini"
	ProviderOllama          Provider = "ollama"
	ProviderUnknown         Provider = "unknown"
)

// AllProviders lists every supported wire protocol.
var AllProviders = []Provider{
	ProviderOpenAI,
	ProviderOpenAIResponses,
	ProviderAnthropic,
	ProviderBedrock,
	ProviderZhipu,
	ProviderGemini,
	ProviderOllama,
}

// String returns the provider name.
func (p Provider) String() string {
	return string(p)
}

// ProviderFromString converts a string to a Provider type.
func ProviderFromString(s string) Provider {
	switch s {
	case "openai", "openai-chat":
		return ProviderOpenAI
	case "openai-responses", "responses":
		return ProviderOpenAIResponses
	case "anthropic":
		return ProviderAnthropic
	case "bedrock":
		return ProviderBedrock
	case "zhipuai", "zhipu":
		return ProviderZhipu
	case "gemini":
		return ProviderGemini
	case "ollama":
		return ProviderOllama
	default:
		return ProviderUnknown
	}
}

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// Role is the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// UnknownToolName is used when a tool result cannot be matched to the
// assistant tool call that produced it.
const UnknownToolName = "unknown"

// CommonMessage is one turn in vendor-neutral form.
// ToolCalls is set only on tool-result turns.
type CommonMessage struct {
	Role      Role               `json:"role"`
	Content   string             `json:"content,omitempty"`
	ToolCalls []CommonToolResult `json:"tool_calls,omitempty"`
}

// CommonToolCall is a tool invocation chosen by the model.
// ID is the vendor call-correlation id used to attach the result later.
type CommonToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CommonToolResult is the outcome of executing a tool call.
// Content is the parsed JSON value, or the raw string when it is not JSON.
type CommonToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content any    `json:"content"`
	IsError bool   `json:"is_error"`
	Error   string `json:"error,omitempty"`
}

// CommonTool is a user-defined function tool declaration.
type CommonTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// =============================================================================
// USAGE TYPES
// =============================================================================

// Usage holds token usage.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// =============================================================================
// STOP REASONS - normalized across protocols
// =============================================================================

const (
	StopReasonStop          = "stop"
	StopReasonToolCalls     = "tool_calls"
	StopReasonLength        = "length"
	StopReasonContentFilter = "content_filter"
	StopReasonIncomplete    = "incomplete"
	StopReasonError         = "error"
)

// =============================================================================
// STREAM TYPES
// =============================================================================

// StreamEvent is one vendor stream event. Type is the SSE event name or
// the event-stream :event-type header; it may be empty when the vendor
// only carries the type inside Data.
type StreamEvent struct {
	Type string
	Data []byte
}

// ChunkProcessingResult tells the orchestrator what to do with one event.
// A nil SSEData means the event is withheld.
type ChunkProcessingResult struct {
	SSEData         []byte
	IsToolCallChunk bool
	IsFinal         bool
}

// Withheld reports whether nothing should be forwarded for this event.
func (r ChunkProcessingResult) Withheld() bool {
	return r.SSEData == nil
}

// Timing records stream latency markers.
type Timing struct {
	StartTime      time.Time
	FirstChunkTime time.Time
}

// TimeToFirstChunk returns the delay before the first event, or 0.
func (t Timing) TimeToFirstChunk() time.Duration {
	if t.FirstChunkTime.IsZero() {
		return 0
	}
	return t.FirstChunkTime.Sub(t.StartTime)
}

// StreamAccumulatorState is the per-request state folded from stream events.
// Text is append-only. ToolCalls holds finalized calls only.
type StreamAccumulatorState struct {
	ResponseID        string
	Model             string
	Text              string
	ToolCalls         []CommonToolCall
	RawToolCallEvents [][]byte
	Usage             Usage
	StopReason        string
	Timing            Timing
}

// =============================================================================
// COMPRESSION TYPES
// =============================================================================

// ToonCompressionResult is the accounting for one ApplyToonCompression call.
type ToonCompressionResult = compression.Result
