package adapters

import (
	"bytes"
	"time"

	"github.com/tidwall/gjson"
)

// doneSentinel terminates OpenAI-style client streams.
var doneSentinel = []byte("data: [DONE]\n\n")

// accumulator is the state shared by every stream adapter. Each protocol
// embeds it and layers its own output-index arena on top.
type accumulator struct {
	provider Provider
	state    StreamAccumulatorState
	// vendorStop is the stop reason in the vendor's own vocabulary, used
	// when rebuilding a vendor response.
	vendorStop string
	finished   bool
}

func newAccumulator(provider Provider) accumulator {
	return accumulator{
		provider: provider,
		state: StreamAccumulatorState{
			Timing: Timing{StartTime: time.Now()},
		},
	}
}

// Provider returns the wire protocol.
func (a *accumulator) Provider() Provider { return a.provider }

// State returns the accumulated state.
func (a *accumulator) State() *StreamAccumulatorState { return &a.state }

// Text returns the aggregated assistant text.
func (a *accumulator) Text() string { return a.state.Text }

// ToolCalls returns the finalized tool calls.
func (a *accumulator) ToolCalls() []CommonToolCall { return a.state.ToolCalls }

// Usage returns token usage seen so far.
func (a *accumulator) Usage() Usage { return a.state.Usage }

// StopReason returns the normalized stop reason.
func (a *accumulator) StopReason() string { return a.state.StopReason }

// RawToolCallEvents returns every raw tool-call event in arrival order.
func (a *accumulator) RawToolCallEvents() [][]byte { return a.state.RawToolCallEvents }

// SSEHeaders returns the client stream headers.
func (a *accumulator) SSEHeaders() map[string]string { return SSEHeaders() }

// touch records the first-chunk time.
func (a *accumulator) touch() {
	if a.state.Timing.FirstChunkTime.IsZero() {
		a.state.Timing.FirstChunkTime = time.Now()
	}
}

func (a *accumulator) appendText(s string) {
	a.state.Text += s
}

func (a *accumulator) recordRaw(data []byte) {
	a.state.RawToolCallEvents = append(a.state.RawToolCallEvents, append([]byte(nil), data...))
}

func (a *accumulator) finalizeCall(call CommonToolCall) {
	a.state.ToolCalls = append(a.state.ToolCalls, call)
}

// setStop records both the vendor and normalized stop reasons.
func (a *accumulator) setStop(vendor, normalized string) {
	a.vendorStop = vendor
	a.state.StopReason = normalized
}

// =============================================================================
// RESULTS
// =============================================================================

func forward(frame []byte) ChunkProcessingResult {
	return ChunkProcessingResult{SSEData: frame}
}

func withhold() ChunkProcessingResult {
	return ChunkProcessingResult{IsToolCallChunk: true}
}

func toolChunk(frame []byte) ChunkProcessingResult {
	return ChunkProcessingResult{SSEData: frame, IsToolCallChunk: true}
}

func final(frame []byte) ChunkProcessingResult {
	return ChunkProcessingResult{SSEData: frame, IsFinal: true}
}

// =============================================================================
// SSE FRAMING
// =============================================================================

// dataFrame renders "data: <json>\n\n".
func dataFrame(data []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(data) + 8)
	b.WriteString("data: ")
	b.Write(bytes.TrimSpace(data))
	b.WriteString("\n\n")
	return b.Bytes()
}

// eventFrame renders "event: <name>\ndata: <json>\n\n".
func eventFrame(name string, data []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(name) + len(data) + 17)
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteString("\ndata: ")
	b.Write(bytes.TrimSpace(data))
	b.WriteString("\n\n")
	return b.Bytes()
}

func joinFrames(frames ...[]byte) []byte {
	return bytes.Join(frames, nil)
}

// eventType resolves the event name from the SSE event line or the "type"
// field of the payload.
func eventType(ev StreamEvent) string {
	if ev.Type != "" && ev.Type != "message" {
		return ev.Type
	}
	return gjson.GetBytes(ev.Data, "type").String()
}
