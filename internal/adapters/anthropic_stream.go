package adapters

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// =============================================================================
// EVENT GRAMMAR - Anthropic Messages stream
// =============================================================================

type anthropicEventKind int

const (
	anthropicKindUnknown anthropicEventKind = iota
	anthropicKindMessageStart
	anthropicKindBlockStart
	anthropicKindBlockDelta
	anthropicKindBlockStop
	anthropicKindMessageDelta
	anthropicKindMessageStop
	anthropicKindPing
	anthropicKindError
	anthropicKindCount
)

var anthropicEventKinds = map[string]anthropicEventKind{
	"message_start":       anthropicKindMessageStart,
	"content_block_start": anthropicKindBlockStart,
	"content_block_delta": anthropicKindBlockDelta,
	"content_block_stop":  anthropicKindBlockStop,
	"message_delta":       anthropicKindMessageDelta,
	"message_stop":        anthropicKindMessageStop,
	"ping":                anthropicKindPing,
	"error":               anthropicKindError,
}

// anthropicBlock is one entry of the content-block arena.
type anthropicBlock struct {
	typ       string
	id        string
	name      string
	start     string // raw content_block from content_block_start
	text      strings.Builder
	args      strings.Builder
	signature strings.Builder
	held      []byte
}

// AnthropicStreamAdapter folds Messages API stream events. tool_use blocks
// are withheld from content_block_start to content_block_stop and released
// whole.
type AnthropicStreamAdapter struct {
	accumulator
	blocks   map[int]*anthropicBlock
	done     map[int]string // finalized content blocks, raw JSON
	maxIndex int
	openText int
}

// NewAnthropicStreamAdapter creates an Anthropic stream adapter.
func NewAnthropicStreamAdapter() *AnthropicStreamAdapter {
	return &AnthropicStreamAdapter{
		accumulator: newAccumulator(ProviderAnthropic),
		blocks:      make(map[int]*anthropicBlock),
		done:        make(map[int]string),
		maxIndex:    -1,
		openText:    -1,
	}
}

// ProcessChunk applies one stream event.
func (a *AnthropicStreamAdapter) ProcessChunk(ev StreamEvent) ChunkProcessingResult {
	a.touch()
	if a.finished {
		return ChunkProcessingResult{IsFinal: true}
	}
	data := bytes.TrimSpace(ev.Data)
	typ := eventType(ev)

	res, handled := a.transition(anthropicEventKinds[typ], typ, data)
	if !handled {
		log.Debug().Str("event", typ).Msg("adapters: unknown anthropic stream event, forwarding")
		return forward(eventFrame(typ, data))
	}
	return res
}

func (a *AnthropicStreamAdapter) transition(kind anthropicEventKind, typ string, data []byte) (ChunkProcessingResult, bool) {
	ev := gjson.ParseBytes(data)
	frame := eventFrame(typ, data)

	switch kind {
	case anthropicKindMessageStart:
		msg := ev.Get("message")
		a.state.ResponseID = msg.Get("id").String()
		a.state.Model = msg.Get("model").String()
		a.state.Usage = anthropicUsage(msg.Get("usage"))
		return forward(frame), true

	case anthropicKindBlockStart:
		idx := a.index(ev)
		cb := ev.Get("content_block")
		if _, exists := a.blocks[idx]; exists {
			log.Debug().Int("index", idx).Msg("adapters: content block index reused before stop")
		}
		block := &anthropicBlock{
			typ:   cb.Get("type").String(),
			id:    cb.Get("id").String(),
			name:  cb.Get("name").String(),
			start: cb.Raw,
		}
		a.blocks[idx] = block
		switch block.typ {
		case "tool_use":
			block.held = append(block.held, frame...)
			a.recordRaw(data)
			return withhold(), true
		case "text":
			block.text.WriteString(cb.Get("text").String())
			a.appendText(cb.Get("text").String())
		}
		return forward(frame), true

	case anthropicKindBlockDelta:
		idx := a.index(ev)
		block, ok := a.blocks[idx]
		if !ok {
			block = &anthropicBlock{typ: "text"}
			a.blocks[idx] = block
		}
		delta := ev.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			text := delta.Get("text").String()
			block.text.WriteString(text)
			a.appendText(text)
		case "input_json_delta":
			block.args.WriteString(delta.Get("partial_json").String())
			if block.typ == "tool_use" {
				block.held = append(block.held, frame...)
				a.recordRaw(data)
				return withhold(), true
			}
		case "thinking_delta":
			block.text.WriteString(delta.Get("thinking").String())
		case "signature_delta":
			block.signature.WriteString(delta.Get("signature").String())
		}
		return forward(frame), true

	case anthropicKindBlockStop:
		idx := a.index(ev)
		block, ok := a.blocks[idx]
		delete(a.blocks, idx)
		if !ok {
			return forward(frame), true
		}
		a.done[idx] = block.finalJSON()
		if block.typ != "tool_use" {
			return forward(frame), true
		}
		a.finalizeCall(CommonToolCall{
			ID:        block.id,
			Name:      block.name,
			Arguments: parseArguments(block.id, block.args.String()),
		})
		a.recordRaw(data)
		return toolChunk(joinFrames(block.held, frame)), true

	case anthropicKindMessageDelta:
		if reason := ev.Get("delta.stop_reason").String(); reason != "" {
			a.setStop(reason, anthropicStopReason(reason))
		}
		if u := ev.Get("usage"); u.Exists() {
			if out := u.Get("output_tokens"); out.Exists() {
				a.state.Usage.OutputTokens = int(out.Int())
			}
			if in := anthropicUsage(u).InputTokens; in > 0 {
				a.state.Usage.InputTokens = in
			}
		}
		return forward(frame), true

	case anthropicKindMessageStop:
		a.finish()
		return final(frame), true

	case anthropicKindError:
		a.setStop("error", StopReasonError)
		a.finish()
		return final(frame), true

	case anthropicKindPing:
		return forward(frame), true
	}
	return ChunkProcessingResult{}, false
}

// finish marks the stream terminal and drops unfinished blocks.
func (a *AnthropicStreamAdapter) finish() {
	a.finished = true
	for idx := range a.blocks {
		log.Debug().Int("index", idx).Msg("adapters: discarding unfinished content block")
		delete(a.blocks, idx)
	}
}

func (a *AnthropicStreamAdapter) index(ev gjson.Result) int {
	idx := int(ev.Get("index").Int())
	if idx > a.maxIndex {
		a.maxIndex = idx
	}
	return idx
}

// finalJSON renders the completed block as it appears in a non-streaming
// response.
func (b *anthropicBlock) finalJSON() string {
	var out []byte
	switch b.typ {
	case "text":
		out, _ = sjson.SetBytes([]byte(`{"type":"text"}`), "text", b.text.String())
	case "tool_use":
		out = []byte(`{"type":"tool_use"}`)
		out, _ = sjson.SetBytes(out, "id", b.id)
		out, _ = sjson.SetBytes(out, "name", b.name)
		args, err := json.Marshal(parseArguments(b.id, b.args.String()))
		if err != nil {
			args = []byte("{}")
		}
		out, _ = sjson.SetRawBytes(out, "input", args)
	case "thinking":
		out, _ = sjson.SetBytes([]byte(`{"type":"thinking"}`), "thinking", b.text.String())
		out, _ = sjson.SetBytes(out, "signature", b.signature.String())
	default:
		if b.start == "" {
			return `{"type":"` + b.typ + `"}`
		}
		return b.start
	}
	return string(out)
}

// =============================================================================
// SYNTHETIC FRAMES
// =============================================================================

func (a *AnthropicStreamAdapter) nextIndex() int {
	a.maxIndex++
	return a.maxIndex
}

func textDelta(idx int, text string) []byte {
	ev, _ := sjson.SetBytes([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta"}}`), "index", idx)
	ev, _ = sjson.SetBytes(ev, "delta.text", text)
	return eventFrame("content_block_delta", ev)
}

// FormatTextDeltaSSE renders a text_delta, opening a text block first when
// none is open.
func (a *AnthropicStreamAdapter) FormatTextDeltaSSE(text string) []byte {
	var prefix []byte
	if a.openText < 0 {
		a.openText = a.nextIndex()
		start, _ := sjson.SetBytes([]byte(`{"type":"content_block_start","content_block":{"type":"text","text":""}}`), "index", a.openText)
		prefix = eventFrame("content_block_start", start)
	}
	return joinFrames(prefix, textDelta(a.openText, text))
}

// FormatCompleteTextSSE renders a whole text block.
func (a *AnthropicStreamAdapter) FormatCompleteTextSSE(text string) []byte {
	var closeOpen []byte
	if a.openText >= 0 {
		closeOpen = a.stopFrame(a.openText)
		a.openText = -1
	}
	idx := a.nextIndex()
	start, _ := sjson.SetBytes([]byte(`{"type":"content_block_start","content_block":{"type":"text","text":""}}`), "index", idx)
	return joinFrames(closeOpen, eventFrame("content_block_start", start), textDelta(idx, text), a.stopFrame(idx))
}

func (a *AnthropicStreamAdapter) stopFrame(idx int) []byte {
	stop, _ := sjson.SetBytes([]byte(`{"type":"content_block_stop"}`), "index", idx)
	return eventFrame("content_block_stop", stop)
}

// FormatEndSSE renders message_delta and message_stop.
func (a *AnthropicStreamAdapter) FormatEndSSE() []byte {
	var closeOpen []byte
	if a.openText >= 0 {
		closeOpen = a.stopFrame(a.openText)
		a.openText = -1
	}
	delta, _ := sjson.SetBytes([]byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null}}`),
		"usage.output_tokens", a.state.Usage.OutputTokens)
	return joinFrames(closeOpen, eventFrame("message_delta", delta), eventFrame("message_stop", []byte(`{"type":"message_stop"}`)))
}

// ToProviderResponse rebuilds the Messages API response.
func (a *AnthropicStreamAdapter) ToProviderResponse() ([]byte, error) {
	body := anthropicEnvelope(a.state.ResponseID, a.state.Model, a.vendorStop, a.state.Usage)

	indexes := make([]int, 0, len(a.done))
	for idx := range a.done {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var err error
	for _, idx := range indexes {
		body, err = sjson.SetRawBytes(body, "content.-1", []byte(a.done[idx]))
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

// ToProviderRefusalResponse builds a refusal message for this stream.
func (a *AnthropicStreamAdapter) ToProviderRefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	body := anthropicEnvelope(a.state.ResponseID, a.state.Model, "end_turn", a.state.Usage)
	return sjson.SetRawBytes(body, "content", anthropicTextContent(refusalText(refusalMessage, contentMessage)))
}

// Ensure AnthropicStreamAdapter implements StreamAdapter
var _ StreamAdapter = (*AnthropicStreamAdapter)(nil)
