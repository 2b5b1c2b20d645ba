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
// EVENT GRAMMAR - Bedrock ConverseStream
// =============================================================================

type converseEventKind int

const (
	converseKindUnknown converseEventKind = iota
	converseKindMessageStart
	converseKindBlockStart
	converseKindBlockDelta
	converseKindBlockStop
	converseKindMessageStop
	converseKindMetadata
	converseKindException
	converseKindCount
)

var converseEventKinds = map[string]converseEventKind{
	"messageStart":                converseKindMessageStart,
	"contentBlockStart":           converseKindBlockStart,
	"contentBlockDelta":           converseKindBlockDelta,
	"contentBlockStop":            converseKindBlockStop,
	"messageStop":                 converseKindMessageStop,
	"metadata":                    converseKindMetadata,
	"internalServerException":     converseKindException,
	"modelStreamErrorException":   converseKindException,
	"validationException":         converseKindException,
	"throttlingException":         converseKindException,
	"serviceUnavailableException": converseKindException,
}

// converseBlock is one entry of the content-block arena.
type converseBlock struct {
	isTool    bool
	toolUseID string
	name      string
	text      strings.Builder
	args      strings.Builder
	held      []byte
}

// BedrockStreamAdapter folds ConverseStream events decoded from the binary
// event stream. Events are re-emitted as data: {"<eventType>": {...}}.
// toolUse blocks are withheld until their contentBlockStop.
type BedrockStreamAdapter struct {
	accumulator
	blocks    map[int]*converseBlock
	done      map[int]string
	maxIndex  int
	latencyMs int64
}

// NewBedrockStreamAdapter creates a Bedrock stream adapter.
func NewBedrockStreamAdapter() *BedrockStreamAdapter {
	return &BedrockStreamAdapter{
		accumulator: newAccumulator(ProviderBedrock),
		blocks:      make(map[int]*converseBlock),
		done:        make(map[int]string),
		maxIndex:    -1,
	}
}

// unwrapConverseEvent accepts both a typed event and the wrapped
// {"<eventType>": {...}} form.
func unwrapConverseEvent(ev StreamEvent) (string, []byte) {
	data := bytes.TrimSpace(ev.Data)
	if ev.Type != "" && ev.Type != "message" {
		return ev.Type, data
	}
	var typ string
	var inner []byte
	n := 0
	gjson.ParseBytes(data).ForEach(func(k, v gjson.Result) bool {
		n++
		typ, inner = k.String(), []byte(v.Raw)
		return n < 2
	})
	if n != 1 {
		return "", data
	}
	return typ, inner
}

func converseFrame(typ string, payload []byte) []byte {
	wrapped, err := sjson.SetRawBytes([]byte(`{}`), gjsonEscapeKey(typ), payload)
	if err != nil {
		return dataFrame(payload)
	}
	return dataFrame(wrapped)
}

func gjsonEscapeKey(k string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(k)
}

// ProcessChunk applies one ConverseStream event.
func (a *BedrockStreamAdapter) ProcessChunk(ev StreamEvent) ChunkProcessingResult {
	a.touch()
	if a.finished {
		return ChunkProcessingResult{IsFinal: true}
	}
	typ, payload := unwrapConverseEvent(ev)

	res, handled := a.transition(converseEventKinds[typ], typ, payload)
	if !handled {
		if strings.HasSuffix(typ, "Exception") {
			res, _ = a.transition(converseKindException, typ, payload)
			return res
		}
		log.Debug().Str("event", typ).Msg("adapters: unknown converse stream event, forwarding")
		return forward(converseFrame(typ, payload))
	}
	return res
}

func (a *BedrockStreamAdapter) transition(kind converseEventKind, typ string, payload []byte) (ChunkProcessingResult, bool) {
	ev := gjson.ParseBytes(payload)
	frame := converseFrame(typ, payload)

	switch kind {
	case converseKindMessageStart:
		return forward(frame), true

	case converseKindBlockStart:
		idx := a.index(ev)
		if _, exists := a.blocks[idx]; exists {
			log.Debug().Int("index", idx).Msg("adapters: content block index reused before stop")
		}
		tu := ev.Get("start.toolUse")
		if !tu.Exists() {
			a.blocks[idx] = &converseBlock{}
			return forward(frame), true
		}
		block := &converseBlock{
			isTool:    true,
			toolUseID: tu.Get("toolUseId").String(),
			name:      tu.Get("name").String(),
			held:      append([]byte(nil), frame...),
		}
		a.blocks[idx] = block
		a.recordRaw(payload)
		return withhold(), true

	case converseKindBlockDelta:
		idx := a.index(ev)
		block, ok := a.blocks[idx]
		if !ok {
			block = &converseBlock{}
			a.blocks[idx] = block
		}
		delta := ev.Get("delta")
		if input := delta.Get("toolUse.input"); input.Exists() {
			block.isTool = true
			block.args.WriteString(input.String())
			block.held = append(block.held, frame...)
			a.recordRaw(payload)
			return withhold(), true
		}
		if text := delta.Get("text"); text.Exists() {
			block.text.WriteString(text.String())
			a.appendText(text.String())
		}
		return forward(frame), true

	case converseKindBlockStop:
		idx := a.index(ev)
		block, ok := a.blocks[idx]
		delete(a.blocks, idx)
		if !ok {
			return forward(frame), true
		}
		a.done[idx] = block.finalJSON()
		if !block.isTool {
			return forward(frame), true
		}
		a.finalizeCall(CommonToolCall{
			ID:        block.toolUseID,
			Name:      block.name,
			Arguments: parseArguments(block.toolUseID, block.args.String()),
		})
		a.recordRaw(payload)
		return toolChunk(joinFrames(block.held, frame)), true

	case converseKindMessageStop:
		reason := ev.Get("stopReason").String()
		a.setStop(reason, bedrockStopReason(reason))
		return forward(frame), true

	case converseKindMetadata:
		if u := ev.Get("usage"); u.Exists() {
			a.state.Usage = bedrockUsage(u)
		}
		a.latencyMs = ev.Get("metrics.latencyMs").Int()
		a.finish()
		return final(frame), true

	case converseKindException:
		log.Debug().Str("exception", typ).Str("message", ev.Get("message").String()).Msg("adapters: converse stream exception")
		a.setStop("error", StopReasonError)
		a.finish()
		return final(frame), true
	}
	return ChunkProcessingResult{}, false
}

func (a *BedrockStreamAdapter) finish() {
	a.finished = true
	for idx := range a.blocks {
		log.Debug().Int("index", idx).Msg("adapters: discarding unfinished content block")
		delete(a.blocks, idx)
	}
}

func (a *BedrockStreamAdapter) index(ev gjson.Result) int {
	idx := int(ev.Get("contentBlockIndex").Int())
	if idx > a.maxIndex {
		a.maxIndex = idx
	}
	return idx
}

func (b *converseBlock) finalJSON() string {
	if !b.isTool {
		out, _ := sjson.Set(`{}`, "text", b.text.String())
		return out
	}
	args, err := json.Marshal(parseArguments(b.toolUseID, b.args.String()))
	if err != nil {
		args = []byte("{}")
	}
	out, _ := sjson.Set(`{"toolUse":{}}`, "toolUse.toolUseId", b.toolUseID)
	out, _ = sjson.Set(out, "toolUse.name", b.name)
	out, _ = sjson.SetRaw(out, "toolUse.input", string(args))
	return out
}

// =============================================================================
// SYNTHETIC FRAMES
// =============================================================================

func (a *BedrockStreamAdapter) nextIndex() int {
	a.maxIndex++
	return a.maxIndex
}

func converseTextDelta(idx int, text string) []byte {
	payload, _ := sjson.SetBytes([]byte(`{"delta":{}}`), "contentBlockIndex", idx)
	payload, _ = sjson.SetBytes(payload, "delta.text", text)
	return converseFrame("contentBlockDelta", payload)
}

// FormatTextDeltaSSE renders a contentBlockDelta text event.
func (a *BedrockStreamAdapter) FormatTextDeltaSSE(text string) []byte {
	return converseTextDelta(a.nextIndex(), text)
}

// FormatCompleteTextSSE renders a text delta followed by contentBlockStop.
func (a *BedrockStreamAdapter) FormatCompleteTextSSE(text string) []byte {
	idx := a.nextIndex()
	stop, _ := sjson.SetBytes([]byte(`{}`), "contentBlockIndex", idx)
	return joinFrames(converseTextDelta(idx, text), converseFrame("contentBlockStop", stop))
}

// FormatEndSSE renders messageStop and metadata.
func (a *BedrockStreamAdapter) FormatEndSSE() []byte {
	meta := bedrockEnvelope("end_turn", a.state.Usage, a.latencyMs)
	metadata, _ := sjson.DeleteBytes(meta, "output")
	metadata, _ = sjson.DeleteBytes(metadata, "stopReason")
	return joinFrames(
		converseFrame("messageStop", []byte(`{"stopReason":"end_turn"}`)),
		converseFrame("metadata", metadata),
	)
}

// ToProviderResponse rebuilds the Converse response.
func (a *BedrockStreamAdapter) ToProviderResponse() ([]byte, error) {
	body := bedrockEnvelope(a.vendorStop, a.state.Usage, a.latencyMs)

	indexes := make([]int, 0, len(a.done))
	for idx := range a.done {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var err error
	for _, idx := range indexes {
		body, err = sjson.SetRawBytes(body, "output.message.content.-1", []byte(a.done[idx]))
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

// ToProviderRefusalResponse builds a refusal Converse response.
func (a *BedrockStreamAdapter) ToProviderRefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	content, err := bedrockTextContent(refusalText(refusalMessage, contentMessage))
	if err != nil {
		return nil, err
	}
	body := bedrockEnvelope("end_turn", a.state.Usage, a.latencyMs)
	return sjson.SetRawBytes(body, "output.message.content", []byte(content))
}

// Ensure BedrockStreamAdapter implements StreamAdapter
var _ StreamAdapter = (*BedrockStreamAdapter)(nil)
