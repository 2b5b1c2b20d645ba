package adapters

import (
	"bytes"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// =============================================================================
// EVENT GRAMMAR - closed set of Responses stream event kinds
// =============================================================================

type responsesEventKind int

const (
	responsesKindUnknown responsesEventKind = iota
	responsesKindLifecycle
	responsesKindOutputItemAdded
	responsesKindOutputItemDone
	responsesKindOutputTextDelta
	responsesKindArgumentsDelta
	responsesKindArgumentsDone
	responsesKindCompleted
	responsesKindFailed
	responsesKindIncomplete
	responsesKindError
	responsesKindPassthrough
	responsesKindCount
)

// responsesEventKinds maps every event type the gateway knows to its kind.
// Built-in tool progress, reasoning, and content-part bookkeeping carry no
// state and are forwarded as-is.
var responsesEventKinds = map[string]responsesEventKind{
	"response.created":                             responsesKindLifecycle,
	"response.in_progress":                         responsesKindLifecycle,
	"response.queued":                              responsesKindLifecycle,
	"response.output_item.added":                   responsesKindOutputItemAdded,
	"response.output_item.done":                    responsesKindOutputItemDone,
	"response.output_text.delta":                   responsesKindOutputTextDelta,
	"response.function_call_arguments.delta":       responsesKindArgumentsDelta,
	"response.function_call_arguments.done":        responsesKindArgumentsDone,
	"response.completed":                           responsesKindCompleted,
	"response.failed":                              responsesKindFailed,
	"response.incomplete":                          responsesKindIncomplete,
	"error":                                        responsesKindError,
	"response.content_part.added":                  responsesKindPassthrough,
	"response.content_part.done":                   responsesKindPassthrough,
	"response.output_text.done":                    responsesKindPassthrough,
	"response.output_text.annotation.added":        responsesKindPassthrough,
	"response.refusal.delta":                       responsesKindPassthrough,
	"response.refusal.done":                        responsesKindPassthrough,
	"response.reasoning_summary_part.added":        responsesKindPassthrough,
	"response.reasoning_summary_part.done":         responsesKindPassthrough,
	"response.reasoning_summary_text.delta":        responsesKindPassthrough,
	"response.reasoning_summary_text.done":         responsesKindPassthrough,
	"response.reasoning_text.delta":                responsesKindPassthrough,
	"response.reasoning_text.done":                 responsesKindPassthrough,
	"response.web_search_call.in_progress":         responsesKindPassthrough,
	"response.web_search_call.searching":           responsesKindPassthrough,
	"response.web_search_call.completed":           responsesKindPassthrough,
	"response.file_search_call.in_progress":        responsesKindPassthrough,
	"response.file_search_call.searching":          responsesKindPassthrough,
	"response.file_search_call.completed":          responsesKindPassthrough,
	"response.code_interpreter_call.in_progress":   responsesKindPassthrough,
	"response.code_interpreter_call.interpreting":  responsesKindPassthrough,
	"response.code_interpreter_call.completed":     responsesKindPassthrough,
	"response.code_interpreter_call_code.delta":    responsesKindPassthrough,
	"response.code_interpreter_call_code.done":     responsesKindPassthrough,
	"response.image_generation_call.in_progress":   responsesKindPassthrough,
	"response.image_generation_call.generating":    responsesKindPassthrough,
	"response.image_generation_call.partial_image": responsesKindPassthrough,
	"response.image_generation_call.completed":     responsesKindPassthrough,
	"response.mcp_call.in_progress":                responsesKindPassthrough,
	"response.mcp_call.completed":                  responsesKindPassthrough,
	"response.mcp_call.failed":                     responsesKindPassthrough,
}

// responsesSlot is one entry of the output-index arena.
type responsesSlot struct {
	itemType string
	callID   string
	name     string
	args     strings.Builder
	// held is the withheld function_call_arguments.done frame.
	held []byte
}

// ResponsesStreamAdapter folds Responses API stream events.
type ResponsesStreamAdapter struct {
	accumulator
	slots    map[int]*responsesSlot
	items    map[int]string // finalized output items, raw JSON
	maxIndex int
	// openText is the synthetic message item fed by FormatTextDeltaSSE.
	openText *syntheticItem
}

type syntheticItem struct {
	id    string
	index int
	text  strings.Builder
}

// NewResponsesStreamAdapter creates a Responses stream adapter.
func NewResponsesStreamAdapter() *ResponsesStreamAdapter {
	return &ResponsesStreamAdapter{
		accumulator: newAccumulator(ProviderOpenAIResponses),
		slots:       make(map[int]*responsesSlot),
		items:       make(map[int]string),
		maxIndex:    -1,
	}
}

// ProcessChunk applies one Responses stream event.
func (a *ResponsesStreamAdapter) ProcessChunk(ev StreamEvent) ChunkProcessingResult {
	a.touch()
	data := bytes.TrimSpace(ev.Data)
	if a.finished {
		return ChunkProcessingResult{IsFinal: true}
	}
	if string(data) == "[DONE]" {
		a.finished = true
		return final(doneSentinel)
	}

	typ := eventType(ev)
	res, handled := a.transition(responsesEventKinds[typ], data)
	if !handled {
		log.Debug().Str("event", typ).Msg("adapters: unknown responses stream event, forwarding")
		return forward(dataFrame(data))
	}
	return res
}

func (a *ResponsesStreamAdapter) transition(kind responsesEventKind, data []byte) (ChunkProcessingResult, bool) {
	ev := gjson.ParseBytes(data)
	frame := dataFrame(data)

	switch kind {
	case responsesKindLifecycle:
		a.captureResponse(ev.Get("response"))
		return forward(frame), true

	case responsesKindOutputItemAdded:
		idx := a.index(ev)
		item := ev.Get("item")
		if _, exists := a.slots[idx]; exists {
			log.Debug().Int("output_index", idx).Msg("adapters: output index reused before done")
		}
		slot := &responsesSlot{itemType: item.Get("type").String()}
		a.slots[idx] = slot
		if slot.itemType != "function_call" {
			return forward(frame), true
		}
		slot.callID = item.Get("call_id").String()
		slot.name = item.Get("name").String()
		a.recordRaw(data)
		return toolChunk(frame), true

	case responsesKindOutputTextDelta:
		delta := ev.Get("delta").String()
		a.appendText(delta)
		return forward(frame), true

	case responsesKindArgumentsDelta:
		slot := a.functionSlot(a.index(ev))
		slot.args.WriteString(ev.Get("delta").String())
		a.recordRaw(data)
		return withhold(), true

	case responsesKindArgumentsDone:
		slot := a.functionSlot(a.index(ev))
		if args := ev.Get("arguments"); args.Exists() {
			slot.args.Reset()
			slot.args.WriteString(args.String())
		}
		slot.held = append(slot.held, frame...)
		a.recordRaw(data)
		return withhold(), true

	case responsesKindOutputItemDone:
		idx := a.index(ev)
		item := ev.Get("item")
		slot := a.slots[idx]
		delete(a.slots, idx)
		a.items[idx] = item.Raw

		if item.Get("type").String() != "function_call" {
			return forward(frame), true
		}
		if slot == nil {
			slot = &responsesSlot{itemType: "function_call"}
		}
		callID := firstNonEmpty(item.Get("call_id").String(), slot.callID)
		argsRaw := slot.args.String()
		if args := item.Get("arguments"); args.Exists() {
			argsRaw = args.String()
		}
		a.finalizeCall(CommonToolCall{
			ID:        callID,
			Name:      firstNonEmpty(item.Get("name").String(), slot.name),
			Arguments: parseArguments(callID, argsRaw),
		})
		a.recordRaw(data)
		return toolChunk(joinFrames(slot.held, frame)), true

	case responsesKindCompleted:
		a.captureResponse(ev.Get("response"))
		a.setStop("completed", StopReasonStop)
		return a.finish(frame), true

	case responsesKindFailed:
		a.captureResponse(ev.Get("response"))
		a.setStop("failed", StopReasonError)
		return a.finish(frame), true

	case responsesKindIncomplete:
		a.captureResponse(ev.Get("response"))
		a.setStop("incomplete", StopReasonIncomplete)
		return a.finish(frame), true

	case responsesKindError:
		a.setStop("failed", StopReasonError)
		return a.finish(frame), true

	case responsesKindPassthrough:
		return forward(frame), true
	}
	return ChunkProcessingResult{}, false
}

// finish marks the stream terminal. Slots still open are dropped, never
// finalized.
func (a *ResponsesStreamAdapter) finish(frame []byte) ChunkProcessingResult {
	a.finished = true
	for idx := range a.slots {
		log.Debug().Int("output_index", idx).Msg("adapters: discarding unfinished output item")
		delete(a.slots, idx)
	}
	return final(joinFrames(frame, doneSentinel))
}

func (a *ResponsesStreamAdapter) index(ev gjson.Result) int {
	idx := int(ev.Get("output_index").Int())
	if idx > a.maxIndex {
		a.maxIndex = idx
	}
	return idx
}

// functionSlot returns the slot at idx, opening one when the added event
// was never seen.
func (a *ResponsesStreamAdapter) functionSlot(idx int) *responsesSlot {
	slot, ok := a.slots[idx]
	if !ok {
		slot = &responsesSlot{itemType: "function_call"}
		a.slots[idx] = slot
	}
	return slot
}

func (a *ResponsesStreamAdapter) captureResponse(resp gjson.Result) {
	if !resp.Exists() {
		return
	}
	if id := resp.Get("id").String(); id != "" {
		a.state.ResponseID = id
	}
	if model := resp.Get("model").String(); model != "" {
		a.state.Model = model
	}
	if usage := resp.Get("usage"); usage.Exists() {
		a.state.Usage = Usage{
			InputTokens:  int(usage.Get("input_tokens").Int()),
			OutputTokens: int(usage.Get("output_tokens").Int()),
		}
	}
}

// =============================================================================
// SYNTHETIC FRAMES
// =============================================================================

func (a *ResponsesStreamAdapter) nextIndex() int {
	a.maxIndex++
	return a.maxIndex
}

func outputItemAdded(idx int, itemID string) []byte {
	added := []byte(`{"type":"response.output_item.added","item":{"type":"message","status":"in_progress","role":"assistant","content":[]}}`)
	added, _ = sjson.SetBytes(added, "output_index", idx)
	added, _ = sjson.SetBytes(added, "item.id", itemID)
	return dataFrame(added)
}

func outputTextDelta(idx int, itemID, text string) []byte {
	delta := []byte(`{"type":"response.output_text.delta","content_index":0}`)
	delta, _ = sjson.SetBytes(delta, "item_id", itemID)
	delta, _ = sjson.SetBytes(delta, "output_index", idx)
	delta, _ = sjson.SetBytes(delta, "delta", text)
	return dataFrame(delta)
}

// closeItem renders output_text.done and output_item.done for a message.
func closeItem(idx int, itemID, text string) []byte {
	done := []byte(`{"type":"response.output_text.done","content_index":0}`)
	done, _ = sjson.SetBytes(done, "item_id", itemID)
	done, _ = sjson.SetBytes(done, "output_index", idx)
	done, _ = sjson.SetBytes(done, "text", text)

	itemDone := []byte(`{"type":"response.output_item.done"}`)
	itemDone, _ = sjson.SetBytes(itemDone, "output_index", idx)
	itemDone, _ = sjson.SetRawBytes(itemDone, "item", messageItem(itemID, text))
	return joinFrames(dataFrame(done), dataFrame(itemDone))
}

// closeOpenText closes the synthetic item opened by FormatTextDeltaSSE.
func (a *ResponsesStreamAdapter) closeOpenText() []byte {
	if a.openText == nil {
		return nil
	}
	item := a.openText
	a.openText = nil
	return closeItem(item.index, item.id, item.text.String())
}

// FormatTextDeltaSSE renders a response.output_text.delta event, opening a
// message item first when none is open.
func (a *ResponsesStreamAdapter) FormatTextDeltaSSE(text string) []byte {
	var prefix []byte
	if a.openText == nil {
		a.openText = &syntheticItem{id: newMessageID(), index: a.nextIndex()}
		prefix = outputItemAdded(a.openText.index, a.openText.id)
	}
	a.openText.text.WriteString(text)
	return joinFrames(prefix, outputTextDelta(a.openText.index, a.openText.id, text))
}

// FormatCompleteTextSSE renders a whole assistant message item.
func (a *ResponsesStreamAdapter) FormatCompleteTextSSE(text string) []byte {
	closeOpen := a.closeOpenText()
	idx := a.nextIndex()
	itemID := newMessageID()
	return joinFrames(closeOpen, outputItemAdded(idx, itemID), outputTextDelta(idx, itemID, text), closeItem(idx, itemID, text))
}

// FormatEndSSE renders response.completed followed by [DONE].
func (a *ResponsesStreamAdapter) FormatEndSSE() []byte {
	ev := []byte(`{"type":"response.completed"}`)
	ev, _ = sjson.SetRawBytes(ev, "response", responsesEnvelope(a.state.ResponseID, a.state.Model, "completed", a.state.Usage))
	return joinFrames(a.closeOpenText(), dataFrame(ev), doneSentinel)
}

// ToProviderResponse rebuilds the Responses API response from the
// finalized output items.
func (a *ResponsesStreamAdapter) ToProviderResponse() ([]byte, error) {
	status := a.vendorStop
	if status == "" {
		status = "completed"
	}
	body := responsesEnvelope(a.state.ResponseID, a.state.Model, status, a.state.Usage)

	indexes := make([]int, 0, len(a.items))
	for idx := range a.items {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var err error
	for _, idx := range indexes {
		body, err = sjson.SetRawBytes(body, "output.-1", []byte(a.items[idx]))
		if err != nil {
			return nil, err
		}
	}
	if len(indexes) == 0 && a.state.Text != "" {
		body, err = sjson.SetRawBytes(body, "output.-1", messageItem(newMessageID(), a.state.Text))
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

// ToProviderRefusalResponse builds a refusal response for this stream.
func (a *ResponsesStreamAdapter) ToProviderRefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	body := responsesEnvelope(a.state.ResponseID, a.state.Model, "completed", a.state.Usage)
	return sjson.SetRawBytes(body, "output", responsesRefusalOutput(refusalMessage, contentMessage))
}

func newMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func messageItem(id, text string) []byte {
	item := []byte(`{"type":"message","status":"completed","role":"assistant","content":[{"type":"output_text","annotations":[]}]}`)
	item, _ = sjson.SetBytes(item, "id", id)
	item, _ = sjson.SetBytes(item, "content.0.text", text)
	return item
}

// Ensure ResponsesStreamAdapter implements StreamAdapter
var _ StreamAdapter = (*ResponsesStreamAdapter)(nil)
