package adapters

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// =============================================================================
// EVENT GRAMMAR - Chat Completions chunks are classified by content
// =============================================================================

type chatChunkKind int

const (
	chatKindUnknown chatChunkKind = iota
	chatKindDelta
	chatKindToolCall
	chatKindFinish
	chatKindUsage
	chatKindDone
	chatKindError
	chatKindCount
)

// chatEventKinds names every chunk kind.
var chatEventKinds = map[string]chatChunkKind{
	"delta":     chatKindDelta,
	"tool_call": chatKindToolCall,
	"finish":    chatKindFinish,
	"usage":     chatKindUsage,
	"done":      chatKindDone,
	"error":     chatKindError,
}

func classifyChatChunk(data []byte, chunk *openai.ChatCompletionStreamResponse) chatChunkKind {
	if string(data) == "[DONE]" {
		return chatKindDone
	}
	if gjson.GetBytes(data, "error").Exists() {
		return chatKindError
	}
	if err := json.Unmarshal(data, chunk); err != nil {
		return chatKindUnknown
	}
	if len(chunk.Choices) == 0 {
		if chunk.Usage != nil {
			return chatKindUsage
		}
		return chatKindDelta
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
		return chatKindFinish
	}
	if len(choice.Delta.ToolCalls) > 0 || choice.Delta.FunctionCall != nil {
		return chatKindToolCall
	}
	return chatKindDelta
}

// chatSlot buffers one streamed tool call, keyed by its delta index.
type chatSlot struct {
	id   string
	name string
	args strings.Builder
}

// ChatStreamAdapter folds Chat Completions stream chunks. Tool-call chunks
// are withheld until the chunk carrying finish_reason, then released
// together with it.
type ChatStreamAdapter struct {
	accumulator
	slots map[int]*chatSlot
	held  []byte
}

// NewOpenAIStreamAdapter creates a Chat Completions stream adapter.
func NewOpenAIStreamAdapter() *ChatStreamAdapter { return newChatStreamAdapter(ProviderOpenAI) }

// NewZhipuStreamAdapter creates a Zhipuai stream adapter.
func NewZhipuStreamAdapter() *ChatStreamAdapter { return newChatStreamAdapter(ProviderZhipu) }

// NewOllamaStreamAdapter creates an Ollama stream adapter.
func NewOllamaStreamAdapter() *ChatStreamAdapter { return newChatStreamAdapter(ProviderOllama) }

func newChatStreamAdapter(provider Provider) *ChatStreamAdapter {
	return &ChatStreamAdapter{
		accumulator: newAccumulator(provider),
		slots:       make(map[int]*chatSlot),
	}
}

// ProcessChunk applies one chunk.
func (a *ChatStreamAdapter) ProcessChunk(ev StreamEvent) ChunkProcessingResult {
	a.touch()
	if a.finished {
		return ChunkProcessingResult{IsFinal: true}
	}
	data := bytes.TrimSpace(ev.Data)

	var chunk openai.ChatCompletionStreamResponse
	kind := classifyChatChunk(data, &chunk)
	res, handled := a.transition(kind, data, &chunk)
	if !handled {
		log.Debug().Str("provider", a.provider.String()).Msg("adapters: unrecognized chat chunk, forwarding")
		return forward(dataFrame(data))
	}
	return res
}

func (a *ChatStreamAdapter) transition(kind chatChunkKind, data []byte, chunk *openai.ChatCompletionStreamResponse) (ChunkProcessingResult, bool) {
	frame := dataFrame(data)

	switch kind {
	case chatKindDelta:
		a.capture(chunk)
		if len(chunk.Choices) > 0 {
			a.appendText(chunk.Choices[0].Delta.Content)
		}
		return forward(frame), true

	case chatKindToolCall:
		a.capture(chunk)
		a.bufferToolDeltas(chunk.Choices[0].Delta)
		a.appendText(chunk.Choices[0].Delta.Content)
		a.recordRaw(data)
		a.held = append(a.held, frame...)
		return withhold(), true

	case chatKindFinish:
		a.capture(chunk)
		choice := chunk.Choices[0]
		hadTools := len(choice.Delta.ToolCalls) > 0 || choice.Delta.FunctionCall != nil
		if hadTools {
			a.bufferToolDeltas(choice.Delta)
			a.recordRaw(data)
		}
		a.appendText(choice.Delta.Content)
		reason := string(choice.FinishReason)
		a.setStop(reason, chatStopReason(reason))

		released := len(a.slots) > 0
		a.finalizeSlots()
		out := joinFrames(a.held, frame)
		a.held = nil
		if released || hadTools {
			return toolChunk(out), true
		}
		return forward(out), true

	case chatKindUsage:
		a.capture(chunk)
		return forward(frame), true

	case chatKindDone:
		a.discardSlots()
		a.finished = true
		return final(doneSentinel), true

	case chatKindError:
		a.setStop("error", StopReasonError)
		a.discardSlots()
		a.finished = true
		return final(joinFrames(frame, doneSentinel)), true
	}
	return ChunkProcessingResult{}, false
}

func (a *ChatStreamAdapter) capture(chunk *openai.ChatCompletionStreamResponse) {
	if chunk.ID != "" {
		a.state.ResponseID = chunk.ID
	}
	if chunk.Model != "" {
		a.state.Model = chunk.Model
	}
	if chunk.Usage != nil {
		a.state.Usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
	}
}

func (a *ChatStreamAdapter) bufferToolDeltas(delta openai.ChatCompletionStreamChoiceDelta) {
	for pos, tc := range delta.ToolCalls {
		idx := pos
		if tc.Index != nil {
			idx = *tc.Index
		}
		slot, ok := a.slots[idx]
		if !ok {
			slot = &chatSlot{}
			a.slots[idx] = slot
		}
		if tc.ID != "" {
			slot.id = tc.ID
		}
		if tc.Function.Name != "" {
			slot.name = tc.Function.Name
		}
		slot.args.WriteString(tc.Function.Arguments)
	}
	if fc := delta.FunctionCall; fc != nil {
		slot, ok := a.slots[0]
		if !ok {
			slot = &chatSlot{}
			a.slots[0] = slot
		}
		if fc.Name != "" {
			slot.name = fc.Name
		}
		slot.args.WriteString(fc.Arguments)
	}
}

// finalizeSlots completes every buffered call in index order and empties
// the arena.
func (a *ChatStreamAdapter) finalizeSlots() {
	indexes := make([]int, 0, len(a.slots))
	for idx := range a.slots {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		slot := a.slots[idx]
		a.finalizeCall(CommonToolCall{
			ID:        slot.id,
			Name:      slot.name,
			Arguments: parseArguments(slot.id, slot.args.String()),
		})
		delete(a.slots, idx)
	}
}

func (a *ChatStreamAdapter) discardSlots() {
	for idx, slot := range a.slots {
		log.Debug().Str("call_id", slot.id).Msg("adapters: discarding unfinished tool call")
		delete(a.slots, idx)
	}
	a.held = nil
}

// =============================================================================
// SYNTHETIC FRAMES
// =============================================================================

func (a *ChatStreamAdapter) chunk(delta openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) []byte {
	id := a.state.ResponseID
	if id == "" {
		id = "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	c := openai.ChatCompletionStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   a.state.Model,
		Choices: []openai.ChatCompletionStreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return dataFrame(data)
}

// FormatTextDeltaSSE renders a content delta chunk.
func (a *ChatStreamAdapter) FormatTextDeltaSSE(text string) []byte {
	return a.chunk(openai.ChatCompletionStreamChoiceDelta{Content: text}, "")
}

// FormatCompleteTextSSE renders an assistant role+content chunk.
func (a *ChatStreamAdapter) FormatCompleteTextSSE(text string) []byte {
	return a.chunk(openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant, Content: text}, "")
}

// FormatEndSSE renders a stop chunk followed by [DONE].
func (a *ChatStreamAdapter) FormatEndSSE() []byte {
	return joinFrames(a.chunk(openai.ChatCompletionStreamChoiceDelta{}, openai.FinishReasonStop), doneSentinel)
}

func (a *ChatStreamAdapter) completion() openai.ChatCompletionResponse {
	id := a.state.ResponseID
	if id == "" {
		id = "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return openai.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   a.state.Model,
		Usage: openai.Usage{
			PromptTokens:     a.state.Usage.InputTokens,
			CompletionTokens: a.state.Usage.OutputTokens,
			TotalTokens:      a.state.Usage.Total(),
		},
	}
}

// ToProviderResponse builds a chat.completion from the accumulated state.
func (a *ChatStreamAdapter) ToProviderResponse() ([]byte, error) {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: a.state.Text}
	for _, call := range a.state.ToolCalls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			return nil, err
		}
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:       call.ID,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: call.Name, Arguments: string(args)},
		})
	}
	resp := a.completion()
	resp.Choices = []openai.ChatCompletionChoice{{
		Index:        0,
		Message:      msg,
		FinishReason: openai.FinishReason(a.vendorStop),
	}}
	return json.Marshal(resp)
}

// ToProviderRefusalResponse builds a refusal chat.completion.
func (a *ChatStreamAdapter) ToProviderRefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	body, err := json.Marshal(a.completion())
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(body, "choices", chatRefusalChoices(refusalMessage, contentMessage))
}

// Ensure ChatStreamAdapter implements StreamAdapter
var _ StreamAdapter = (*ChatStreamAdapter)(nil)
