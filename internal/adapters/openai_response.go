package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ChatResponseAdapter wraps a non-streaming Chat Completions response.
// Ollama's native /api/chat shape (message at top level, prompt_eval_count
// and eval_count for usage) is read as a fallback.
type ChatResponseAdapter struct {
	provider     Provider
	body         []byte
	resp         openai.ChatCompletionResponse
	hasToolCalls bool
}

// NewOpenAIResponseAdapter creates a Chat Completions response adapter.
func NewOpenAIResponseAdapter(body []byte) (*ChatResponseAdapter, error) {
	return newChatResponseAdapter(ProviderOpenAI, body)
}

// NewZhipuResponseAdapter creates a Zhipuai response adapter.
func NewZhipuResponseAdapter(body []byte) (*ChatResponseAdapter, error) {
	return newChatResponseAdapter(ProviderZhipu, body)
}

// NewOllamaResponseAdapter creates an Ollama response adapter.
func NewOllamaResponseAdapter(body []byte) (*ChatResponseAdapter, error) {
	return newChatResponseAdapter(ProviderOllama, body)
}

func newChatResponseAdapter(provider Provider, body []byte) (*ChatResponseAdapter, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: response body is not valid JSON", provider)
	}
	a := &ChatResponseAdapter{provider: provider, body: body}
	if err := json.Unmarshal(body, &a.resp); err != nil {
		log.Debug().Err(err).Str("provider", provider.String()).Msg("adapters: chat response did not decode, reading raw")
	}
	a.hasToolCalls = len(a.ToolCalls()) > 0
	return a, nil
}

// Provider returns the wire protocol.
func (a *ChatResponseAdapter) Provider() Provider { return a.provider }

// ID returns the completion id.
func (a *ChatResponseAdapter) ID() string { return a.resp.ID }

// Model returns the model name.
func (a *ChatResponseAdapter) Model() string {
	return firstNonEmpty(a.resp.Model, gjson.GetBytes(a.body, "model").String())
}

func (a *ChatResponseAdapter) message() (openai.ChatCompletionMessage, bool) {
	if len(a.resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, false
	}
	return a.resp.Choices[0].Message, true
}

// Text returns the first choice's content.
func (a *ChatResponseAdapter) Text() string {
	msg, ok := a.message()
	if !ok {
		return partsText(gjson.GetBytes(a.body, "message.content"), "text")
	}
	if len(msg.MultiContent) > 0 {
		var b strings.Builder
		for _, part := range msg.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText {
				b.WriteString(part.Text)
			}
		}
		return b.String()
	}
	return msg.Content
}

// ToolCalls returns the first choice's tool calls, including a legacy
// function_call.
func (a *ChatResponseAdapter) ToolCalls() []CommonToolCall {
	msg, ok := a.message()
	if !ok {
		return a.nativeToolCalls()
	}
	var calls []CommonToolCall
	for _, tc := range msg.ToolCalls {
		calls = append(calls, CommonToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseArguments(tc.ID, tc.Function.Arguments),
		})
	}
	if msg.FunctionCall != nil && len(calls) == 0 {
		calls = append(calls, CommonToolCall{
			Name:      msg.FunctionCall.Name,
			Arguments: parseArguments(msg.FunctionCall.Name, msg.FunctionCall.Arguments),
		})
	}
	return calls
}

// nativeToolCalls reads Ollama's message.tool_calls, whose arguments are
// objects rather than strings.
func (a *ChatResponseAdapter) nativeToolCalls() []CommonToolCall {
	var calls []CommonToolCall
	gjson.GetBytes(a.body, "message.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		id := firstNonEmpty(tc.Get("id").String(), fmt.Sprintf("call_%d", len(calls)))
		calls = append(calls, CommonToolCall{
			ID:        id,
			Name:      tc.Get("function.name").String(),
			Arguments: objectArguments(id, tc.Get("function.arguments")),
		})
		return true
	})
	return calls
}

// HasToolCalls reports whether any tool call is present.
func (a *ChatResponseAdapter) HasToolCalls() bool { return a.hasToolCalls }

// Usage returns prompt/completion tokens.
func (a *ChatResponseAdapter) Usage() Usage {
	if a.resp.Usage.PromptTokens > 0 || a.resp.Usage.CompletionTokens > 0 {
		return Usage{InputTokens: a.resp.Usage.PromptTokens, OutputTokens: a.resp.Usage.CompletionTokens}
	}
	return Usage{
		InputTokens:  int(gjson.GetBytes(a.body, "prompt_eval_count").Int()),
		OutputTokens: int(gjson.GetBytes(a.body, "eval_count").Int()),
	}
}

// StopReason returns the normalized finish reason.
func (a *ChatResponseAdapter) StopReason() string {
	if len(a.resp.Choices) > 0 {
		return chatStopReason(string(a.resp.Choices[0].FinishReason))
	}
	return chatStopReason(gjson.GetBytes(a.body, "done_reason").String())
}

func chatStopReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "stop", "end_turn":
		return StopReasonStop
	case "tool_calls", "function_call":
		return StopReasonToolCalls
	case "length":
		return StopReasonLength
	case "content_filter", "sensitive":
		return StopReasonContentFilter
	case "network_error":
		return StopReasonError
	default:
		return reason
	}
}

// ToRefusalResponse replaces the choices with one refusal message.
func (a *ChatResponseAdapter) ToRefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	return sjson.SetRawBytes(a.body, "choices", chatRefusalChoices(refusalMessage, contentMessage))
}

func chatRefusalChoices(refusalMessage, contentMessage string) []byte {
	choice := []byte(`{"index":0,"message":{"role":"assistant"},"finish_reason":"stop"}`)
	choice, _ = sjson.SetBytes(choice, "message.content", contentMessage)
	choice, _ = sjson.SetBytes(choice, "message.refusal", refusalMessage)
	return append(append([]byte("["), choice...), ']')
}

// Ensure ChatResponseAdapter implements ResponseAdapter
var _ ResponseAdapter = (*ChatResponseAdapter)(nil)
