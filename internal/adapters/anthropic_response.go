package adapters

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// AnthropicResponseAdapter wraps a non-streaming Messages API response.
type AnthropicResponseAdapter struct {
	body         []byte
	hasToolCalls bool
}

// NewAnthropicResponseAdapter creates an Anthropic response adapter.
func NewAnthropicResponseAdapter(body []byte) (*AnthropicResponseAdapter, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: response body is not valid JSON", ProviderAnthropic)
	}
	a := &AnthropicResponseAdapter{body: body}
	gjson.GetBytes(body, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "tool_use" {
			a.hasToolCalls = true
			return false
		}
		return true
	})
	return a, nil
}

// Provider returns ProviderAnthropic.
func (a *AnthropicResponseAdapter) Provider() Provider { return ProviderAnthropic }

// ID returns the message id.
func (a *AnthropicResponseAdapter) ID() string { return gjson.GetBytes(a.body, "id").String() }

// Model returns the model name.
func (a *AnthropicResponseAdapter) Model() string { return gjson.GetBytes(a.body, "model").String() }

// Text concatenates every text block.
func (a *AnthropicResponseAdapter) Text() string {
	var b strings.Builder
	gjson.GetBytes(a.body, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			b.WriteString(block.Get("text").String())
		}
		return true
	})
	return b.String()
}

// ToolCalls returns every tool_use block.
func (a *AnthropicResponseAdapter) ToolCalls() []CommonToolCall {
	var calls []CommonToolCall
	gjson.GetBytes(a.body, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() != "tool_use" {
			return true
		}
		id := block.Get("id").String()
		calls = append(calls, CommonToolCall{
			ID:        id,
			Name:      block.Get("name").String(),
			Arguments: objectArguments(id, block.Get("input")),
		})
		return true
	})
	return calls
}

// HasToolCalls reports whether any tool_use block is present.
func (a *AnthropicResponseAdapter) HasToolCalls() bool { return a.hasToolCalls }

// Usage returns input/output tokens. Cache reads and writes count as input.
func (a *AnthropicResponseAdapter) Usage() Usage {
	return anthropicUsage(gjson.GetBytes(a.body, "usage"))
}

func anthropicUsage(u gjson.Result) Usage {
	return Usage{
		InputTokens: int(u.Get("input_tokens").Int() +
			u.Get("cache_creation_input_tokens").Int() +
			u.Get("cache_read_input_tokens").Int()),
		OutputTokens: int(u.Get("output_tokens").Int()),
	}
}

// StopReason returns the normalized stop_reason.
func (a *AnthropicResponseAdapter) StopReason() string {
	return anthropicStopReason(gjson.GetBytes(a.body, "stop_reason").String())
}

func anthropicStopReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "end_turn", "stop_sequence", "pause_turn":
		return StopReasonStop
	case "tool_use":
		return StopReasonToolCalls
	case "max_tokens", "model_context_window_exceeded":
		return StopReasonLength
	case "refusal":
		return StopReasonContentFilter
	case "error":
		return StopReasonError
	default:
		return reason
	}
}

// ToRefusalResponse replaces the content with a single text block.
// Messages has no refusal field, so the content message is shown and the
// refusal message is used only when content is empty.
func (a *AnthropicResponseAdapter) ToRefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	out, err := sjson.SetRawBytes(a.body, "content", anthropicTextContent(refusalText(refusalMessage, contentMessage)))
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "stop_reason", "end_turn")
}

func anthropicTextContent(text string) []byte {
	block, _ := sjson.SetBytes([]byte(`{"type":"text"}`), "text", text)
	return append(append([]byte("["), block...), ']')
}

// anthropicEnvelope builds the skeleton of a Messages API response.
func anthropicEnvelope(id, model, stopReason string, usage Usage) []byte {
	if id == "" {
		id = "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	body := []byte(`{"type":"message","role":"assistant","content":[],"stop_sequence":null}`)
	body, _ = sjson.SetBytes(body, "id", id)
	body, _ = sjson.SetBytes(body, "model", model)
	if stopReason == "" {
		body, _ = sjson.SetRawBytes(body, "stop_reason", []byte("null"))
	} else {
		body, _ = sjson.SetBytes(body, "stop_reason", stopReason)
	}
	body, _ = sjson.SetBytes(body, "usage", map[string]int{
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
	})
	return body
}

// Ensure AnthropicResponseAdapter implements ResponseAdapter
var _ ResponseAdapter = (*AnthropicResponseAdapter)(nil)
