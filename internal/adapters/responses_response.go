package adapters

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ResponsesResponseAdapter wraps a non-streaming Responses API response.
type ResponsesResponseAdapter struct {
	body         []byte
	hasToolCalls bool
}

// NewResponsesResponseAdapter creates a Responses response adapter.
func NewResponsesResponseAdapter(body []byte) (*ResponsesResponseAdapter, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: response body is not valid JSON", ProviderOpenAIResponses)
	}
	a := &ResponsesResponseAdapter{body: body}
	gjson.GetBytes(body, "output").ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() == "function_call" {
			a.hasToolCalls = true
			return false
		}
		return true
	})
	return a, nil
}

// Provider returns ProviderOpenAIResponses.
func (a *ResponsesResponseAdapter) Provider() Provider { return ProviderOpenAIResponses }

// ID returns the response id.
func (a *ResponsesResponseAdapter) ID() string { return gjson.GetBytes(a.body, "id").String() }

// Model returns the model that produced the response.
func (a *ResponsesResponseAdapter) Model() string { return gjson.GetBytes(a.body, "model").String() }

// Text concatenates every output_text part of every message item.
func (a *ResponsesResponseAdapter) Text() string {
	var b strings.Builder
	gjson.GetBytes(a.body, "output").ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() != "message" {
			return true
		}
		item.Get("content").ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "output_text" {
				b.WriteString(part.Get("text").String())
			}
			return true
		})
		return true
	})
	return b.String()
}

// ToolCalls returns every function_call item.
func (a *ResponsesResponseAdapter) ToolCalls() []CommonToolCall {
	var calls []CommonToolCall
	gjson.GetBytes(a.body, "output").ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() != "function_call" {
			return true
		}
		id := firstNonEmpty(item.Get("call_id").String(), item.Get("id").String())
		calls = append(calls, CommonToolCall{
			ID:        id,
			Name:      item.Get("name").String(),
			Arguments: parseArguments(id, item.Get("arguments").String()),
		})
		return true
	})
	return calls
}

// HasToolCalls reports whether any function_call item is present.
func (a *ResponsesResponseAdapter) HasToolCalls() bool { return a.hasToolCalls }

// Usage returns input/output tokens.
func (a *ResponsesResponseAdapter) Usage() Usage {
	return Usage{
		InputTokens:  int(gjson.GetBytes(a.body, "usage.input_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(a.body, "usage.output_tokens").Int()),
	}
}

// StopReason maps the response status.
func (a *ResponsesResponseAdapter) StopReason() string {
	return responsesStopReason(gjson.GetBytes(a.body, "status").String())
}

func responsesStopReason(status string) string {
	switch status {
	case "incomplete":
		return StopReasonIncomplete
	case "failed", "cancelled":
		return StopReasonError
	default:
		return StopReasonStop
	}
}

// ToRefusalResponse replaces the output with one message carrying a refusal
// part and an output_text part.
func (a *ResponsesResponseAdapter) ToRefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	out, err := sjson.SetRawBytes(a.body, "output", responsesRefusalOutput(refusalMessage, contentMessage))
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "status", "completed")
}

func responsesRefusalOutput(refusalMessage, contentMessage string) []byte {
	item := []byte(`{"type":"message","status":"completed","role":"assistant","content":[]}`)
	item, _ = sjson.SetBytes(item, "id", "msg_"+strings.ReplaceAll(uuid.NewString(), "-", ""))
	item, _ = sjson.SetBytes(item, "content.-1", map[string]any{"type": "refusal", "refusal": refusalMessage})
	item, _ = sjson.SetBytes(item, "content.-1", map[string]any{"type": "output_text", "text": contentMessage, "annotations": []any{}})
	return append(append([]byte("["), item...), ']')
}

// responsesEnvelope builds the skeleton of a Responses API response.
func responsesEnvelope(id, model, status string, usage Usage) []byte {
	if id == "" {
		id = "resp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	body := []byte(`{"object":"response","output":[]}`)
	body, _ = sjson.SetBytes(body, "id", id)
	body, _ = sjson.SetBytes(body, "created_at", time.Now().Unix())
	body, _ = sjson.SetBytes(body, "status", status)
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.SetBytes(body, "usage", map[string]int{
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
		"total_tokens":  usage.Total(),
	})
	return body
}

// Ensure ResponsesResponseAdapter implements ResponseAdapter
var _ ResponseAdapter = (*ResponsesResponseAdapter)(nil)
