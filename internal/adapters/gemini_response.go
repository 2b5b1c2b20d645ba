package adapters

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GeminiResponseAdapter wraps a non-streaming generateContent response.
// Only the first candidate is read.
type GeminiResponseAdapter struct {
	body         []byte
	hasToolCalls bool
}

// NewGeminiResponseAdapter creates a Gemini response adapter.
func NewGeminiResponseAdapter(body []byte) (*GeminiResponseAdapter, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: response body is not valid JSON", ProviderGemini)
	}
	a := &GeminiResponseAdapter{body: body}
	a.parts().ForEach(func(_, part gjson.Result) bool {
		if part.Get("functionCall").Exists() {
			a.hasToolCalls = true
			return false
		}
		return true
	})
	return a, nil
}

func (a *GeminiResponseAdapter) parts() gjson.Result {
	return gjson.GetBytes(a.body, "candidates.0.content.parts")
}

// Provider returns ProviderGemini.
func (a *GeminiResponseAdapter) Provider() Provider { return ProviderGemini }

// ID returns responseId.
func (a *GeminiResponseAdapter) ID() string { return gjson.GetBytes(a.body, "responseId").String() }

// Model returns modelVersion.
func (a *GeminiResponseAdapter) Model() string {
	return gjson.GetBytes(a.body, "modelVersion").String()
}

// Text concatenates text parts, skipping thoughts.
func (a *GeminiResponseAdapter) Text() string {
	return geminiPartsText(a.parts())
}

// ToolCalls returns every functionCall part.
func (a *GeminiResponseAdapter) ToolCalls() []CommonToolCall {
	var calls []CommonToolCall
	a.parts().ForEach(func(_, part gjson.Result) bool {
		if fc := part.Get("functionCall"); fc.Exists() {
			calls = append(calls, geminiCall(fc, len(calls)))
		}
		return true
	})
	return calls
}

// geminiCall converts a functionCall; calls without an id get call_<ordinal>.
func geminiCall(fc gjson.Result, ordinal int) CommonToolCall {
	id := fc.Get("id").String()
	if id == "" {
		id = fmt.Sprintf("call_%d", ordinal)
	}
	return CommonToolCall{
		ID:        id,
		Name:      fc.Get("name").String(),
		Arguments: objectArguments(id, fc.Get("args")),
	}
}

// HasToolCalls reports whether any functionCall part is present.
func (a *GeminiResponseAdapter) HasToolCalls() bool { return a.hasToolCalls }

// Usage returns prompt and candidate tokens. Thinking tokens count as output.
func (a *GeminiResponseAdapter) Usage() Usage {
	return geminiUsage(gjson.GetBytes(a.body, "usageMetadata"))
}

func geminiUsage(u gjson.Result) Usage {
	return Usage{
		InputTokens:  int(u.Get("promptTokenCount").Int()),
		OutputTokens: int(u.Get("candidatesTokenCount").Int() + u.Get("thoughtsTokenCount").Int()),
	}
}

// StopReason returns the normalized finishReason. Gemini reports STOP for
// function calls too, which normalizes to tool_calls.
func (a *GeminiResponseAdapter) StopReason() string {
	reason := gjson.GetBytes(a.body, "candidates.0.finishReason").String()
	if reason == "" {
		if block := gjson.GetBytes(a.body, "promptFeedback.blockReason").String(); block != "" {
			return StopReasonContentFilter
		}
	}
	return geminiStopReason(reason, a.hasToolCalls)
}

func geminiStopReason(reason string, hasToolCalls bool) string {
	switch reason {
	case "":
		return ""
	case "STOP":
		if hasToolCalls {
			return StopReasonToolCalls
		}
		return StopReasonStop
	case "MAX_TOKENS":
		return StopReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return StopReasonContentFilter
	case "MALFORMED_FUNCTION_CALL", "UNEXPECTED_TOOL_CALL":
		return StopReasonError
	default:
		return strings.ToLower(reason)
	}
}

// ToRefusalResponse replaces the first candidate with a single text part.
func (a *GeminiResponseAdapter) ToRefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	candidate := geminiTextCandidate(refusalText(refusalMessage, contentMessage), "STOP")
	return sjson.SetRawBytes(a.body, "candidates", append(append([]byte("["), candidate...), ']'))
}

func geminiTextCandidate(text, finishReason string) []byte {
	c := []byte(`{"content":{"role":"model","parts":[]},"index":0}`)
	c, _ = sjson.SetBytes(c, "content.parts.0.text", text)
	if finishReason != "" {
		c, _ = sjson.SetBytes(c, "finishReason", finishReason)
	}
	return c
}

// geminiEnvelope builds the skeleton of a generateContent response.
func geminiEnvelope(id, model string, usage Usage) []byte {
	body := []byte(`{"candidates":[]}`)
	body, _ = sjson.SetBytes(body, "usageMetadata", map[string]int{
		"promptTokenCount":     usage.InputTokens,
		"candidatesTokenCount": usage.OutputTokens,
		"totalTokenCount":      usage.Total(),
	})
	if model != "" {
		body, _ = sjson.SetBytes(body, "modelVersion", model)
	}
	if id != "" {
		body, _ = sjson.SetBytes(body, "responseId", id)
	}
	return body
}

// Ensure GeminiResponseAdapter implements ResponseAdapter
var _ ResponseAdapter = (*GeminiResponseAdapter)(nil)
