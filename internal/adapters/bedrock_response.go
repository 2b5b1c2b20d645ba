package adapters

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// BedrockResponseAdapter wraps a non-streaming Converse response:
//
//	{"output":{"message":{"role":"assistant","content":[{"text":"..."},{"toolUse":{...}}]}},
//	 "stopReason":"end_turn","usage":{"inputTokens":N,"outputTokens":N,"totalTokens":N}}
type BedrockResponseAdapter struct {
	body         []byte
	hasToolCalls bool
}

// NewBedrockResponseAdapter creates a Bedrock response adapter.
func NewBedrockResponseAdapter(body []byte) (*BedrockResponseAdapter, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: response body is not valid JSON", ProviderBedrock)
	}
	a := &BedrockResponseAdapter{body: body}
	gjson.GetBytes(body, "output.message.content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("toolUse").Exists() {
			a.hasToolCalls = true
			return false
		}
		return true
	})
	return a, nil
}

// Provider returns ProviderBedrock.
func (a *BedrockResponseAdapter) Provider() Provider { return ProviderBedrock }

// ID returns the request id when the gateway recorded one; Converse has no
// response id of its own.
func (a *BedrockResponseAdapter) ID() string {
	return gjson.GetBytes(a.body, "ResponseMetadata.RequestId").String()
}

// Model returns the modelId when present.
func (a *BedrockResponseAdapter) Model() string { return gjson.GetBytes(a.body, "modelId").String() }

// Text concatenates every text block.
func (a *BedrockResponseAdapter) Text() string {
	var b strings.Builder
	gjson.GetBytes(a.body, "output.message.content").ForEach(func(_, block gjson.Result) bool {
		if t := block.Get("text"); t.Exists() {
			b.WriteString(t.String())
		}
		return true
	})
	return b.String()
}

// ToolCalls returns every toolUse block.
func (a *BedrockResponseAdapter) ToolCalls() []CommonToolCall {
	var calls []CommonToolCall
	gjson.GetBytes(a.body, "output.message.content").ForEach(func(_, block gjson.Result) bool {
		tu := block.Get("toolUse")
		if !tu.Exists() {
			return true
		}
		id := tu.Get("toolUseId").String()
		calls = append(calls, CommonToolCall{
			ID:        id,
			Name:      tu.Get("name").String(),
			Arguments: objectArguments(id, tu.Get("input")),
		})
		return true
	})
	return calls
}

// HasToolCalls reports whether any toolUse block is present.
func (a *BedrockResponseAdapter) HasToolCalls() bool { return a.hasToolCalls }

// Usage returns input/output tokens.
func (a *BedrockResponseAdapter) Usage() Usage {
	return bedrockUsage(gjson.GetBytes(a.body, "usage"))
}

func bedrockUsage(u gjson.Result) Usage {
	return Usage{
		InputTokens:  int(u.Get("inputTokens").Int() + u.Get("cacheReadInputTokens").Int() + u.Get("cacheWriteInputTokens").Int()),
		OutputTokens: int(u.Get("outputTokens").Int()),
	}
}

// StopReason returns the normalized stopReason.
func (a *BedrockResponseAdapter) StopReason() string {
	return bedrockStopReason(gjson.GetBytes(a.body, "stopReason").String())
}

func bedrockStopReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "end_turn", "stop_sequence":
		return StopReasonStop
	case "tool_use":
		return StopReasonToolCalls
	case "max_tokens", "model_context_window_exceeded":
		return StopReasonLength
	case "guardrail_intervened", "content_filtered":
		return StopReasonContentFilter
	case "error":
		return StopReasonError
	default:
		return reason
	}
}

// ToRefusalResponse replaces the output message with a single text block.
func (a *BedrockResponseAdapter) ToRefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	content, err := bedrockTextContent(refusalText(refusalMessage, contentMessage))
	if err != nil {
		return nil, err
	}
	out, err := sjson.SetRawBytes(a.body, "output.message", []byte(`{"role":"assistant","content":`+content+`}`))
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "stopReason", "end_turn")
}

// bedrockEnvelope builds the skeleton of a Converse response.
func bedrockEnvelope(stopReason string, usage Usage, latencyMs int64) []byte {
	body := []byte(`{"output":{"message":{"role":"assistant","content":[]}}}`)
	if stopReason == "" {
		stopReason = "end_turn"
	}
	body, _ = sjson.SetBytes(body, "stopReason", stopReason)
	body, _ = sjson.SetBytes(body, "usage", map[string]int{
		"inputTokens":  usage.InputTokens,
		"outputTokens": usage.OutputTokens,
		"totalTokens":  usage.Total(),
	})
	body, _ = sjson.SetBytes(body, "metrics.latencyMs", latencyMs)
	return body
}

// Ensure BedrockResponseAdapter implements ResponseAdapter
var _ ResponseAdapter = (*BedrockResponseAdapter)(nil)
