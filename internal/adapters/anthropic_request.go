package adapters

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// AnthropicRequestAdapter handles Anthropic Messages API requests.
// Tool results are content blocks inside user messages:
//
//	{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"read_file","input":{...}}]}
//	{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"...","is_error":false}]}
type AnthropicRequestAdapter struct {
	staging
	refs []toolResultRef
	// refsByMessage groups refs by their message index for Messages().
	refsByMessage map[int][]CommonToolResult
}

// NewAnthropicRequestAdapter creates an Anthropic request adapter.
func NewAnthropicRequestAdapter(body []byte, opts ...Option) (*AnthropicRequestAdapter, error) {
	st, err := newStaging(ProviderAnthropic, body, "model", opts)
	if err != nil {
		return nil, err
	}
	a := &AnthropicRequestAdapter{staging: st, refsByMessage: make(map[int][]CommonToolResult)}
	a.collectToolResults()
	return a, nil
}

func (a *AnthropicRequestAdapter) collectToolResults() {
	names := make(map[string]string)

	for msgIdx, msg := range gjson.GetBytes(a.original, "messages").Array() {
		content := msg.Get("content")
		if !content.IsArray() {
			continue
		}
		for blockIdx, block := range content.Array() {
			switch block.Get("type").String() {
			case "tool_use":
				if id := block.Get("id").String(); id != "" {
					names[id] = block.Get("name").String()
				}
			case "tool_result":
				id := block.Get("tool_use_id").String()
				text, set := textContent(block.Get("content"),
					fmt.Sprintf("messages.%d.content.%d.content", msgIdx, blockIdx), "text")
				isError := block.Get("is_error").Bool()
				result := CommonToolResult{
					ID:      id,
					Name:    resolveName(names, id, ""),
					Content: parseToolContent(text),
					IsError: isError,
				}
				if isError {
					result.Error = text
				}
				a.refs = append(a.refs, toolResultRef{
					result: result,
					text:   text,
					set:    set,
				})
				a.refsByMessage[msgIdx] = append(a.refsByMessage[msgIdx], result)
			}
		}
	}
}

// Messages returns the system prompt and every message. A user message
// carrying tool_result blocks becomes a tool turn, followed by a user turn
// when it also carries text.
func (a *AnthropicRequestAdapter) Messages() []CommonMessage {
	var msgs []CommonMessage
	if system := partsText(gjson.GetBytes(a.original, "system"), "text"); system != "" {
		msgs = append(msgs, CommonMessage{Role: RoleSystem, Content: system})
	}

	for msgIdx, msg := range gjson.GetBytes(a.original, "messages").Array() {
		text := partsText(msg.Get("content"), "text")
		role := RoleUser
		if msg.Get("role").String() == "assistant" {
			role = RoleAssistant
		}

		if results := a.refsByMessage[msgIdx]; len(results) > 0 {
			msgs = append(msgs, CommonMessage{Role: RoleTool, ToolCalls: results})
			if text == "" {
				continue
			}
		}
		msgs = append(msgs, CommonMessage{Role: role, Content: text})
	}
	return msgs
}

// ToolResults returns every tool_result block.
func (a *AnthropicRequestAdapter) ToolResults() []CommonToolResult {
	return resultsOf(a.refs)
}

// Tools returns custom tools. Server tools (web_search, bash, text_editor,
// computer, code_execution, ...) carry a versioned type and are excluded.
func (a *AnthropicRequestAdapter) Tools() []CommonTool {
	var tools []CommonTool
	gjson.GetBytes(a.original, "tools").ForEach(func(_, t gjson.Result) bool {
		if typ := t.Get("type").String(); typ != "" && typ != "custom" {
			return true
		}
		tools = append(tools, CommonTool{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			Parameters:  rawOrEmptyObject(t.Get("input_schema")),
		})
		return true
	})
	return tools
}

// HasTools reports whether any custom tool is declared.
func (a *AnthropicRequestAdapter) HasTools() bool {
	return len(a.Tools()) > 0
}

// ApplyToonCompression compresses every tool_result block.
func (a *AnthropicRequestAdapter) ApplyToonCompression(model string) ToonCompressionResult {
	return a.applyToon(model, a.refs)
}

// ToProviderRequest returns the request with staged changes applied.
func (a *AnthropicRequestAdapter) ToProviderRequest() ([]byte, error) {
	return a.build(a.refs)
}

// IsStream reports whether the client asked for a stream.
func (a *AnthropicRequestAdapter) IsStream() bool {
	return gjson.GetBytes(a.original, "stream").Bool()
}

// Ensure AnthropicRequestAdapter implements RequestAdapter
var _ RequestAdapter = (*AnthropicRequestAdapter)(nil)
