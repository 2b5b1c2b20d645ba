package adapters

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ResponsesRequestAdapter handles OpenAI Responses API requests.
// Format: input is a string or an array of items:
//
//	{"type":"message","role":"user","content":[{"type":"input_text","text":"..."}]}
//	{"type":"function_call","call_id":"c1","name":"search","arguments":"{...}"}
//	{"type":"function_call_output","call_id":"c1","output":"..."}
type ResponsesRequestAdapter struct {
	staging
	refs []toolResultRef
}

// NewResponsesRequestAdapter creates a Responses request adapter.
func NewResponsesRequestAdapter(body []byte, opts ...Option) (*ResponsesRequestAdapter, error) {
	st, err := newStaging(ProviderOpenAIResponses, body, "model", opts)
	if err != nil {
		return nil, err
	}
	a := &ResponsesRequestAdapter{staging: st}
	a.refs = a.collectToolResults()
	return a, nil
}

func (a *ResponsesRequestAdapter) input() gjson.Result {
	return gjson.GetBytes(a.original, "input")
}

// collectToolResults resolves every function_call_output against the
// function_call items that precede it.
func (a *ResponsesRequestAdapter) collectToolResults() []toolResultRef {
	input := a.input()
	if !input.IsArray() {
		return nil
	}

	names := make(map[string]string)
	var refs []toolResultRef
	for i, item := range input.Array() {
		switch item.Get("type").String() {
		case "function_call":
			if id := item.Get("call_id").String(); id != "" {
				names[id] = item.Get("name").String()
			}
		case "function_call_output":
			id := item.Get("call_id").String()
			text, set := textContent(item.Get("output"), fmt.Sprintf("input.%d.output", i),
				"input_text", "output_text", "text")
			refs = append(refs, toolResultRef{
				result: CommonToolResult{
					ID:      id,
					Name:    resolveName(names, id, ""),
					Content: parseToolContent(text),
				},
				text: text,
				set:  set,
			})
		}
	}
	return refs
}

// Messages returns instructions as a system turn followed by every input
// message and function_call_output.
func (a *ResponsesRequestAdapter) Messages() []CommonMessage {
	var msgs []CommonMessage
	if instr := gjson.GetBytes(a.original, "instructions").String(); instr != "" {
		msgs = append(msgs, CommonMessage{Role: RoleSystem, Content: instr})
	}

	input := a.input()
	if input.Type == gjson.String {
		return append(msgs, CommonMessage{Role: RoleUser, Content: input.String()})
	}

	refIdx := 0
	for _, item := range input.Array() {
		typ := item.Get("type").String()
		switch {
		case typ == "function_call_output":
			if refIdx < len(a.refs) {
				msgs = append(msgs, CommonMessage{Role: RoleTool, ToolCalls: []CommonToolResult{a.refs[refIdx].result}})
				refIdx++
			}
		case typ == "message" || (typ == "" && item.Get("role").Exists()):
			msgs = append(msgs, CommonMessage{
				Role:    responsesRole(item.Get("role").String()),
				Content: partsText(item.Get("content"), "input_text", "output_text", "text"),
			})
		}
	}
	return msgs
}

func responsesRole(role string) Role {
	switch role {
	case "assistant":
		return RoleAssistant
	case "system", "developer":
		return RoleSystem
	default:
		return RoleUser
	}
}

// ToolResults returns every function_call_output.
func (a *ResponsesRequestAdapter) ToolResults() []CommonToolResult {
	return resultsOf(a.refs)
}

// Tools returns type=function tools. Built-in tools (web_search,
// file_search, code_interpreter, computer_use, mcp, ...) are excluded.
func (a *ResponsesRequestAdapter) Tools() []CommonTool {
	var tools []CommonTool
	gjson.GetBytes(a.original, "tools").ForEach(func(_, t gjson.Result) bool {
		if t.Get("type").String() != "function" {
			return true
		}
		tools = append(tools, CommonTool{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			Parameters:  rawOrEmptyObject(t.Get("parameters")),
		})
		return true
	})
	return tools
}

// HasTools reports whether any function tool is declared.
func (a *ResponsesRequestAdapter) HasTools() bool {
	return len(a.Tools()) > 0
}

// ApplyToonCompression compresses every function_call_output.
func (a *ResponsesRequestAdapter) ApplyToonCompression(model string) ToonCompressionResult {
	return a.applyToon(model, a.refs)
}

// ToProviderRequest returns the request with staged changes applied.
func (a *ResponsesRequestAdapter) ToProviderRequest() ([]byte, error) {
	return a.build(a.refs)
}

// IsStream reports whether the client asked for a stream.
func (a *ResponsesRequestAdapter) IsStream() bool {
	return gjson.GetBytes(a.original, "stream").Bool()
}

// Ensure ResponsesRequestAdapter implements RequestAdapter
var _ RequestAdapter = (*ResponsesRequestAdapter)(nil)
