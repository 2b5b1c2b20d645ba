package adapters

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ChatRequestAdapter handles Chat Completions requests. OpenAI, Zhipuai,
// and Ollama's OpenAI-compatible endpoint share this format:
//
//	messages: [ ..., {role:"assistant", tool_calls:[{id, function:{name, arguments}}]},
//	                 {role:"tool", tool_call_id:"...", content:"..."} ]
type ChatRequestAdapter struct {
	staging
	refs []toolResultRef
}

// NewOpenAIRequestAdapter creates a Chat Completions request adapter.
func NewOpenAIRequestAdapter(body []byte, opts ...Option) (*ChatRequestAdapter, error) {
	return newChatRequestAdapter(ProviderOpenAI, body, opts)
}

// NewZhipuRequestAdapter creates a Zhipuai request adapter.
func NewZhipuRequestAdapter(body []byte, opts ...Option) (*ChatRequestAdapter, error) {
	return newChatRequestAdapter(ProviderZhipu, body, opts)
}

// NewOllamaRequestAdapter creates an Ollama request adapter.
func NewOllamaRequestAdapter(body []byte, opts ...Option) (*ChatRequestAdapter, error) {
	return newChatRequestAdapter(ProviderOllama, body, opts)
}

func newChatRequestAdapter(provider Provider, body []byte, opts []Option) (*ChatRequestAdapter, error) {
	st, err := newStaging(provider, body, "model", opts)
	if err != nil {
		return nil, err
	}
	a := &ChatRequestAdapter{staging: st}
	a.refs = a.collectToolResults()
	return a, nil
}

func (a *ChatRequestAdapter) collectToolResults() []toolResultRef {
	names := make(map[string]string)
	var refs []toolResultRef

	for i, msg := range gjson.GetBytes(a.original, "messages").Array() {
		switch msg.Get("role").String() {
		case "assistant":
			msg.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
				if id := tc.Get("id").String(); id != "" {
					names[id] = tc.Get("function.name").String()
				}
				return true
			})
		case "tool":
			id := msg.Get("tool_call_id").String()
			text, set := textContent(msg.Get("content"), fmt.Sprintf("messages.%d.content", i), "text")
			refs = append(refs, toolResultRef{
				result: CommonToolResult{
					ID:      id,
					Name:    resolveName(names, id, msg.Get("name").String()),
					Content: parseToolContent(text),
				},
				text: text,
				set:  set,
			})
		case "function":
			// Legacy function-calling result: the function name is the only key,
			// so several results may share an ID.
			name := msg.Get("name").String()
			text, set := textContent(msg.Get("content"), fmt.Sprintf("messages.%d.content", i), "text")
			refs = append(refs, toolResultRef{
				result: CommonToolResult{ID: name, Name: firstNonEmpty(name, UnknownToolName), Content: parseToolContent(text)},
				text:   text,
				set:    set,
			})
		}
	}
	return refs
}

// Messages returns every message; tool turns carry their result.
func (a *ChatRequestAdapter) Messages() []CommonMessage {
	var msgs []CommonMessage
	refIdx := 0
	for _, msg := range gjson.GetBytes(a.original, "messages").Array() {
		role := msg.Get("role").String()
		if role == "tool" || role == "function" {
			if refIdx < len(a.refs) {
				msgs = append(msgs, CommonMessage{Role: RoleTool, ToolCalls: []CommonToolResult{a.refs[refIdx].result}})
				refIdx++
			}
			continue
		}
		msgs = append(msgs, CommonMessage{
			Role:    chatRole(role),
			Content: partsText(msg.Get("content"), "text"),
		})
	}
	return msgs
}

func chatRole(role string) Role {
	switch role {
	case "assistant":
		return RoleAssistant
	case "system", "developer":
		return RoleSystem
	default:
		return RoleUser
	}
}

// ToolResults returns every tool message.
func (a *ChatRequestAdapter) ToolResults() []CommonToolResult {
	return resultsOf(a.refs)
}

// Tools returns function tools and legacy functions. Vendor tools such as
// Zhipuai's web_search or retrieval are excluded.
func (a *ChatRequestAdapter) Tools() []CommonTool {
	var tools []CommonTool
	gjson.GetBytes(a.original, "tools").ForEach(func(_, t gjson.Result) bool {
		if t.Get("type").String() != "function" {
			return true
		}
		fn := t.Get("function")
		tools = append(tools, CommonTool{
			Name:        fn.Get("name").String(),
			Description: fn.Get("description").String(),
			Parameters:  rawOrEmptyObject(fn.Get("parameters")),
		})
		return true
	})
	gjson.GetBytes(a.original, "functions").ForEach(func(_, fn gjson.Result) bool {
		tools = append(tools, CommonTool{
			Name:        fn.Get("name").String(),
			Description: fn.Get("description").String(),
			Parameters:  rawOrEmptyObject(fn.Get("parameters")),
		})
		return true
	})
	return tools
}

// HasTools reports whether any function tool is declared.
func (a *ChatRequestAdapter) HasTools() bool {
	return len(a.Tools()) > 0
}

// ApplyToonCompression compresses every tool message.
func (a *ChatRequestAdapter) ApplyToonCompression(model string) ToonCompressionResult {
	return a.applyToon(model, a.refs)
}

// ToProviderRequest returns the request with staged changes applied.
func (a *ChatRequestAdapter) ToProviderRequest() ([]byte, error) {
	return a.build(a.refs)
}

// IsStream reports whether the client asked for a stream.
func (a *ChatRequestAdapter) IsStream() bool {
	return gjson.GetBytes(a.original, "stream").Bool()
}

// Ensure ChatRequestAdapter implements RequestAdapter
var _ RequestAdapter = (*ChatRequestAdapter)(nil)
