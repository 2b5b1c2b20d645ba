package adapters

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GeminiRequestAdapter handles Gemini generateContent requests.
// The model lives in the URL (/v1beta/models/{model}:generateContent); a
// body "model" field is honoured and is where SetModel stages overrides.
//
//	{"role":"model","parts":[{"functionCall":{"name":"search","args":{...}}}]}
//	{"role":"user","parts":[{"functionResponse":{"name":"search","response":{...}}}]}
//
// Function responses often carry no id. Those are addressed by position,
// "<contentIndex>_<partIndex>".
type GeminiRequestAdapter struct {
	staging
	refs          []toolResultRef
	refsByMessage map[int][]CommonToolResult
}

// NewGeminiRequestAdapter creates a Gemini request adapter.
func NewGeminiRequestAdapter(body []byte, opts ...Option) (*GeminiRequestAdapter, error) {
	st, err := newStaging(ProviderGemini, body, "model", opts)
	if err != nil {
		return nil, err
	}
	a := &GeminiRequestAdapter{staging: st, refsByMessage: make(map[int][]CommonToolResult)}
	a.collectToolResults()
	return a, nil
}

func (a *GeminiRequestAdapter) collectToolResults() {
	for msgIdx, msg := range gjson.GetBytes(a.original, "contents").Array() {
		for partIdx, part := range msg.Get("parts").Array() {
			fr := part.Get("functionResponse")
			if !fr.Exists() {
				continue
			}
			id := fr.Get("id").String()
			if id == "" {
				id = fmt.Sprintf("%d_%d", msgIdx, partIdx)
			}
			text := geminiResponseText(fr.Get("response"))
			errText := fr.Get("response.error")
			result := CommonToolResult{
				ID:      id,
				Name:    firstNonEmpty(fr.Get("name").String(), UnknownToolName),
				Content: parseToolContent(text),
				IsError: errText.Exists(),
			}
			if result.IsError {
				result.Error = firstNonEmpty(errText.String(), text)
			}
			a.refs = append(a.refs, toolResultRef{
				result: result,
				text:   text,
				set:    setRaw(fmt.Sprintf("contents.%d.parts.%d.functionResponse.response", msgIdx, partIdx), geminiResponseObject),
			})
			a.refsByMessage[msgIdx] = append(a.refsByMessage[msgIdx], result)
		}
	}
}

// geminiResponseText unwraps a functionResponse.response object. A single
// "content", "output" or "result" field is unwrapped; anything else is
// returned as raw JSON.
func geminiResponseText(resp gjson.Result) string {
	if !resp.Exists() {
		return ""
	}
	if !resp.IsObject() {
		if resp.Type == gjson.String {
			return resp.String()
		}
		return resp.Raw
	}
	fields := resp.Map()
	if len(fields) == 1 {
		for _, key := range []string{"content", "output", "result"} {
			v, ok := fields[key]
			if !ok {
				continue
			}
			if v.Type == gjson.String {
				return v.String()
			}
			return v.Raw
		}
	}
	return resp.Raw
}

// geminiResponseObject wraps replacement text; response must be an object.
func geminiResponseObject(content string) (string, error) {
	return sjson.Set(`{}`, "content", content)
}

func geminiPartsText(parts gjson.Result) string {
	var b strings.Builder
	parts.ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			return true
		}
		b.WriteString(part.Get("text").String())
		return true
	})
	return b.String()
}

// Messages returns systemInstruction and every content turn.
func (a *GeminiRequestAdapter) Messages() []CommonMessage {
	var msgs []CommonMessage
	if system := geminiPartsText(gjson.GetBytes(a.original, "systemInstruction.parts")); system != "" {
		msgs = append(msgs, CommonMessage{Role: RoleSystem, Content: system})
	}
	for msgIdx, msg := range gjson.GetBytes(a.original, "contents").Array() {
		text := geminiPartsText(msg.Get("parts"))
		role := RoleUser
		if msg.Get("role").String() == "model" {
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

// ToolResults returns every functionResponse part.
func (a *GeminiRequestAdapter) ToolResults() []CommonToolResult {
	return resultsOf(a.refs)
}

// Tools returns functionDeclarations. Built-in tools (googleSearch,
// codeExecution, urlContext) carry no declarations and are excluded.
func (a *GeminiRequestAdapter) Tools() []CommonTool {
	var tools []CommonTool
	gjson.GetBytes(a.original, "tools").ForEach(func(_, t gjson.Result) bool {
		t.Get("functionDeclarations").ForEach(func(_, fn gjson.Result) bool {
			params := fn.Get("parameters")
			if !params.Exists() {
				params = fn.Get("parametersJsonSchema")
			}
			tools = append(tools, CommonTool{
				Name:        fn.Get("name").String(),
				Description: fn.Get("description").String(),
				Parameters:  rawOrEmptyObject(params),
			})
			return true
		})
		return true
	})
	return tools
}

// HasTools reports whether any function is declared.
func (a *GeminiRequestAdapter) HasTools() bool {
	return len(a.Tools()) > 0
}

// ApplyToonCompression compresses every functionResponse.
func (a *GeminiRequestAdapter) ApplyToonCompression(model string) ToonCompressionResult {
	return a.applyToon(model, a.refs)
}

// ToProviderRequest returns the request with staged changes applied.
func (a *GeminiRequestAdapter) ToProviderRequest() ([]byte, error) {
	return a.build(a.refs)
}

// ExtractGeminiModelFromPath extracts the model from a Gemini URL path.
// Path format: /v1beta/models/{model}:generateContent
func ExtractGeminiModelFromPath(path string) string {
	const prefix = "/models/"
	idx := strings.Index(path, prefix)
	if idx == -1 {
		return ""
	}
	rest := path[idx+len(prefix):]
	if colon := strings.Index(rest, ":"); colon != -1 {
		rest = rest[:colon]
	}
	if slash := strings.Index(rest, "/"); slash != -1 {
		rest = rest[:slash]
	}
	if unescaped, err := url.PathUnescape(rest); err == nil {
		return unescaped
	}
	return rest
}

// IsGeminiStreamPath reports whether the path targets streamGenerateContent.
func IsGeminiStreamPath(path string) bool {
	return strings.Contains(path, ":streamGenerateContent")
}

// Ensure GeminiRequestAdapter implements RequestAdapter
var _ RequestAdapter = (*GeminiRequestAdapter)(nil)
