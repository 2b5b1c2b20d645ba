package adapters

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// BedrockRequestAdapter handles Bedrock Converse requests.
// The model id normally lives in the URL path (/model/{modelId}/converse);
// a "modelId" body field is honoured and is where SetModel stages overrides.
//
//	{"role":"assistant","content":[{"toolUse":{"toolUseId":"t1","name":"search","input":{...}}}]}
//	{"role":"user","content":[{"toolResult":{"toolUseId":"t1","content":[{"json":{...}}],"status":"success"}}]}
type BedrockRequestAdapter struct {
	staging
	refs          []toolResultRef
	refsByMessage map[int][]CommonToolResult
}

// NewBedrockRequestAdapter creates a Bedrock Converse request adapter.
func NewBedrockRequestAdapter(body []byte, opts ...Option) (*BedrockRequestAdapter, error) {
	st, err := newStaging(ProviderBedrock, body, "modelId", opts)
	if err != nil {
		return nil, err
	}
	a := &BedrockRequestAdapter{staging: st, refsByMessage: make(map[int][]CommonToolResult)}
	a.collectToolResults()
	return a, nil
}

func (a *BedrockRequestAdapter) collectToolResults() {
	names := make(map[string]string)

	for msgIdx, msg := range gjson.GetBytes(a.original, "messages").Array() {
		for blockIdx, block := range msg.Get("content").Array() {
			if tu := block.Get("toolUse"); tu.Exists() {
				if id := tu.Get("toolUseId").String(); id != "" {
					names[id] = tu.Get("name").String()
				}
				continue
			}
			tr := block.Get("toolResult")
			if !tr.Exists() {
				continue
			}
			id := tr.Get("toolUseId").String()
			text := bedrockToolResultText(tr.Get("content"))
			isError := tr.Get("status").String() == "error"
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
				set:    bedrockSetter(tr.Get("content"), fmt.Sprintf("messages.%d.content.%d.toolResult.content", msgIdx, blockIdx)),
			})
			a.refsByMessage[msgIdx] = append(a.refsByMessage[msgIdx], result)
		}
	}
}

// bedrockToolResultText flattens toolResult content: a lone json block is
// returned as raw JSON, text blocks are concatenated.
func bedrockToolResultText(content gjson.Result) string {
	blocks := content.Array()
	if len(blocks) == 1 && blocks[0].Get("json").Exists() {
		return blocks[0].Get("json").Raw
	}
	var b strings.Builder
	for _, block := range blocks {
		if j := block.Get("json"); j.Exists() {
			b.WriteString(j.Raw)
			continue
		}
		b.WriteString(block.Get("text").String())
	}
	return b.String()
}

// bedrockSetter rewrites toolResult content. A lone text or json block is
// replaced by a text block at its own index, keeping image and document
// blocks; content made only of text and json blocks is replaced whole.
func bedrockSetter(content gjson.Result, path string) setter {
	blocks := content.Array()
	var textIdx []int
	for i, block := range blocks {
		if block.Get("text").Exists() || block.Get("json").Exists() {
			textIdx = append(textIdx, i)
		}
	}
	switch {
	case len(textIdx) == 1:
		return setRaw(fmt.Sprintf("%s.%d", path, textIdx[0]), bedrockTextBlock)
	case len(textIdx) == len(blocks):
		return setRaw(path, bedrockTextContent)
	default:
		return nil
	}
}

func bedrockTextBlock(content string) (string, error) {
	return sjson.Set(`{}`, "text", content)
}

func bedrockTextContent(content string) (string, error) {
	block, err := bedrockTextBlock(content)
	if err != nil {
		return "", err
	}
	return "[" + block + "]", nil
}

func bedrockText(content gjson.Result) string {
	var b strings.Builder
	content.ForEach(func(_, block gjson.Result) bool {
		b.WriteString(block.Get("text").String())
		return true
	})
	return b.String()
}

// Messages returns the system blocks and every message.
func (a *BedrockRequestAdapter) Messages() []CommonMessage {
	var msgs []CommonMessage
	if system := bedrockText(gjson.GetBytes(a.original, "system")); system != "" {
		msgs = append(msgs, CommonMessage{Role: RoleSystem, Content: system})
	}
	for msgIdx, msg := range gjson.GetBytes(a.original, "messages").Array() {
		text := bedrockText(msg.Get("content"))
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

// ToolResults returns every toolResult block.
func (a *BedrockRequestAdapter) ToolResults() []CommonToolResult {
	return resultsOf(a.refs)
}

// Tools returns toolConfig.tools[].toolSpec entries. System tools and
// cache points carry no toolSpec and are excluded.
func (a *BedrockRequestAdapter) Tools() []CommonTool {
	var tools []CommonTool
	gjson.GetBytes(a.original, "toolConfig.tools").ForEach(func(_, t gjson.Result) bool {
		spec := t.Get("toolSpec")
		if !spec.Exists() {
			return true
		}
		tools = append(tools, CommonTool{
			Name:        spec.Get("name").String(),
			Description: spec.Get("description").String(),
			Parameters:  rawOrEmptyObject(spec.Get("inputSchema.json")),
		})
		return true
	})
	return tools
}

// HasTools reports whether any toolSpec is declared.
func (a *BedrockRequestAdapter) HasTools() bool {
	return len(a.Tools()) > 0
}

// ApplyToonCompression compresses every toolResult.
func (a *BedrockRequestAdapter) ApplyToonCompression(model string) ToonCompressionResult {
	return a.applyToon(model, a.refs)
}

// ToProviderRequest returns the request with staged changes applied.
func (a *BedrockRequestAdapter) ToProviderRequest() ([]byte, error) {
	return a.build(a.refs)
}

// ExtractModelFromPath extracts the model ID from a Bedrock URL path.
// Path format: /model/{modelId}/converse or /model/{modelId}/converse-stream
// Example: /model/anthropic.claude-3-5-sonnet-20241022-v2:0/converse
func ExtractModelFromPath(path string) string {
	const prefix = "/model/"
	idx := strings.Index(path, prefix)
	if idx == -1 {
		return ""
	}

	rest := path[idx+len(prefix):]
	if slashIdx := strings.Index(rest, "/"); slashIdx != -1 {
		rest = rest[:slashIdx]
	}
	if unescaped, err := url.PathUnescape(rest); err == nil {
		return unescaped
	}
	return rest
}

// Ensure BedrockRequestAdapter implements RequestAdapter
var _ RequestAdapter = (*BedrockRequestAdapter)(nil)
