package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/provider-gateway/internal/compression"
)

// toolResultRef locates one tool result inside the raw request.
type toolResultRef struct {
	result CommonToolResult
	// text is the content as the vendor carries it, used for compression.
	text string
	// set writes replacement content at this result's location. Nil means
	// the content cannot be rewritten without dropping other blocks.
	set setter
}

type setter func(body []byte, content string) ([]byte, error)

// stagedUpdate is replacement content for the ref at one position.
type stagedUpdate struct {
	id      string
	content string
}

// staging holds the original request and every staged change. Request
// adapters embed it; ToProviderRequest applies the staged set to a copy.
//
// Updates from callers are keyed by tool-result ID and reach every result
// with that ID. Compression output is keyed by ref position, since IDs are
// not unique (legacy function results, missing call ids).
type staging struct {
	provider   Provider
	original   []byte
	modelPath  string
	model      *string
	updates    map[string]string
	staged     map[int]stagedUpdate
	compressor compression.Compressor
}

func newStaging(provider Provider, body []byte, modelPath string, opts []Option) (staging, error) {
	if !gjson.ValidBytes(body) {
		return staging{}, fmt.Errorf("%s: request body is not valid JSON", provider)
	}
	o := buildOptions(opts)
	return staging{
		provider:   provider,
		original:   body,
		modelPath:  modelPath,
		updates:    make(map[string]string),
		staged:     make(map[int]stagedUpdate),
		compressor: o.compressor,
	}, nil
}

// Provider returns the wire protocol.
func (s *staging) Provider() Provider {
	return s.provider
}

// Model returns the staged override or the request model.
func (s *staging) Model() string {
	if s.model != nil {
		return *s.model
	}
	if s.modelPath == "" {
		return ""
	}
	return gjson.GetBytes(s.original, s.modelPath).String()
}

// SetModel stages a model override.
func (s *staging) SetModel(model string) {
	s.model = &model
}

// UpdateToolResult stages replacement content for every tool result with
// this ID. It replaces any compression staged for them.
func (s *staging) UpdateToolResult(id, content string) {
	s.updates[id] = content
	for pos, u := range s.staged {
		if u.id == id {
			delete(s.staged, pos)
		}
	}
}

// ApplyToolResultUpdates merges a patch map into the staged set.
func (s *staging) ApplyToolResultUpdates(updates map[string]string) {
	for id, content := range updates {
		s.UpdateToolResult(id, content)
	}
}

// contentAt returns the staged content for the ref at pos, if any.
func (s *staging) contentAt(pos int, ref toolResultRef) (string, bool) {
	if u, ok := s.staged[pos]; ok {
		return u.content, true
	}
	content, ok := s.updates[ref.result.ID]
	return content, ok
}

// applyToon compresses the current content of every writable ref and
// stages the results by position.
func (s *staging) applyToon(model string, refs []toolResultRef) ToonCompressionResult {
	if model == "" {
		model = s.Model()
	}
	keys := itemKeys(refs)
	items := make([]compression.Item, 0, len(refs))
	for i, ref := range refs {
		if ref.set == nil {
			continue
		}
		content := ref.text
		if staged, ok := s.contentAt(i, ref); ok {
			content = staged
		}
		items = append(items, compression.Item{ID: keys[i], Content: content})
	}
	updates, res := s.compressor.Compress(model, items)
	for i, ref := range refs {
		if content, ok := updates[keys[i]]; ok && ref.set != nil {
			s.staged[i] = stagedUpdate{id: ref.result.ID, content: content}
		}
	}
	return res
}

// itemKeys gives every ref a unique compression item ID: its tool-result
// ID when that is unique, otherwise the ID with a positional suffix.
func itemKeys(refs []toolResultRef) []string {
	count := make(map[string]int, len(refs))
	for _, ref := range refs {
		count[ref.result.ID]++
	}
	used := make(map[string]bool, len(refs))
	keys := make([]string, len(refs))
	for i, ref := range refs {
		key := ref.result.ID
		if key == "" || count[key] > 1 {
			key = fmt.Sprintf("%s_%d", ref.result.ID, i)
		}
		for used[key] {
			key += "_"
		}
		used[key] = true
		keys[i] = key
	}
	return keys
}

// build applies staged changes to a copy of the original.
func (s *staging) build(refs []toolResultRef) ([]byte, error) {
	out := make([]byte, len(s.original))
	copy(out, s.original)

	var err error
	if s.model != nil && s.modelPath != "" {
		out, err = sjson.SetBytes(out, s.modelPath, *s.model)
		if err != nil {
			return nil, fmt.Errorf("failed to set model: %w", err)
		}
	}
	for i, ref := range refs {
		content, ok := s.contentAt(i, ref)
		if !ok {
			continue
		}
		if ref.set == nil {
			log.Debug().Str("tool_result_id", ref.result.ID).Msg("adapters: tool result has non-text blocks, update skipped")
			continue
		}
		out, err = ref.set(out, content)
		if err != nil {
			return nil, fmt.Errorf("failed to update tool result %s: %w", ref.result.ID, err)
		}
	}
	return out, nil
}

func resultsOf(refs []toolResultRef) []CommonToolResult {
	out := make([]CommonToolResult, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.result)
	}
	return out
}

// =============================================================================
// SETTERS - how replacement content is written back
// =============================================================================

// setString writes content as a JSON string at path.
func setString(path string) setter {
	return func(body []byte, content string) ([]byte, error) {
		return sjson.SetBytes(body, path, content)
	}
}

// setRaw writes a raw JSON value built from content at path.
func setRaw(path string, wrap func(string) (string, error)) setter {
	return func(body []byte, content string) ([]byte, error) {
		raw, err := wrap(content)
		if err != nil {
			return nil, err
		}
		return sjson.SetRawBytes(body, path, []byte(raw))
	}
}

// textContent returns the text of a tool result's content and the setter
// that rewrites it. A string is replaced in place. In an array, a lone text
// part is rewritten at its own path and the other blocks are kept; an array
// of only text parts is replaced by a string. Several text parts mixed with
// other blocks are read-only.
func textContent(content gjson.Result, path string, textTypes ...string) (string, setter) {
	text := partsText(content, textTypes...)
	if !content.IsArray() {
		return text, setString(path)
	}
	parts := content.Array()
	var textIdx []int
	for i, part := range parts {
		if part.Type == gjson.String || contains(textTypes, part.Get("type").String()) {
			textIdx = append(textIdx, i)
		}
	}
	switch {
	case len(textIdx) == 1 && parts[textIdx[0]].Type == gjson.String:
		return text, setString(fmt.Sprintf("%s.%d", path, textIdx[0]))
	case len(textIdx) == 1:
		return text, setString(fmt.Sprintf("%s.%d.text", path, textIdx[0]))
	case len(textIdx) == len(parts):
		return text, setString(path)
	default:
		return text, nil
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// parseToolContent returns the parsed JSON value of s, or s itself.
func parseToolContent(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !gjson.Valid(trimmed) {
		return s
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return s
	}
	return v
}

// parseArguments parses a tool-call argument string; anything that is not
// a JSON object becomes {}.
func parseArguments(callID, raw string) map[string]any {
	args := map[string]any{}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return args
	}
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil || args == nil {
		log.Debug().Str("call_id", callID).Msg("adapters: malformed tool arguments, using {}")
		return map[string]any{}
	}
	return args
}

// objectArguments converts an already-structured arguments value.
func objectArguments(callID string, v gjson.Result) map[string]any {
	if !v.Exists() || v.Type == gjson.Null {
		return map[string]any{}
	}
	if v.Type == gjson.String {
		return parseArguments(callID, v.String())
	}
	return parseArguments(callID, v.Raw)
}

// resolveName looks up the tool name for a call id, falling back to
// UnknownToolName.
func resolveName(names map[string]string, id, fallback string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	if fallback != "" {
		return fallback
	}
	log.Debug().Str("call_id", id).Msg("adapters: tool result has no matching tool call")
	return UnknownToolName
}

// partsText concatenates text parts of a content value that is either a
// string or an array of typed parts.
func partsText(content gjson.Result, textTypes ...string) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var b strings.Builder
	for _, part := range content.Array() {
		if part.Type == gjson.String {
			b.WriteString(part.String())
			continue
		}
		typ := part.Get("type").String()
		if len(textTypes) > 0 && !contains(textTypes, typ) {
			continue
		}
		b.WriteString(part.Get("text").String())
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// rawOrEmptyObject returns raw JSON, or {} when missing.
func rawOrEmptyObject(v gjson.Result) json.RawMessage {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	return json.RawMessage(v.Raw)
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// refusalText picks the visible text for protocols without a refusal field.
func refusalText(refusalMessage, contentMessage string) string {
	return firstNonEmpty(contentMessage, refusalMessage)
}
