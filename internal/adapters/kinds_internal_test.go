package adapters

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

// Every declared event kind must be reachable from the table and must be
// handled by its transition.

func TestResponsesEventKinds_Exhaustive(t *testing.T) {
	seen := make(map[responsesEventKind]bool)
	for name, kind := range responsesEventKinds {
		seen[kind] = true
		_, handled := NewResponsesStreamAdapter().transition(kind, []byte(`{"type":"`+name+`"}`))
		assert.True(t, handled, name)
	}
	for k := responsesKindUnknown + 1; k < responsesKindCount; k++ {
		assert.True(t, seen[k], "kind %d has no event type", k)
	}
	_, handled := NewResponsesStreamAdapter().transition(responsesKindUnknown, []byte(`{}`))
	assert.False(t, handled)
}

func TestChatEventKinds_Exhaustive(t *testing.T) {
	seen := make(map[chatChunkKind]bool)
	for name, kind := range chatEventKinds {
		seen[kind] = true
		chunk := &openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{{FinishReason: openai.FinishReasonStop}},
		}
		_, handled := NewOpenAIStreamAdapter().transition(kind, []byte(`{}`), chunk)
		assert.True(t, handled, name)
	}
	for k := chatKindUnknown + 1; k < chatKindCount; k++ {
		assert.True(t, seen[k], "kind %d has no name", k)
	}
}

func TestAnthropicEventKinds_Exhaustive(t *testing.T) {
	seen := make(map[anthropicEventKind]bool)
	for name, kind := range anthropicEventKinds {
		seen[kind] = true
		_, handled := NewAnthropicStreamAdapter().transition(kind, name, []byte(`{}`))
		assert.True(t, handled, name)
	}
	for k := anthropicKindUnknown + 1; k < anthropicKindCount; k++ {
		assert.True(t, seen[k], "kind %d has no event type", k)
	}
}

func TestConverseEventKinds_Exhaustive(t *testing.T) {
	seen := make(map[converseEventKind]bool)
	for name, kind := range converseEventKinds {
		seen[kind] = true
		_, handled := NewBedrockStreamAdapter().transition(kind, name, []byte(`{}`))
		assert.True(t, handled, name)
	}
	for k := converseKindUnknown + 1; k < converseKindCount; k++ {
		assert.True(t, seen[k], "kind %d has no event type", k)
	}
}

func TestGeminiEventKinds_Exhaustive(t *testing.T) {
	seen := make(map[geminiChunkKind]bool)
	for name, kind := range geminiEventKinds {
		seen[kind] = true
		_, handled := NewGeminiStreamAdapter().transition(kind, gjson.Parse(`{}`), []byte(`{}`))
		assert.True(t, handled, name)
	}
	for k := geminiKindUnknown + 1; k < geminiKindCount; k++ {
		assert.True(t, seen[k], "kind %d has no name", k)
	}
}

func TestUnknownEventsAreForwarded(t *testing.T) {
	streams := []StreamAdapter{
		NewResponsesStreamAdapter(),
		NewAnthropicStreamAdapter(),
		NewBedrockStreamAdapter(),
	}
	for _, s := range streams {
		res := s.ProcessChunk(StreamEvent{Type: "brand_new_event", Data: []byte(`{"x":1}`)})
		assert.NotNil(t, res.SSEData, s.Provider())
		assert.False(t, res.IsFinal, s.Provider())
	}
}

func TestParseArguments(t *testing.T) {
	assert.Equal(t, map[string]any{}, parseArguments("c", ""))
	assert.Equal(t, map[string]any{}, parseArguments("c", "[1,2]"))
	assert.Equal(t, map[string]any{}, parseArguments("c", "null"))
	assert.Equal(t, map[string]any{"a": float64(1)}, parseArguments("c", ` {"a":1} `))
}

func TestParseToolContent(t *testing.T) {
	assert.Equal(t, "not json", parseToolContent("not json"))
	assert.Equal(t, "", parseToolContent(""))
	assert.Equal(t, map[string]any{"a": "b"}, parseToolContent(`{"a":"b"}`))
	assert.Equal(t, float64(42), parseToolContent("42"))
}
