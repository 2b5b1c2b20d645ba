package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/compresr/provider-gateway/internal/adapters"
)

func TestResolveRoute(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		ok       bool
		provider adapters.Provider
		stream   streamMode
		model    string
	}{
		{"openai chat", "/v1/openai/chat/completions", true, adapters.ProviderOpenAI, streamFromBody, ""},
		{"trailing slash", "/v1/openai/chat/completions/", true, adapters.ProviderOpenAI, streamFromBody, ""},
		{"responses", "/v1/openai/responses", true, adapters.ProviderOpenAIResponses, streamFromBody, ""},
		{"anthropic", "/v1/anthropic/messages", true, adapters.ProviderAnthropic, streamFromBody, ""},
		{"zhipu", "/v1/zhipuai/chat/completions", true, adapters.ProviderZhipu, streamFromBody, ""},
		{"ollama", "/v1/ollama/chat/completions", true, adapters.ProviderOllama, streamFromBody, ""},
		{"bedrock converse", "/v1/bedrock/model/amazon.nova-pro-v1:0/converse", true, adapters.ProviderBedrock, streamNever, "amazon.nova-pro-v1:0"},
		{"bedrock stream", "/v1/bedrock/model/amazon.nova-pro-v1:0/converse-stream", true, adapters.ProviderBedrock, streamAlways, "amazon.nova-pro-v1:0"},
		{"bedrock unknown action", "/v1/bedrock/model/amazon.nova-pro-v1:0/invoke", false, "", 0, ""},
		{"gemini generate", "/v1/gemini/models/gemini-2.0-flash:generateContent", true, adapters.ProviderGemini, streamNever, "gemini-2.0-flash"},
		{"gemini stream", "/v1/gemini/models/gemini-2.0-flash:streamGenerateContent", true, adapters.ProviderGemini, streamAlways, "gemini-2.0-flash"},
		{"gemini count tokens", "/v1/gemini/models/gemini-2.0-flash:countTokens", false, "", 0, ""},
		{"unknown", "/v1/mistral/chat/completions", false, "", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, ok := resolveRoute(tt.path)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.provider, rt.provider)
			assert.Equal(t, tt.stream, rt.stream)
			assert.Equal(t, tt.model, rt.model)
		})
	}
}

func TestRouteIsStream(t *testing.T) {
	assert.True(t, route{stream: streamFromBody}.isStream([]byte(`{"stream":true}`)))
	assert.False(t, route{stream: streamFromBody}.isStream([]byte(`{"stream":false}`)))
	assert.False(t, route{stream: streamFromBody}.isStream([]byte(`{}`)))
	assert.True(t, route{stream: streamAlways}.isStream([]byte(`{"stream":false}`)))
	assert.False(t, route{stream: streamNever}.isStream([]byte(`{"stream":true}`)))
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := newPool(0)
	assert.Equal(t, 1, p.size)

	p = newPool(2)
	p.acquire()
	p.acquire()
	assert.Len(t, p.slots, 2)
	p.release()
	assert.Len(t, p.slots, 1)
	p.release()
}
