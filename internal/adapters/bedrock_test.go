package adapters_test

import (
	"testing"

	"github.com/compresr/provider-gateway/internal/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// =============================================================================
// BEDROCK REQUEST TESTS
// =============================================================================

const bedrockToolBody = `{
	"system": [{"text": "You are terse."}],
	"messages": [
		{"role": "user", "content": [{"text": "weather?"}]},
		{"role": "assistant", "content": [{"toolUse": {"toolUseId": "t1", "name": "get_weather", "input": {"city": "Paris"}}}]},
		{"role": "user", "content": [
			{"toolResult": {"toolUseId": "t1", "content": [{"json": {"results":[{"id":1,"title":"alpha"},{"id":2,"title":"beta"},{"id":3,"title":"gamma"}]}}], "status": "success"}},
			{"toolResult": {"toolUseId": "t2", "content": [{"text": "boom"}], "status": "error"}}
		]}
	],
	"toolConfig": {"tools": [
		{"toolSpec": {"name": "get_weather", "description": "Weather", "inputSchema": {"json": {"type": "object"}}}},
		{"cachePoint": {"type": "default"}}
	]}
}`

func TestBedrockRequest_ToolResults(t *testing.T) {
	a, err := adapters.NewBedrockRequestAdapter([]byte(bedrockToolBody), testOpts()...)
	require.NoError(t, err)

	results := a.ToolResults()
	require.Len(t, results, 2)
	assert.Equal(t, "t1", results[0].ID)
	assert.Equal(t, "get_weather", results[0].Name)
	assert.IsType(t, map[string]any{}, results[0].Content)

	assert.Equal(t, "unknown", results[1].Name)
	assert.True(t, results[1].IsError)
	assert.Equal(t, "boom", results[1].Error)
}

func TestBedrockRequest_MessagesAndTools(t *testing.T) {
	a, err := adapters.NewBedrockRequestAdapter([]byte(bedrockToolBody), testOpts()...)
	require.NoError(t, err)

	msgs := a.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, adapters.CommonMessage{Role: adapters.RoleSystem, Content: "You are terse."}, msgs[0])
	assert.Equal(t, adapters.RoleTool, msgs[3].Role)
	assert.Len(t, msgs[3].ToolCalls, 2)

	tools := a.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "get_weather", tools[0].Name)
}

func TestBedrockRequest_ModelOverride(t *testing.T) {
	a, err := adapters.NewBedrockRequestAdapter([]byte(bedrockToolBody), testOpts()...)
	require.NoError(t, err)
	assert.Empty(t, a.Model())

	a.SetModel("anthropic.claude-3-5-sonnet-20241022-v2:0")
	out, err := a.ToProviderRequest()
	require.NoError(t, err)
	assert.Equal(t, "anthropic.claude-3-5-sonnet-20241022-v2:0", gjson.GetBytes(out, "modelId").String())
}

func TestBedrockRequest_ToonWritesTextBlock(t *testing.T) {
	a, err := adapters.NewBedrockRequestAdapter([]byte(bedrockToolBody), testOpts()...)
	require.NoError(t, err)

	res := a.ApplyToonCompression("anthropic.claude-3-5-sonnet-20241022-v2:0")
	assert.Greater(t, res.TokensSaved(), 0)

	out, err := a.ToProviderRequest()
	require.NoError(t, err)
	block := gjson.GetBytes(out, "messages.2.content.0.toolResult.content")
	require.Len(t, block.Array(), 1)
	assert.Equal(t, tabularTOON, block.Get("0.text").String())
	assert.Equal(t, "boom", gjson.GetBytes(out, "messages.2.content.1.toolResult.content.0.text").String())
}

func TestBedrockRequest_ToonKeepsImageBlocks(t *testing.T) {
	image := `{"image":{"format":"png","source":{"bytes":"iVBORw0KGgo="}}}`
	body := []byte(`{"messages":[{"role":"user","content":[{"toolResult":{"toolUseId":"t1","content":[` +
		`{"json":` + tabularJSON + `},` + image + `]}}]}]}`)

	a, err := adapters.NewBedrockRequestAdapter(body, testOpts()...)
	require.NoError(t, err)
	assert.Greater(t, a.ApplyToonCompression("anthropic.claude-3-5-sonnet-20241022-v2:0").TokensSaved(), 0)

	out, err := a.ToProviderRequest()
	require.NoError(t, err)
	content := gjson.GetBytes(out, "messages.0.content.0.toolResult.content")
	require.Len(t, content.Array(), 2)
	assert.Equal(t, tabularTOON, content.Get("0.text").String())
	assert.False(t, content.Get("0.json").Exists())
	assert.JSONEq(t, image, content.Get("1").Raw)
}

func TestExtractModelFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/model/anthropic.claude-3-5-sonnet-20241022-v2:0/converse", "anthropic.claude-3-5-sonnet-20241022-v2:0"},
		{"/v1/bedrock/model/us.anthropic.claude-sonnet-4-20250514-v1%3A0/converse-stream", "us.anthropic.claude-sonnet-4-20250514-v1:0"},
		{"/converse", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, adapters.ExtractModelFromPath(tt.path))
		})
	}
}

// =============================================================================
// BEDROCK STREAM TESTS
// =============================================================================

func converseStreamEvents() []adapters.StreamEvent {
	return []adapters.StreamEvent{
		typed("messageStart", `{"role":"assistant"}`),
		typed("contentBlockDelta", `{"contentBlockIndex":0,"delta":{"text":"Checking"}}`),
		typed("contentBlockStop", `{"contentBlockIndex":0}`),
		typed("contentBlockStart", `{"contentBlockIndex":1,"start":{"toolUse":{"toolUseId":"t1","name":"search"}}}`),
		typed("contentBlockDelta", `{"contentBlockIndex":1,"delta":{"toolUse":{"input":"{\"q\":"}}}`),
		typed("contentBlockDelta", `{"contentBlockIndex":1,"delta":{"toolUse":{"input":"\"x\"}"}}}`),
		typed("contentBlockStop", `{"contentBlockIndex":1}`),
		typed("messageStop", `{"stopReason":"tool_use"}`),
		typed("metadata", `{"usage":{"inputTokens":9,"outputTokens":4,"totalTokens":13},"metrics":{"latencyMs":120}}`),
	}
}

func TestBedrockStream_ToolUseWithheldUntilStop(t *testing.T) {
	s := adapters.NewBedrockStreamAdapter()

	results := feed(s, converseStreamEvents()...)

	assert.Equal(t, "data: {\"messageStart\":{\"role\":\"assistant\"}}\n\n", string(results[0].SSEData))
	assert.True(t, results[3].Withheld())
	assert.True(t, results[4].Withheld())
	assert.True(t, results[5].Withheld())

	release := results[6]
	assert.True(t, release.IsToolCallChunk)
	assert.Equal(t, 4, dataFrames(release.SSEData))

	assert.False(t, results[7].IsFinal)
	assert.True(t, results[8].IsFinal)

	assert.Equal(t, "Checking", s.Text())
	assert.Equal(t, []adapters.CommonToolCall{{ID: "t1", Name: "search", Arguments: map[string]any{"q": "x"}}}, s.ToolCalls())
	assert.Equal(t, adapters.StopReasonToolCalls, s.StopReason())
	assert.Equal(t, adapters.Usage{InputTokens: 9, OutputTokens: 4}, s.Usage())
}

func TestBedrockStream_EquivalentToResponse(t *testing.T) {
	s := adapters.NewBedrockStreamAdapter()
	feed(s, converseStreamEvents()...)

	assertEquivalent(t, s, func(b []byte) (adapters.ResponseAdapter, error) { return adapters.NewBedrockResponseAdapter(b) })

	body, err := s.ToProviderResponse()
	require.NoError(t, err)
	assert.Equal(t, int64(120), gjson.GetBytes(body, "metrics.latencyMs").Int())
}

func TestBedrockStream_WrappedEvents(t *testing.T) {
	s := adapters.NewBedrockStreamAdapter()

	feed(s,
		data(`{"contentBlockDelta":{"contentBlockIndex":0,"delta":{"text":"hi"}}}`),
		data(`{"messageStop":{"stopReason":"end_turn"}}`),
	)

	assert.Equal(t, "hi", s.Text())
	assert.Equal(t, adapters.StopReasonStop, s.StopReason())
}

func TestBedrockStream_ExceptionIsFinal(t *testing.T) {
	s := adapters.NewBedrockStreamAdapter()
	events := converseStreamEvents()[:5]
	events = append(events, typed("throttlingException", `{"message":"Too many requests"}`))

	results := feed(s, events...)

	assert.True(t, results[5].IsFinal)
	assert.Equal(t, adapters.StopReasonError, s.StopReason())
	assert.Empty(t, s.ToolCalls())
}

func TestBedrockStream_SyntheticFrames(t *testing.T) {
	s := adapters.NewBedrockStreamAdapter()
	feed(s, converseStreamEvents()[:3]...)

	delta := s.FormatTextDeltaSSE("x")
	assert.Equal(t, "data: {\"contentBlockDelta\":{\"delta\":{\"text\":\"x\"},\"contentBlockIndex\":1}}\n\n", string(delta))

	assert.Equal(t, 2, dataFrames(s.FormatCompleteTextSSE("y")))
	assert.Equal(t, 2, dataFrames(s.FormatEndSSE()))
}

// =============================================================================
// BEDROCK RESPONSE TESTS
// =============================================================================

func TestBedrockResponse_Refusal(t *testing.T) {
	body := []byte(`{"output":{"message":{"role":"assistant","content":[{"toolUse":{"toolUseId":"t1","name":"rm","input":{}}}]}},"stopReason":"tool_use","usage":{"inputTokens":3,"outputTokens":1,"totalTokens":4}}`)

	a, err := adapters.NewBedrockResponseAdapter(body)
	require.NoError(t, err)
	assert.True(t, a.HasToolCalls())
	assert.Equal(t, adapters.StopReasonToolCalls, a.StopReason())

	out, err := a.ToRefusalResponse("blocked", "Not allowed.")
	require.NoError(t, err)

	refused, err := adapters.NewBedrockResponseAdapter(out)
	require.NoError(t, err)
	assert.Equal(t, "Not allowed.", refused.Text())
	assert.False(t, refused.HasToolCalls())
	assert.Equal(t, adapters.Usage{InputTokens: 3, OutputTokens: 1}, refused.Usage())
}
