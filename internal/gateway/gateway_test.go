package gateway_test

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/provider-gateway/internal/adapters"
	"github.com/compresr/provider-gateway/internal/compression"
	"github.com/compresr/provider-gateway/internal/config"
	"github.com/compresr/provider-gateway/internal/gateway"
	"github.com/compresr/provider-gateway/internal/monitoring"
)

// =============================================================================
// HELPERS
// =============================================================================

// capture records the last upstream request seen by a test server.
type capture struct {
	path   string
	query  string
	header http.Header
	body   []byte
}

func upstream(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.path = r.URL.Path
		c.query = r.URL.RawQuery
		c.header = r.Header.Clone()
		c.body, _ = io.ReadAll(r.Body)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func testConfig(baseURL string, providers ...adapters.Provider) *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:         18080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Providers:  config.ProvidersConfig{},
		Monitoring: config.MonitoringConfig{MetricsEnabled: true},
	}
	for _, p := range providers {
		cfg.Providers[string(p)] = config.ProviderConfig{BaseURL: baseURL}
	}
	return cfg
}

func newGateway(t *testing.T, cfg *config.Config, opts gateway.Options) *gateway.Gateway {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = monitoring.NewWithWriter(io.Discard, zerolog.Disabled)
	}
	g := gateway.New(cfg, opts)
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g
}

func post(t *testing.T, h http.Handler, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func writeSSE(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, f := range frames {
		_, _ = io.WriteString(w, f)
	}
}

// toonStub replaces every tool result with a marker.
type toonStub struct{}

func (toonStub) Compress(_ string, items []compression.Item) (map[string]string, compression.Result) {
	updates := make(map[string]string, len(items))
	for _, it := range items {
		updates[it.ID] = "toon:" + it.ID
	}
	before, after := 100, 40
	return updates, compression.Result{TokensBefore: &before, TokensAfter: &after, CostStatus: compression.CostNoPrice}
}

const chatBody = `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`

const chatToolCompletion = `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"bash","arguments":"{\"cmd\":\"rm -rf /\"}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`

var chatTextStream = []string{
	"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hel\"},\"finish_reason\":null}]}\n\n",
	"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n",
	"data: [DONE]\n\n",
}

var chatToolStream = []string{
	"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Running\"},\"finish_reason\":null}]}\n\n",
	"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"bash\",\"arguments\":\"{\\\"cmd\\\":\"}}]},\"finish_reason\":null}]}\n\n",
	"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"ls\\\"}\"}}]},\"finish_reason\":null}]}\n\n",
	"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n",
	"data: [DONE]\n\n",
}

// =============================================================================
// SERVICE ENDPOINTS
// =============================================================================

func TestHealth(t *testing.T) {
	g := newGateway(t, testConfig(""), gateway.Options{})

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
	assert.Len(t, gjson.Get(rec.Body.String(), "providers").Array(), len(adapters.AllProviders))
	assert.NotEmpty(t, rec.Header().Get(gateway.HeaderRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderOpenAI), gateway.Options{})
	post(t, g.Handler(), "/v1/openai/chat/completions", chatBody, map[string]string{"Authorization": "Bearer sk-test"})

	assert.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return strings.Contains(rec.Body.String(), `provider_gateway_requests_total{provider="openai",status="200",stream="false"} 1`)
	}, time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	cfg := testConfig("")
	cfg.Monitoring.MetricsEnabled = false
	g := newGateway(t, cfg, gateway.Options{})

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	g := newGateway(t, testConfig(""), gateway.Options{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(gateway.HeaderRequestID, "req-from-client")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-from-client", rec.Header().Get(gateway.HeaderRequestID))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig("")
	cfg.Server.RateLimit = 1
	g := newGateway(t, cfg, gateway.Options{})

	first := httptest.NewRecorder()
	g.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/health", nil))
	second := httptest.NewRecorder()
	g.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

// =============================================================================
// NON-STREAMING
// =============================================================================

func TestProxy_OpenAI(t *testing.T) {
	const completion = `{"id":"chatcmpl-9","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}]}`
	srv, c := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completion)
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderOpenAI), gateway.Options{})

	rec := post(t, g.Handler(), "/v1/openai/chat/completions", chatBody, map[string]string{
		"Authorization":       "Bearer sk-test",
		"OpenAI-Organization": "org-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, completion, rec.Body.String())
	assert.Equal(t, "/chat/completions", c.path)
	assert.Equal(t, "Bearer sk-test", c.header.Get("Authorization"))
	assert.Equal(t, "org-1", c.header.Get("OpenAI-Organization"))
	assert.JSONEq(t, chatBody, string(c.body))
}

func TestProxy_BlockedToolRefused(t *testing.T) {
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, chatToolCompletion)
	})
	cfg := testConfig(srv.URL, adapters.ProviderOpenAI)
	cfg.Policy.BlockedTools = []string{"bash"}
	g := newGateway(t, cfg, gateway.Options{})

	rec := post(t, g.Handler(), "/v1/openai/chat/completions", chatBody, map[string]string{"Authorization": "Bearer sk-test"})

	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.False(t, gjson.Get(out, "choices.0.message.tool_calls").Exists())
	assert.Equal(t, "stop", gjson.Get(out, "choices.0.finish_reason").String())
	assert.Contains(t, gjson.Get(out, "choices.0.message.refusal").String(), "blocked")
	assert.Equal(t, "chatcmpl-1", gjson.Get(out, "id").String())
}

func TestProxy_AllowedToolPassesThrough(t *testing.T) {
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, chatToolCompletion)
	})
	cfg := testConfig(srv.URL, adapters.ProviderOpenAI)
	cfg.Policy.BlockedTools = []string{"write_file"}
	g := newGateway(t, cfg, gateway.Options{})

	rec := post(t, g.Handler(), "/v1/openai/chat/completions", chatBody, map[string]string{"Authorization": "Bearer sk-test"})
	assert.JSONEq(t, chatToolCompletion, rec.Body.String())
}

func TestProxy_VendorErrorRelayed(t *testing.T) {
	const vendorErr = `{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, vendorErr)
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderOpenAI), gateway.Options{})

	rec := post(t, g.Handler(), "/v1/openai/chat/completions", chatBody, map[string]string{"Authorization": "Bearer sk-test"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, vendorErr, rec.Body.String())
}

func TestProxy_VendorRateLimitRetryAfter(t *testing.T) {
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
	})
	cfg := testConfig(srv.URL, adapters.ProviderOpenAI)
	g := newGateway(t, cfg, gateway.Options{})

	rec := post(t, g.Handler(), "/v1/openai/chat/completions", chatBody, map[string]string{"Authorization": "Bearer sk-test"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("Retry-After"))

	metrics := httptest.NewRecorder()
	g.Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metrics.Body.String(), `provider_gateway_upstream_rate_limited_total{provider="openai"} 1`)
}

func TestProxy_VendorErrorNotJSONWrapped(t *testing.T) {
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html><body>bad gateway</body></html>")
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderOpenAI), gateway.Options{})

	rec := post(t, g.Handler(), "/v1/openai/chat/completions", chatBody, map[string]string{"Authorization": "Bearer sk-test"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.True(t, gjson.Valid(rec.Body.String()))
	assert.Equal(t, "gateway_error", gjson.Get(rec.Body.String(), "error.type").String())
	assert.Contains(t, gjson.Get(rec.Body.String(), "error.message").String(), "bad gateway")
}

func TestProxy_UpstreamTimeout(t *testing.T) {
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	cfg := testConfig(srv.URL)
	cfg.Providers["openai"] = config.ProviderConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}
	g := newGateway(t, cfg, gateway.Options{})

	rec := post(t, g.Handler(), "/v1/openai/chat/completions", chatBody, map[string]string{"Authorization": "Bearer sk-test"})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "gateway_error", gjson.Get(rec.Body.String(), "error.type").String())
}

func TestProxy_InvalidJSON(t *testing.T) {
	g := newGateway(t, testConfig("http://127.0.0.1:1", adapters.ProviderOpenAI), gateway.Options{})
	rec := post(t, g.Handler(), "/v1/openai/chat/completions", `{"model":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "error.message").String(), "not valid JSON")
}

func TestProxy_BodyTooLarge(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", adapters.ProviderOpenAI)
	cfg.Server.MaxBodySize = 16
	g := newGateway(t, cfg, gateway.Options{})
	rec := post(t, g.Handler(), "/v1/openai/chat/completions", chatBody, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestProxy_UnknownRoute(t *testing.T) {
	g := newGateway(t, testConfig(""), gateway.Options{})
	rec := post(t, g.Handler(), "/v1/mistral/chat/completions", chatBody, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxy_BedrockModelFromPath(t *testing.T) {
	srv, c := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"output":{"message":{"role":"assistant","content":[{"text":"Hello"}]}},"stopReason":"end_turn","usage":{"inputTokens":3,"outputTokens":1,"totalTokens":4}}`)
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderBedrock), gateway.Options{})

	rec := post(t, g.Handler(), "/v1/bedrock/model/anthropic.claude-3-5-sonnet-20240620-v1:0/converse",
		`{"messages":[{"role":"user","content":[{"text":"hi"}]}]}`,
		map[string]string{"Authorization": "Bearer br-key"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello", gjson.Get(rec.Body.String(), "output.message.content.0.text").String())
	assert.Equal(t, "/model/anthropic.claude-3-5-sonnet-20240620-v1:0/converse", c.path)
	assert.False(t, gjson.GetBytes(c.body, "modelId").Exists())
	assert.Equal(t, "Bearer br-key", c.header.Get("Authorization"))
}

func TestProxy_GeminiQueryKey(t *testing.T) {
	srv, c := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Hi"}]},"finishReason":"STOP"}]}`)
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderGemini), gateway.Options{})

	rec := post(t, g.Handler(), "/v1/gemini/models/gemini-2.0-flash:generateContent?key=AIza-test",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/models/gemini-2.0-flash:generateContent", c.path)
	assert.Equal(t, "AIza-test", c.header.Get("x-goog-api-key"))
	assert.False(t, gjson.GetBytes(c.body, "model").Exists())
}

func TestProxy_ToonCompression(t *testing.T) {
	srv, c := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`)
	})
	cfg := testConfig(srv.URL, adapters.ProviderOpenAI)
	cfg.Compression = config.CompressionConfig{Enabled: true, TOON: true}
	g := newGateway(t, cfg, gateway.Options{Compressor: toonStub{}})

	body := `{"model":"gpt-4o","messages":[` +
		`{"role":"user","content":"list"},` +
		`{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{}"}}]},` +
		`{"role":"tool","tool_call_id":"call_1","content":"{\"rows\":[1,2]}"}]}`
	rec := post(t, g.Handler(), "/v1/openai/chat/completions", body, map[string]string{"Authorization": "Bearer sk-test"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "toon:call_1", gjson.GetBytes(c.body, "messages.2.content").String())
	assert.Equal(t, "list", gjson.GetBytes(c.body, "messages.0.content").String())
}

func TestProxy_CompressionDisabledLeavesBody(t *testing.T) {
	srv, c := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`)
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderOpenAI), gateway.Options{Compressor: toonStub{}})

	body := `{"model":"gpt-4o","messages":[{"role":"tool","tool_call_id":"call_1","content":"{\"rows\":[1,2]}"}]}`
	post(t, g.Handler(), "/v1/openai/chat/completions", body, map[string]string{"Authorization": "Bearer sk-test"})
	assert.JSONEq(t, body, string(c.body))
}

// =============================================================================
// STREAMING
// =============================================================================

func TestStream_OpenAIText(t *testing.T) {
	srv, c := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, chatTextStream...)
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderOpenAI), gateway.Options{})

	rec := post(t, g.Handler(), "/v1/openai/chat/completions",
		`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{"Authorization": "Bearer sk-test"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	assert.Contains(t, out, `"content":"Hel"`)
	assert.Contains(t, out, `"content":"lo"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
	assert.True(t, gjson.GetBytes(c.body, "stream").Bool())
}

func TestStream_ToolCallReleasedWhole(t *testing.T) {
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, chatToolStream...)
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderOpenAI), gateway.Options{})

	rec := post(t, g.Handler(), "/v1/openai/chat/completions",
		`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{"Authorization": "Bearer sk-test"})

	out := rec.Body.String()
	assert.Contains(t, out, `"name":"bash"`)
	assert.Contains(t, out, `"finish_reason":"tool_calls"`)
	assert.Less(t, strings.Index(out, `"name":"bash"`), strings.Index(out, `"finish_reason":"tool_calls"`))
}

func TestStream_BlockedToolRefused(t *testing.T) {
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, chatToolStream...)
	})
	cfg := testConfig(srv.URL, adapters.ProviderOpenAI)
	cfg.Policy.BlockedTools = []string{"bash"}
	g := newGateway(t, cfg, gateway.Options{})

	rec := post(t, g.Handler(), "/v1/openai/chat/completions",
		`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{"Authorization": "Bearer sk-test"})

	out := rec.Body.String()
	assert.Contains(t, out, `"content":"Running"`)
	assert.Contains(t, out, "blocked by gateway policy")
	assert.NotContains(t, out, `"name":"bash"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestStream_AnthropicEventLines(t *testing.T) {
	srv, c := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude\",\"usage\":{\"input_tokens\":5,\"output_tokens\":1}}}\n\n",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n",
			"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\n",
			"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
		)
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderAnthropic), gateway.Options{})

	rec := post(t, g.Handler(), "/v1/anthropic/messages",
		`{"model":"claude-sonnet-4","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{"x-api-key": "sk-ant-test", "anthropic-beta": "tools-2024-04-04"})

	out := rec.Body.String()
	assert.Contains(t, out, "event: message_start\n")
	assert.Contains(t, out, "event: message_stop\n")
	assert.Equal(t, "sk-ant-test", c.header.Get("x-api-key"))
	assert.Equal(t, "tools-2024-04-04", c.header.Get("anthropic-beta"))
}

func TestStream_VendorErrorBeforeHeaders(t *testing.T) {
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	})
	g := newGateway(t, testConfig(srv.URL, adapters.ProviderAnthropic), gateway.Options{})

	rec := post(t, g.Handler(), "/v1/anthropic/messages",
		`{"model":"claude-sonnet-4","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{"x-api-key": "bad"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_error", gjson.Get(rec.Body.String(), "error.type").String())
}

// =============================================================================
// WEBSOCKET
// =============================================================================

func TestWebSocket_OpenAIStream(t *testing.T) {
	up, c := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, chatTextStream...)
	})
	g := newGateway(t, testConfig(up.URL, adapters.ProviderOpenAI), gateway.Options{})
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws/openai", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer sk-test"}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(chatBody)))

	var frames []string
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		assert.Equal(t, websocket.MessageText, typ)
		frames = append(frames, string(msg))
	}

	require.Len(t, frames, 3)
	assert.Contains(t, frames[0], `"content":"Hel"`)
	assert.Equal(t, "data: [DONE]\n\n", frames[2])
	assert.True(t, gjson.GetBytes(c.body, "stream").Bool())
	assert.Equal(t, "Bearer sk-test", c.header.Get("Authorization"))
}

func TestWebSocket_UnknownProvider(t *testing.T) {
	g := newGateway(t, testConfig(""), gateway.Options{})
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ws/cohere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// TELEMETRY
// =============================================================================

func TestTelemetry_RecordsCorrelation(t *testing.T) {
	srv, _ := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, chatToolCompletion)
	})
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{Enabled: true, LogPath: path})
	require.NoError(t, err)

	g := newGateway(t, testConfig(srv.URL, adapters.ProviderOpenAI), gateway.Options{Tracker: tracker})
	post(t, g.Handler(), "/v1/openai/chat/completions", chatBody, map[string]string{
		"Authorization":              "Bearer sk-test",
		monitoring.HeaderGatewayMeta: "agent-7/exec-3/sess-1",
	})

	require.Eventually(t, func() bool { return tracker.Count() == 1 }, time.Second, 10*time.Millisecond)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	line := sc.Text()

	assert.Equal(t, "openai", gjson.Get(line, "provider").String())
	assert.Equal(t, "gpt-4o", gjson.Get(line, "model").String())
	assert.Equal(t, "http", gjson.Get(line, "transport").String())
	assert.Equal(t, "sess-1", gjson.Get(line, "correlation.session_id").String())
	assert.Equal(t, "tool_calls", gjson.Get(line, "stop_reason").String())
	assert.Equal(t, int64(1), gjson.Get(line, "tool_calls").Int())
	assert.Equal(t, int64(7), gjson.Get(line, "input_tokens").Int())
	assert.True(t, gjson.Get(line, "success").Bool())
}
