// Router maps inbound paths to wire protocols.
//
// DESIGN: Each provider is mounted under /v1/{provider}/ with the vendor's
// own path below it, so official SDKs work by changing only their base URL:
//   - /v1/openai/chat/completions         → openai (stream from body)
//   - /v1/openai/responses                → openai-responses (stream from body)
//   - /v1/anthropic/messages              → anthropic (stream from body)
//   - /v1/bedrock/model/{id}/converse     → bedrock (never streams)
//   - /v1/bedrock/model/{id}/converse-stream → bedrock (always streams)
//   - /v1/zhipuai/chat/completions        → zhipuai (stream from body)
//   - /v1/gemini/models/{m}:generateContent       → gemini (never streams)
//   - /v1/gemini/models/{m}:streamGenerateContent → gemini (always streams)
//   - /v1/ollama/chat/completions         → ollama (stream from body)
//
// Bedrock and Gemini carry the model in the path; it is staged onto the
// request adapter so upstream calls and telemetry see it.
package gateway

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/compresr/provider-gateway/internal/adapters"
)

// streamMode says how a route decides whether a request streams.
type streamMode int

const (
	streamFromBody streamMode = iota
	streamAlways
	streamNever
)

// route is a resolved inbound path.
type route struct {
	provider adapters.Provider
	stream   streamMode
	model    string
}

// isStream applies the route's stream mode to a request body.
func (rt route) isStream(body []byte) bool {
	switch rt.stream {
	case streamAlways:
		return true
	case streamNever:
		return false
	default:
		return gjson.GetBytes(body, "stream").Bool()
	}
}

// routePatterns are registered on the mux for POST.
var routePatterns = []string{
	"/v1/openai/chat/completions",
	"/v1/openai/responses",
	"/v1/anthropic/messages",
	"/v1/bedrock/model/{modelId}/converse",
	"/v1/bedrock/model/{modelId}/converse-stream",
	"/v1/zhipuai/chat/completions",
	"/v1/gemini/models/{call}",
	"/v1/ollama/chat/completions",
}

var staticRoutes = map[string]route{
	"/v1/openai/chat/completions":  {provider: adapters.ProviderOpenAI},
	"/v1/openai/responses":         {provider: adapters.ProviderOpenAIResponses},
	"/v1/anthropic/messages":       {provider: adapters.ProviderAnthropic},
	"/v1/zhipuai/chat/completions": {provider: adapters.ProviderZhipu},
	"/v1/ollama/chat/completions":  {provider: adapters.ProviderOllama},
}

// resolveRoute maps an escaped request path to a route.
func resolveRoute(escapedPath string) (route, bool) {
	path := strings.TrimRight(escapedPath, "/")
	if rt, ok := staticRoutes[path]; ok {
		return rt, true
	}

	switch {
	case strings.HasPrefix(path, "/v1/bedrock/model/"):
		rt := route{provider: adapters.ProviderBedrock, model: adapters.ExtractModelFromPath(path)}
		switch {
		case strings.HasSuffix(path, "/converse-stream"):
			rt.stream = streamAlways
		case strings.HasSuffix(path, "/converse"):
			rt.stream = streamNever
		default:
			return route{}, false
		}
		return rt, rt.model != ""

	case strings.HasPrefix(path, "/v1/gemini/models/"):
		rt := route{provider: adapters.ProviderGemini, model: adapters.ExtractGeminiModelFromPath(path)}
		switch {
		case adapters.IsGeminiStreamPath(path):
			rt.stream = streamAlways
		case strings.HasSuffix(path, ":generateContent"):
			rt.stream = streamNever
		default:
			return route{}, false
		}
		return rt, rt.model != ""
	}

	return route{}, false
}

// =============================================================================
// COMPRESSION POOL
// =============================================================================

// Pool bounds how many compression passes run at once.
type Pool struct {
	slots chan struct{}
	size  int
}

func newPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size), size: size}
}

func (p *Pool) acquire() { p.slots <- struct{}{} }
func (p *Pool) release() { <-p.slots }

// compress runs the TOON stage on req inside the pool.
func (p *Pool) compress(req adapters.RequestAdapter) adapters.ToonCompressionResult {
	p.acquire()
	defer p.release()
	return req.ApplyToonCompression(req.Model())
}
