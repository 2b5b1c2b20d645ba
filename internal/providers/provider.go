// Package providers binds each wire protocol to its upstream transport.
//
// DESIGN: A Factory is the single entry point the gateway needs per
// protocol. It combines the pure adapters (via an adapters.Codec) with
// everything that touches the network:
//
//   - API key extraction from inbound headers
//   - client construction (auth headers, SigV4, JWT)
//   - upstream call paths and stream framing (SSE or AWS event-stream)
//   - vendor error envelopes
//
// OpenAI Chat Completions and OpenAI Responses are distinct providers.
//
// FLOW:
//
//	f, _ := registry.Get(provider)
//	req, _ := f.NewRequestAdapter(body)
//	client, _ := f.CreateClient(f.ExtractAPIKey(r.Header), opts)
//	stream, _ := f.ExecuteStream(ctx, client, req)
package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/provider-gateway/internal/adapters"
)

// Factory creates adapters and upstream clients for one wire protocol.
type Factory interface {
	Provider() adapters.Provider

	NewRequestAdapter(body []byte, opts ...adapters.Option) (adapters.RequestAdapter, error)
	NewResponseAdapter(body []byte) (adapters.ResponseAdapter, error)
	NewStreamAdapter() adapters.StreamAdapter

	// ExtractAPIKey reads the caller's credential from inbound headers.
	ExtractAPIKey(h http.Header) string

	// BaseURL is the default upstream base URL.
	BaseURL() string

	// SpanName names upstream calls in logs and metrics.
	SpanName() string

	CreateClient(apiKey string, opts ClientOptions) (*Client, error)

	// Execute performs a non-streaming call and returns the raw vendor body.
	Execute(ctx context.Context, c *Client, req adapters.RequestAdapter) ([]byte, error)

	// ExecuteStream opens a streaming call. The caller must Close the stream.
	ExecuteStream(ctx context.Context, c *Client, req adapters.RequestAdapter) (*EventStream, error)

	// ExtractErrorMessage returns the vendor's human-readable error text.
	ExtractErrorMessage(err error) string
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps providers to factories. It is safe for concurrent use.
type Registry struct {
	factories map[adapters.Provider]Factory
	mu        sync.RWMutex
}

// NewRegistry creates a registry with every built-in factory. baseURLs
// optionally overrides the default upstream per provider.
func NewRegistry(baseURLs map[adapters.Provider]string) *Registry {
	codecs := adapters.NewRegistry()
	r := &Registry{factories: make(map[adapters.Provider]Factory)}

	for _, p := range codecs.Providers() {
		codec, _ := codecs.Get(p)
		f, ok := newBuiltinFactory(codec, baseURLs[p])
		if !ok {
			continue
		}
		r.Register(f)
	}
	return r
}

// Register adds a factory, replacing any previous one for its provider.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Provider()] = f
}

// Get returns the factory for p.
func (r *Registry) Get(p adapters.Provider) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	return f, nil
}

// Providers lists registered providers in name order.
func (r *Registry) Providers() []adapters.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adapters.Provider, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func newBuiltinFactory(codec adapters.Codec, baseURL string) (Factory, bool) {
	var f Factory
	switch codec.Provider {
	case adapters.ProviderOpenAI:
		f = newOpenAIFactory(codec, baseURL)
	case adapters.ProviderOpenAIResponses:
		f = newResponsesFactory(codec, baseURL)
	case adapters.ProviderAnthropic:
		f = newAnthropicFactory(codec, baseURL)
	case adapters.ProviderBedrock:
		f = newBedrockFactory(codec, baseURL)
	case adapters.ProviderGemini:
		f = newGeminiFactory(codec, baseURL)
	case adapters.ProviderZhipu:
		f = newZhipuFactory(codec, baseURL)
	case adapters.ProviderOllama:
		f = newOllamaFactory(codec, baseURL)
	default:
		return nil, false
	}
	return f, true
}

// =============================================================================
// SHARED FACTORY PARTS
// =============================================================================

// codecFactory supplies the adapter constructors and defaults every
// factory shares. Factories embed it and add transport behaviour.
type codecFactory struct {
	codec   adapters.Codec
	baseURL string
}

func newCodecFactory(codec adapters.Codec, baseURL, defaultURL string) codecFactory {
	if baseURL == "" {
		baseURL = defaultURL
	}
	return codecFactory{codec: codec, baseURL: baseURL}
}

func (f *codecFactory) Provider() adapters.Provider { return f.codec.Provider }

func (f *codecFactory) NewRequestAdapter(body []byte, opts ...adapters.Option) (adapters.RequestAdapter, error) {
	return f.codec.NewRequest(body, opts...)
}

func (f *codecFactory) NewResponseAdapter(body []byte) (adapters.ResponseAdapter, error) {
	return f.codec.NewResponse(body)
}

func (f *codecFactory) NewStreamAdapter() adapters.StreamAdapter { return f.codec.NewStream() }

func (f *codecFactory) BaseURL() string { return f.baseURL }

func (f *codecFactory) SpanName() string { return "upstream." + f.codec.Provider.String() }

// bearerToken reads "Authorization: Bearer <token>".
func bearerToken(h http.Header) string {
	auth := strings.TrimSpace(h.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func bearerHeader(apiKey string) http.Header {
	h := make(http.Header)
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

// postSSE posts the staged request and wraps the response in an SSE
// stream. Bodies that carry a "stream" flag get it forced on.
func postSSE(ctx context.Context, c *Client, path string, req adapters.RequestAdapter, streamFlag bool) (*EventStream, error) {
	body, err := req.ToProviderRequest()
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", req.Provider(), err)
	}
	if streamFlag && !gjson.GetBytes(body, "stream").Bool() {
		if body, err = sjson.SetBytes(body, "stream", true); err != nil {
			return nil, fmt.Errorf("%s: setting stream flag: %w", req.Provider(), err)
		}
	}
	rc, err := c.PostStream(ctx, path, body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return NewSSEEventStream(req.Provider(), rc), nil
}

// postJSON posts the staged request and returns the raw response.
func postJSON(ctx context.Context, c *Client, path string, req adapters.RequestAdapter) ([]byte, error) {
	body, err := req.ToProviderRequest()
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", req.Provider(), err)
	}
	return c.Post(ctx, path, body)
}
