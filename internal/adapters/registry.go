// Registry manages codec registration and lookup.
//
// DESIGN: Thread-safe map of Provider → Codec. A Codec bundles the three
// pure constructors of one wire protocol. Built-in codecs are registered at
// startup; transport concerns live in the providers package.
package adapters

import (
	"fmt"
	"sort"
	"sync"
)

// Codec constructs the adapters of one wire protocol.
type Codec struct {
	Provider    Provider
	NewRequest  func(body []byte, opts ...Option) (RequestAdapter, error)
	NewResponse func(body []byte) (ResponseAdapter, error)
	NewStream   func() StreamAdapter
}

// Registry manages codec registration.
type Registry struct {
	codecs map[Provider]Codec
	mu     sync.RWMutex
}

// NewRegistry creates a new codec registry with all built-in protocols.
func NewRegistry() *Registry {
	r := &Registry{
		codecs: make(map[Provider]Codec),
	}

	for _, c := range builtinCodecs() {
		r.Register(c)
	}

	return r
}

// Register adds a codec to the registry, replacing any previous one.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Provider] = c
}

// Get returns the codec for a provider.
func (r *Registry) Get(p Provider) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[p]
	return c, ok
}

// Providers lists registered providers in name order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.codecs))
	for p := range r.codecs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewRequestAdapter builds a request adapter for provider p.
func (r *Registry) NewRequestAdapter(p Provider, body []byte, opts ...Option) (RequestAdapter, error) {
	c, ok := r.Get(p)
	if !ok {
		return nil, fmt.Errorf("no codec registered for provider %q", p)
	}
	return c.NewRequest(body, opts...)
}

// =============================================================================
// BUILT-IN CODECS
// =============================================================================

func builtinCodecs() []Codec {
	return []Codec{
		{
			Provider:    ProviderOpenAI,
			NewRequest:  func(b []byte, o ...Option) (RequestAdapter, error) { return NewOpenAIRequestAdapter(b, o...) },
			NewResponse: func(b []byte) (ResponseAdapter, error) { return NewOpenAIResponseAdapter(b) },
			NewStream:   func() StreamAdapter { return NewOpenAIStreamAdapter() },
		},
		{
			Provider:    ProviderOpenAIResponses,
			NewRequest:  func(b []byte, o ...Option) (RequestAdapter, error) { return NewResponsesRequestAdapter(b, o...) },
			NewResponse: func(b []byte) (ResponseAdapter, error) { return NewResponsesResponseAdapter(b) },
			NewStream:   func() StreamAdapter { return NewResponsesStreamAdapter() },
		},
		{
			Provider:    ProviderAnthropic,
			NewRequest:  func(b []byte, o ...Option) (RequestAdapter, error) { return NewAnthropicRequestAdapter(b, o...) },
			NewResponse: func(b []byte) (ResponseAdapter, error) { return NewAnthropicResponseAdapter(b) },
			NewStream:   func() StreamAdapter { return NewAnthropicStreamAdapter() },
		},
		{
			Provider:    ProviderBedrock,
			NewRequest:  func(b []byte, o ...Option) (RequestAdapter, error) { return NewBedrockRequestAdapter(b, o...) },
			NewResponse: func(b []byte) (ResponseAdapter, error) { return NewBedrockResponseAdapter(b) },
			NewStream:   func() StreamAdapter { return NewBedrockStreamAdapter() },
		},
		{
			Provider:    ProviderZhipu,
			NewRequest:  func(b []byte, o ...Option) (RequestAdapter, error) { return NewZhipuRequestAdapter(b, o...) },
			NewResponse: func(b []byte) (ResponseAdapter, error) { return NewZhipuResponseAdapter(b) },
			NewStream:   func() StreamAdapter { return NewZhipuStreamAdapter() },
		},
		{
			Provider:    ProviderGemini,
			NewRequest:  func(b []byte, o ...Option) (RequestAdapter, error) { return NewGeminiRequestAdapter(b, o...) },
			NewResponse: func(b []byte) (ResponseAdapter, error) { return NewGeminiResponseAdapter(b) },
			NewStream:   func() StreamAdapter { return NewGeminiStreamAdapter() },
		},
		{
			Provider:    ProviderOllama,
			NewRequest:  func(b []byte, o ...Option) (RequestAdapter, error) { return NewOllamaRequestAdapter(b, o...) },
			NewResponse: func(b []byte) (ResponseAdapter, error) { return NewOllamaResponseAdapter(b) },
			NewStream:   func() StreamAdapter { return NewOllamaStreamAdapter() },
		},
	}
}
