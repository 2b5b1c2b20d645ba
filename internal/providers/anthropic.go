package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/compresr/provider-gateway/internal/adapters"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicPath    = "/v1/messages"

	// anthropicVersion is the API version header sent when the caller did not pick one.
	anthropicVersion = "2023-06-01"
)

// AnthropicFactory serves the Anthropic Messages protocol.
type AnthropicFactory struct {
	codecFactory
}

// Ensure AnthropicFactory implements Factory
var _ Factory = (*AnthropicFactory)(nil)

func newAnthropicFactory(codec adapters.Codec, baseURL string) *AnthropicFactory {
	return &AnthropicFactory{codecFactory: newCodecFactory(codec, baseURL, anthropicBaseURL)}
}

// ExtractAPIKey reads x-api-key, falling back to a Bearer token (OAuth).
func (f *AnthropicFactory) ExtractAPIKey(h http.Header) string {
	if key := strings.TrimSpace(h.Get("x-api-key")); key != "" {
		return key
	}
	return bearerToken(h)
}

// CreateClient sends API keys as x-api-key and OAuth tokens as Bearer.
func (f *AnthropicFactory) CreateClient(apiKey string, opts ClientOptions) (*Client, error) {
	auth := make(http.Header)
	switch {
	case strings.HasPrefix(apiKey, "sk-ant-oat"):
		auth.Set("Authorization", "Bearer "+apiKey)
	case apiKey != "":
		auth.Set("x-api-key", apiKey)
	}
	auth.Set("anthropic-version", anthropicVersion)
	return newClient(f.Provider(), f.baseURL, auth, opts, nil), nil
}

func (f *AnthropicFactory) Execute(ctx context.Context, c *Client, req adapters.RequestAdapter) ([]byte, error) {
	return postJSON(ctx, c, anthropicPath, req)
}

func (f *AnthropicFactory) ExecuteStream(ctx context.Context, c *Client, req adapters.RequestAdapter) (*EventStream, error) {
	return postSSE(ctx, c, anthropicPath, req, true)
}

func (f *AnthropicFactory) ExtractErrorMessage(err error) string {
	return errorMessage(err, anthropicErrorMessage)
}
