package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/compresr/provider-gateway/internal/adapters"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiFactory serves the Gemini generateContent protocol. The model is
// part of the URL; streams use ?alt=sse.
type GeminiFactory struct {
	codecFactory
}

// Ensure GeminiFactory implements Factory
var _ Factory = (*GeminiFactory)(nil)

func newGeminiFactory(codec adapters.Codec, baseURL string) *GeminiFactory {
	return &GeminiFactory{codecFactory: newCodecFactory(codec, baseURL, geminiBaseURL)}
}

// ExtractAPIKey reads x-goog-api-key, falling back to a Bearer token.
// Keys passed as ?key= are read with GeminiQueryKey.
func (f *GeminiFactory) ExtractAPIKey(h http.Header) string {
	if key := strings.TrimSpace(h.Get("x-goog-api-key")); key != "" {
		return key
	}
	return bearerToken(h)
}

// GeminiQueryKey returns the ?key= API key of an inbound request URL.
func GeminiQueryKey(q url.Values) string {
	return strings.TrimSpace(q.Get("key"))
}

func (f *GeminiFactory) CreateClient(apiKey string, opts ClientOptions) (*Client, error) {
	auth := make(http.Header)
	if apiKey != "" {
		auth.Set("x-goog-api-key", apiKey)
	}
	return newClient(f.Provider(), f.baseURL, auth, opts, nil), nil
}

func (f *GeminiFactory) Execute(ctx context.Context, c *Client, req adapters.RequestAdapter) ([]byte, error) {
	path, body, err := geminiCall(req, ":generateContent")
	if err != nil {
		return nil, err
	}
	return c.Post(ctx, path, body)
}

func (f *GeminiFactory) ExecuteStream(ctx context.Context, c *Client, req adapters.RequestAdapter) (*EventStream, error) {
	path, body, err := geminiCall(req, ":streamGenerateContent?alt=sse")
	if err != nil {
		return nil, err
	}
	rc, err := c.PostStream(ctx, path, body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return NewSSEEventStream(f.Provider(), rc), nil
}

func geminiCall(req adapters.RequestAdapter, method string) (string, []byte, error) {
	model := strings.TrimPrefix(req.Model(), "models/")
	if model == "" {
		return "", nil, fmt.Errorf("%s: model is required", req.Provider())
	}
	body, err := req.ToProviderRequest()
	if err != nil {
		return "", nil, fmt.Errorf("%s: building request: %w", req.Provider(), err)
	}
	if body, err = sjson.DeleteBytes(body, "model"); err != nil {
		return "", nil, fmt.Errorf("%s: building request: %w", req.Provider(), err)
	}
	return "/models/" + url.PathEscape(model) + method, body, nil
}

func (f *GeminiFactory) ExtractErrorMessage(err error) string {
	return errorMessage(err, geminiErrorMessage)
}
