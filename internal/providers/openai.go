package providers

import (
	"context"
	"net/http"

	"github.com/compresr/provider-gateway/internal/adapters"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	ollamaBaseURL = "http://localhost:11434/v1"

	chatCompletionsPath = "/chat/completions"
	responsesPath       = "/responses"
)

// =============================================================================
// OPENAI CHAT COMPLETIONS
// =============================================================================

// OpenAIFactory serves the Chat Completions protocol.
type OpenAIFactory struct {
	codecFactory
}

// Ensure OpenAIFactory implements Factory
var _ Factory = (*OpenAIFactory)(nil)

func newOpenAIFactory(codec adapters.Codec, baseURL string) *OpenAIFactory {
	return &OpenAIFactory{codecFactory: newCodecFactory(codec, baseURL, openAIBaseURL)}
}

func (f *OpenAIFactory) ExtractAPIKey(h http.Header) string { return bearerToken(h) }

func (f *OpenAIFactory) CreateClient(apiKey string, opts ClientOptions) (*Client, error) {
	return newClient(f.Provider(), f.baseURL, bearerHeader(apiKey), opts, nil), nil
}

func (f *OpenAIFactory) Execute(ctx context.Context, c *Client, req adapters.RequestAdapter) ([]byte, error) {
	return postJSON(ctx, c, chatCompletionsPath, req)
}

func (f *OpenAIFactory) ExecuteStream(ctx context.Context, c *Client, req adapters.RequestAdapter) (*EventStream, error) {
	return postSSE(ctx, c, chatCompletionsPath, req, true)
}

func (f *OpenAIFactory) ExtractErrorMessage(err error) string {
	return errorMessage(err, openAIErrorMessage)
}

// =============================================================================
// OPENAI RESPONSES
// =============================================================================

// ResponsesFactory serves the OpenAI Responses protocol.
type ResponsesFactory struct {
	codecFactory
}

// Ensure ResponsesFactory implements Factory
var _ Factory = (*ResponsesFactory)(nil)

func newResponsesFactory(codec adapters.Codec, baseURL string) *ResponsesFactory {
	return &ResponsesFactory{codecFactory: newCodecFactory(codec, baseURL, openAIBaseURL)}
}

func (f *ResponsesFactory) ExtractAPIKey(h http.Header) string { return bearerToken(h) }

func (f *ResponsesFactory) CreateClient(apiKey string, opts ClientOptions) (*Client, error) {
	return newClient(f.Provider(), f.baseURL, bearerHeader(apiKey), opts, nil), nil
}

func (f *ResponsesFactory) Execute(ctx context.Context, c *Client, req adapters.RequestAdapter) ([]byte, error) {
	return postJSON(ctx, c, responsesPath, req)
}

func (f *ResponsesFactory) ExecuteStream(ctx context.Context, c *Client, req adapters.RequestAdapter) (*EventStream, error) {
	return postSSE(ctx, c, responsesPath, req, true)
}

func (f *ResponsesFactory) ExtractErrorMessage(err error) string {
	return errorMessage(err, openAIErrorMessage)
}

// =============================================================================
// OLLAMA (OpenAI-compatible endpoint)
// =============================================================================

// OllamaFactory serves a local Ollama server through its /v1 compatibility
// layer. The API key is optional.
type OllamaFactory struct {
	codecFactory
}

// Ensure OllamaFactory implements Factory
var _ Factory = (*OllamaFactory)(nil)

func newOllamaFactory(codec adapters.Codec, baseURL string) *OllamaFactory {
	return &OllamaFactory{codecFactory: newCodecFactory(codec, baseURL, ollamaBaseURL)}
}

func (f *OllamaFactory) ExtractAPIKey(h http.Header) string { return bearerToken(h) }

func (f *OllamaFactory) CreateClient(apiKey string, opts ClientOptions) (*Client, error) {
	return newClient(f.Provider(), f.baseURL, bearerHeader(apiKey), opts, nil), nil
}

func (f *OllamaFactory) Execute(ctx context.Context, c *Client, req adapters.RequestAdapter) ([]byte, error) {
	return postJSON(ctx, c, chatCompletionsPath, req)
}

func (f *OllamaFactory) ExecuteStream(ctx context.Context, c *Client, req adapters.RequestAdapter) (*EventStream, error) {
	return postSSE(ctx, c, chatCompletionsPath, req, true)
}

func (f *OllamaFactory) ExtractErrorMessage(err error) string {
	return errorMessage(err, openAIErrorMessage)
}
