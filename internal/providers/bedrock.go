package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/compresr/provider-gateway/external"
	"github.com/compresr/provider-gateway/internal/adapters"
)

// BedrockFactory serves the Bedrock Converse protocol.
//
// Two auth modes are supported: a Bedrock API key sent as Bearer, or SigV4
// signing with caller x-amz-* credentials (falling back to the default AWS
// chain). The model lives in the URL path and is stripped from the body.
type BedrockFactory struct {
	codecFactory
}

// Ensure BedrockFactory implements Factory
var _ Factory = (*BedrockFactory)(nil)

func newBedrockFactory(codec adapters.Codec, baseURL string) *BedrockFactory {
	return &BedrockFactory{codecFactory: newCodecFactory(codec, baseURL, "")}
}

// BaseURL returns the configured endpoint or the default region's endpoint.
func (f *BedrockFactory) BaseURL() string {
	if f.baseURL != "" {
		return f.baseURL
	}
	return external.BedrockEndpoint(external.DefaultBedrockRegion)
}

// ExtractAPIKey returns a Bedrock API key sent as Bearer. SigV4 callers
// send credentials via BedrockCredentials instead.
func (f *BedrockFactory) ExtractAPIKey(h http.Header) string { return bearerToken(h) }

// BedrockCredentials reads caller AWS credentials from x-amz-* headers.
func BedrockCredentials(h http.Header) external.AWSCredentials {
	return external.AWSCredentials{
		AccessKeyID:     strings.TrimSpace(h.Get("x-amz-access-key-id")),
		SecretAccessKey: strings.TrimSpace(h.Get("x-amz-secret-access-key")),
		SessionToken:    strings.TrimSpace(h.Get("x-amz-session-token")),
		Region:          strings.TrimSpace(h.Get("x-amz-region")),
	}
}

// CreateClient picks Bearer auth when an API key is present and SigV4
// otherwise.
func (f *BedrockFactory) CreateClient(apiKey string, opts ClientOptions) (*Client, error) {
	baseURL := f.baseURL
	if baseURL == "" {
		baseURL = external.BedrockEndpoint(opts.AWS.Region)
	}

	if apiKey != "" {
		return newClient(f.Provider(), baseURL, bearerHeader(apiKey), opts, nil), nil
	}

	tr, err := external.NewBedrockSigningTransport(context.Background(), opts.AWS, opts.Transport)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Provider(), err)
	}
	return newClient(f.Provider(), baseURL, nil, opts, tr), nil
}

func (f *BedrockFactory) Execute(ctx context.Context, c *Client, req adapters.RequestAdapter) ([]byte, error) {
	path, body, err := bedrockCall(req, "converse")
	if err != nil {
		return nil, err
	}
	return c.Post(ctx, path, body)
}

func (f *BedrockFactory) ExecuteStream(ctx context.Context, c *Client, req adapters.RequestAdapter) (*EventStream, error) {
	path, body, err := bedrockCall(req, "converse-stream")
	if err != nil {
		return nil, err
	}
	rc, err := c.PostStream(ctx, path, body, "application/vnd.amazon.eventstream")
	if err != nil {
		return nil, err
	}
	return NewEventStreamDecoder(f.Provider(), rc), nil
}

// bedrockCall builds the /model/{modelId}/{action} path and a body
// without the modelId field.
func bedrockCall(req adapters.RequestAdapter, action string) (string, []byte, error) {
	model := req.Model()
	if model == "" {
		return "", nil, fmt.Errorf("%s: model id is required", req.Provider())
	}
	body, err := req.ToProviderRequest()
	if err != nil {
		return "", nil, fmt.Errorf("%s: building request: %w", req.Provider(), err)
	}
	if body, err = sjson.DeleteBytes(body, "modelId"); err != nil {
		return "", nil, fmt.Errorf("%s: building request: %w", req.Provider(), err)
	}
	return "/model/" + url.PathEscape(model) + "/" + action, body, nil
}

func (f *BedrockFactory) ExtractErrorMessage(err error) string {
	return errorMessage(err, bedrockErrorMessage)
}
