package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/compresr/provider-gateway/external"
	"github.com/compresr/provider-gateway/internal/adapters"
)

const (
	// DefaultTimeout for non-streaming upstream calls.
	DefaultTimeout = 120 * time.Second

	// maxResponseSize prevents OOM on unexpectedly large upstream responses (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error bodies kept in APIError (1MB).
	maxErrorBodyLen = 1 << 20

	acceptEncoding = "gzip, br, zstd"
)

// ClientOptions configures an upstream client.
type ClientOptions struct {
	// BaseURL overrides the factory default.
	BaseURL string

	// Timeout bounds non-streaming calls. Streams are bounded by ctx only.
	Timeout time.Duration

	// Headers are added to every upstream request.
	Headers map[string]string

	// Transport overrides the base RoundTripper (tests, proxies).
	Transport http.RoundTripper

	// AWS holds caller credentials for Bedrock SigV4 signing.
	AWS external.AWSCredentials
}

// Client sends requests to one upstream vendor.
// It is safe for concurrent use.
type Client struct {
	provider adapters.Provider
	baseURL  string
	http     *http.Client
	timeout  time.Duration
	headers  http.Header
}

// newClient builds a client. auth holds the authentication headers the
// factory derived from the API key.
func newClient(provider adapters.Provider, baseURL string, auth http.Header, opts ClientOptions, transport http.RoundTripper) *Client {
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if transport == nil {
		transport = opts.Transport
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept-Encoding", acceptEncoding)
	for k, vs := range auth {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}

	return &Client{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		// Timeouts are applied per call via context, not on the client.
		http:    &http.Client{Transport: transport},
		timeout: opts.Timeout,
		headers: headers,
	}
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Header returns a copy of the headers sent upstream.
func (c *Client) Header() http.Header {
	return c.headers.Clone()
}

// Post sends body to path and returns the decoded response body.
func (c *Client) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, path, body, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", c.provider, err)
	}
	if len(out) > maxResponseSize {
		return nil, fmt.Errorf("%s: response exceeds %d bytes", c.provider, maxResponseSize)
	}
	return out, nil
}

// PostStream sends body to path and returns the open, decoded response
// body. The caller must close it.
func (c *Client) PostStream(ctx context.Context, path string, body []byte, accept string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, path, body, accept)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, path string, body []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", c.provider, err)
	}
	req.Header = c.headers.Clone()
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: sending request: %w", c.provider, err)
	}

	decoded, err := decodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", c.provider, err)
	}
	resp.Body = decoded

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen+1))
		truncated := len(errBody) > maxErrorBodyLen
		if truncated {
			errBody = errBody[:maxErrorBodyLen]
		}
		log.Debug().
			Str("provider", c.provider.String()).
			Int("status", resp.StatusCode).
			Bool("truncated", truncated).
			Msg("upstream returned error status")
		return nil, &APIError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       errBody,
			Truncated:  truncated,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	return resp, nil
}

// =============================================================================
// CONTENT DECODING
// =============================================================================

// decodeBody wraps resp.Body with a decoder for its Content-Encoding.
// Accept-Encoding is set explicitly, so net/http does not decode for us.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, resp.Body}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		rc := zr.IOReadCloser()
		return &decodedBody{Reader: rc, closers: []io.Closer{rc, resp.Body}}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
