package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/compresr/provider-gateway/internal/adapters"
)

const (
	zhipuBaseURL = "https://open.bigmodel.cn/api/paas/v4"

	// zhipuTokenTTL is the lifetime of a signed Zhipu token.
	zhipuTokenTTL = time.Hour
)

// ZhipuFactory serves Zhipuai's Chat Completions dialect.
//
// Zhipu keys have the form "<id>.<secret>" and are exchanged for a short
// HS256 token per client. Keys without a dot are sent as-is.
type ZhipuFactory struct {
	codecFactory
	now func() time.Time
}

// Ensure ZhipuFactory implements Factory
var _ Factory = (*ZhipuFactory)(nil)

func newZhipuFactory(codec adapters.Codec, baseURL string) *ZhipuFactory {
	return &ZhipuFactory{
		codecFactory: newCodecFactory(codec, baseURL, zhipuBaseURL),
		now:          time.Now,
	}
}

func (f *ZhipuFactory) ExtractAPIKey(h http.Header) string { return bearerToken(h) }

func (f *ZhipuFactory) CreateClient(apiKey string, opts ClientOptions) (*Client, error) {
	token := apiKey
	if strings.Contains(apiKey, ".") {
		var err error
		if token, err = ZhipuToken(apiKey, f.now()); err != nil {
			return nil, err
		}
	}
	return newClient(f.Provider(), f.baseURL, bearerHeader(token), opts, nil), nil
}

// ZhipuToken signs the "<id>.<secret>" key into a Zhipu bearer token.
// Timestamps are in milliseconds as the Zhipu API expects.
func ZhipuToken(apiKey string, now time.Time) (string, error) {
	id, secret, ok := strings.Cut(apiKey, ".")
	if !ok || id == "" || secret == "" {
		return "", fmt.Errorf("%s: api key must have the form <id>.<secret>", adapters.ProviderZhipu)
	}

	claims := jwt.MapClaims{
		"api_key":   id,
		"exp":       now.Add(zhipuTokenTTL).UnixMilli(),
		"timestamp": now.UnixMilli(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["sign_type"] = "SIGN"

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("%s: signing token: %w", adapters.ProviderZhipu, err)
	}
	return signed, nil
}

func (f *ZhipuFactory) Execute(ctx context.Context, c *Client, req adapters.RequestAdapter) ([]byte, error) {
	return postJSON(ctx, c, chatCompletionsPath, req)
}

func (f *ZhipuFactory) ExecuteStream(ctx context.Context, c *Client, req adapters.RequestAdapter) (*EventStream, error) {
	return postSSE(ctx, c, chatCompletionsPath, req, true)
}

func (f *ZhipuFactory) ExtractErrorMessage(err error) string {
	return errorMessage(err, openAIErrorMessage)
}
