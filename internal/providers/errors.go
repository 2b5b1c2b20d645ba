package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/compresr/provider-gateway/internal/adapters"
)

// ErrUnknownProvider is returned when no factory is registered for a provider.
var ErrUnknownProvider = errors.New("unknown provider")

// APIError is a non-2xx upstream answer. Body holds at most the first
// 1MB of the vendor error envelope.
type APIError struct {
	Provider   adapters.Provider
	StatusCode int
	Body       []byte
	Truncated  bool   // Body was cut at the size limit
	RetryAfter string // vendor Retry-After header, if any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: upstream returned HTTP %d: %s", e.Provider, e.StatusCode, truncate(string(e.Body), 500))
}

// IsRateLimited reports an HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// Relayable reports whether Body can be sent to the client as the JSON
// error envelope it claims to be.
func (e *APIError) Relayable() bool {
	return !e.Truncated && gjson.ValidBytes(e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}

// errorMessage extracts a human-readable message from err. envelope
// handles the vendor-specific body; the generic fallbacks apply after it.
func errorMessage(err error, envelope func(body []byte) string) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	if envelope != nil {
		if msg := envelope(apiErr.Body); msg != "" {
			return msg
		}
	}
	if msg := genericErrorMessage(apiErr.Body); msg != "" {
		return msg
	}
	if body := strings.TrimSpace(string(apiErr.Body)); body != "" {
		return truncate(body, 500)
	}
	return fmt.Sprintf("upstream returned HTTP %d", apiErr.StatusCode)
}

func genericErrorMessage(body []byte) string {
	for _, path := range []string{"error.message", "message", "Message", "error", "detail"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// openAIErrorMessage reads the OpenAI envelope {"error":{"message":...}}.
// Zhipu, Gemini and the Ollama compatibility layer reuse the same shape.
func openAIErrorMessage(body []byte) string {
	var env openai.ErrorResponse
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return ""
	}
	return env.Error.Message
}

// anthropicErrorMessage reads {"type":"error","error":{"type":...,"message":...}}.
func anthropicErrorMessage(body []byte) string {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		return ""
	}
	if typ := gjson.GetBytes(body, "error.type").String(); typ != "" {
		return typ + ": " + msg
	}
	return msg
}

// bedrockErrorMessage reads {"message":...} or {"Message":...}.
func bedrockErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		return msg
	}
	return gjson.GetBytes(body, "Message").String()
}

// geminiErrorMessage reads {"error":{"code":...,"message":...,"status":...}}.
func geminiErrorMessage(body []byte) string {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		return ""
	}
	if status := gjson.GetBytes(body, "error.status").String(); status != "" {
		return status + ": " + msg
	}
	return msg
}
