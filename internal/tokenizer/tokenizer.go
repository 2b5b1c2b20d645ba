// Package tokenizer provides model-aware token counting.
//
// DESIGN: tiktoken encodings are expensive to build (BPE ranks are loaded
// once per encoding), so a Cache holds one encoder per encoding name and
// hands out Counters keyed by the model's encoding. When an encoding cannot
// be loaded the Cache falls back to an approximate counter instead of
// failing the request, and retries the load after RetryAfter.
package tokenizer

import (
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Encoding names understood by tiktoken.
const (
	EncodingO200K  = "o200k_base"
	EncodingCL100K = "cl100k_base"
)

// approxCharsPerToken is the fallback ratio when no BPE encoder is available.
const approxCharsPerToken = 4

// DefaultRetryAfter is how long a failed encoding load is not retried.
const DefaultRetryAfter = time.Minute

// Counter counts tokens in a string.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(text string) int

// Count implements Counter.
func (f CounterFunc) Count(text string) int { return f(text) }

// Approximate estimates tokens as one per four bytes, rounded up.
var Approximate Counter = CounterFunc(func(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + approxCharsPerToken - 1) / approxCharsPerToken
})

// Source resolves a Counter for a model.
type Source interface {
	ForModel(model string) Counter
}

// Loader builds a Counter for an encoding name.
type Loader func(encoding string) (Counter, error)

// Cache is a mutex-guarded encoder cache keyed by encoding name. Only
// successful loads are cached.
type Cache struct {
	// RetryAfter is the backoff after a failed load. Zero retries on every call.
	RetryAfter time.Duration

	mu       sync.Mutex
	counters map[string]Counter
	failed   map[string]time.Time
	load     Loader
	now      func() time.Time
}

// NewCache creates a Cache backed by tiktoken.
func NewCache() *Cache {
	return NewCacheWithLoader(loadTiktoken)
}

// NewCacheWithLoader creates a Cache with a custom encoder loader.
func NewCacheWithLoader(load Loader) *Cache {
	return &Cache{
		RetryAfter: DefaultRetryAfter,
		counters:   make(map[string]Counter),
		failed:     make(map[string]time.Time),
		load:       load,
		now:        time.Now,
	}
}

// ForModel returns the Counter for the model's encoding.
func (c *Cache) ForModel(model string) Counter {
	return c.ForEncoding(EncodingForModel(model))
}

// ForEncoding returns the Counter for an encoding, loading it on first use.
func (c *Cache) ForEncoding(encoding string) Counter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, ok := c.counters[encoding]; ok {
		return counter
	}
	if at, ok := c.failed[encoding]; ok && c.now().Sub(at) < c.RetryAfter {
		return Approximate
	}

	counter, err := c.load(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).Dur("retry_after", c.RetryAfter).
			Msg("tokenizer: encoding unavailable, using approximate counts")
		c.failed[encoding] = c.now()
		return Approximate
	}
	delete(c.failed, encoding)
	c.counters[encoding] = counter
	return counter
}

// Count counts tokens in text for the given model.
func (c *Cache) Count(model, text string) int {
	return c.ForModel(model).Count(text)
}

// EncodingForModel maps a model name to its tiktoken encoding.
// Newer OpenAI families use o200k_base; everything else uses cl100k_base,
// which is a close enough estimate for non-OpenAI vendors.
func EncodingForModel(model string) string {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	for _, prefix := range []string{"gpt-4o", "gpt-4.1", "gpt-4.5", "gpt-5", "o1", "o3", "o4", "chatgpt-4o"} {
		if strings.HasPrefix(m, prefix) {
			return EncodingO200K
		}
	}
	return EncodingCL100K
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

func loadTiktoken(encoding string) (Counter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return tiktokenCounter{enc: enc}, nil
}
