package tokenizer_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/compresr/provider-gateway/internal/tokenizer"
	"github.com/stretchr/testify/assert"
)

func TestEncodingForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", tokenizer.EncodingO200K},
		{"gpt-5", tokenizer.EncodingO200K},
		{"openai/gpt-4.1", tokenizer.EncodingO200K},
		{"o3-mini", tokenizer.EncodingO200K},
		{"gpt-4-turbo", tokenizer.EncodingCL100K},
		{"claude-sonnet-4-5", tokenizer.EncodingCL100K},
		{"", tokenizer.EncodingCL100K},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tokenizer.EncodingForModel(tt.model), tt.model)
	}
}

func TestApproximate(t *testing.T) {
	assert.Equal(t, 0, tokenizer.Approximate.Count(""))
	assert.Equal(t, 1, tokenizer.Approximate.Count("abc"))
	assert.Equal(t, 2, tokenizer.Approximate.Count("abcde"))
}

func TestCache_LoadsEachEncodingOnce(t *testing.T) {
	var mu sync.Mutex
	loads := map[string]int{}
	cache := tokenizer.NewCacheWithLoader(func(encoding string) (tokenizer.Counter, error) {
		mu.Lock()
		loads[encoding]++
		mu.Unlock()
		return tokenizer.CounterFunc(func(s string) int { return len(s) }), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Count("gpt-4o", "hello")
			cache.Count("claude-3-haiku", "hello")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, loads[tokenizer.EncodingO200K])
	assert.Equal(t, 1, loads[tokenizer.EncodingCL100K])
	assert.Equal(t, 5, cache.Count("gpt-4o", "hello"))
}

func TestCache_FallsBackToApproximate(t *testing.T) {
	cache := tokenizer.NewCacheWithLoader(func(string) (tokenizer.Counter, error) {
		return nil, errors.New("offline")
	})
	assert.Equal(t, 2, cache.Count("gpt-4o", "12345678"))
}

func TestCache_RetriesFailedLoad(t *testing.T) {
	calls := 0
	cache := tokenizer.NewCacheWithLoader(func(string) (tokenizer.Counter, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return tokenizer.CounterFunc(func(s string) int { return len(s) }), nil
	})
	cache.RetryAfter = 0

	assert.Equal(t, 2, cache.Count("gpt-4o", "12345678"), "approximate while unavailable")
	assert.Equal(t, 8, cache.Count("gpt-4o", "12345678"), "loaded on retry")
	assert.Equal(t, 8, cache.Count("gpt-4o", "12345678"))
	assert.Equal(t, 2, calls)
}

func TestCache_BacksOffAfterFailure(t *testing.T) {
	calls := 0
	cache := tokenizer.NewCacheWithLoader(func(string) (tokenizer.Counter, error) {
		calls++
		return nil, errors.New("offline")
	})

	for i := 0; i < 3; i++ {
		cache.Count("gpt-4o", "hello")
	}
	assert.Equal(t, 1, calls)
}
