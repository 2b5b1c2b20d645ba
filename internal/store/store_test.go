package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestKey_Stable(t *testing.T) {
	assert.Equal(t, Key("cl100k_base", "hello"), Key("cl100k_base", "hello"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Len(t, Key("x"), 64)
}

func TestMemoryStore_TokensAndEncoded(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	_, ok := s.GetTokens("k")
	assert.False(t, ok)

	require.NoError(t, s.SetTokens("k", 42))
	n, ok := s.GetTokens("k")
	require.True(t, ok)
	assert.Equal(t, 42, n)

	require.NoError(t, s.SetEncoded("k", "a: 1"))
	v, ok := s.GetEncoded("k")
	require.True(t, ok)
	assert.Equal(t, "a: 1", v)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newMemoryStore(time.Minute, clock.Now, time.Hour)
	defer s.Close()

	require.NoError(t, s.SetTokens("k", 1))
	clock.Advance(2 * time.Minute)

	_, ok := s.GetTokens("k")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	s.Sweep()
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_ClosedIgnoresWrites(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.NoError(t, s.SetTokens("k", 1))
	_, ok := s.GetTokens("k")
	assert.False(t, ok)
}
