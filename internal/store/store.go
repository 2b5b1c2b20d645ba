// Package store provides the compression memo: token counts and TOON
// encodings cached by content digest.
//
// DESIGN: Tool results repeat across turns of the same conversation, so the
// compression stage sees the same payload many times. Entries are keyed by a
// blake3 digest of (encoding, content) and expire after a TTL:
//   - Token counts: keyed by encoding + text
//   - TOON encodings: keyed by the original JSON text
//
// Currently only MemoryStore is implemented. For multi-instance deployments,
// implement Store with a shared cache.
package store

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// Default TTL values
const (
	DefaultTTL             = 30 * time.Minute
	defaultCleanupInterval = 5 * time.Minute
)

// Store defines the interface for the compression memo.
type Store interface {
	// GetTokens returns a memoized token count.
	GetTokens(key string) (int, bool)

	// SetTokens memoizes a token count.
	SetTokens(key string, tokens int) error

	// GetEncoded returns a memoized TOON encoding.
	GetEncoded(key string) (string, bool)

	// SetEncoded memoizes a TOON encoding.
	SetEncoded(key, encoded string) error

	// Len reports the number of live entries.
	Len() int

	// Close cleans up resources.
	Close() error
}

// Key derives a memo key from its parts. Parts are length-prefixed so
// ("ab","c") and ("a","bc") never collide.
func Key(parts ...string) string {
	h := blake3.New()
	var lenBuf [8]byte
	for _, p := range parts {
		n := uint64(len(p))
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (8 * i))
		}
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	tokens   map[string]tokenEntry
	encoded  map[string]encodedEntry
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopped  bool
}

type tokenEntry struct {
	tokens    int
	expiresAt time.Time
}

type encodedEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return newMemoryStore(ttl, time.Now, defaultCleanupInterval)
}

func newMemoryStore(ttl time.Duration, now func() time.Time, interval time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		tokens:   make(map[string]tokenEntry),
		encoded:  make(map[string]encodedEntry),
		ttl:      ttl,
		now:      now,
		stopChan: make(chan struct{}),
	}

	go s.cleanup(interval)

	return s
}

// GetTokens returns a token count if present and unexpired.
func (s *MemoryStore) GetTokens(key string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.tokens[key]
	if !exists || s.now().After(e.expiresAt) {
		return 0, false
	}
	return e.tokens, true
}

// SetTokens stores a token count.
func (s *MemoryStore) SetTokens(key string, tokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.tokens[key] = tokenEntry{tokens: tokens, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// GetEncoded returns a TOON encoding if present and unexpired.
func (s *MemoryStore) GetEncoded(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.encoded[key]
	if !exists || s.now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

// SetEncoded stores a TOON encoding.
func (s *MemoryStore) SetEncoded(key, encoded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.encoded[key] = encodedEntry{value: encoded, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Len reports the number of stored entries, expired ones included until the
// next cleanup.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens) + len(s.encoded)
}

// Close stops the cleanup goroutine and clears data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
		s.tokens = map[string]tokenEntry{}
		s.encoded = map[string]encodedEntry{}
	}
	return nil
}

// Sweep removes expired entries.
func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.tokens {
		if now.After(e.expiresAt) {
			delete(s.tokens, key)
		}
	}
	for key, e := range s.encoded {
		if now.After(e.expiresAt) {
			delete(s.encoded, key)
		}
	}
}

// cleanup periodically removes expired entries.
func (s *MemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
