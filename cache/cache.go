// Package cache provides the memoization stores injected into the collection
// index and the recurrence engine.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
)

// Cache is a key/value memo. Implementations are safe for concurrent use.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
}

// Key derives a fixed-length cache key from its parts.
func Key(parts ...string) string {
	hasher := sha256.New()
	for _, p := range parts {
		hasher.Write([]byte(p))
		hasher.Write([]byte{0})
	}
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Scope is a request-local cache without expiry. It is discarded together
// with the request that created it.
type Scope struct {
	mu      sync.Mutex
	entries map[string]any
}

// NewScope returns an empty request-local cache.
func NewScope() *Scope {
	return &Scope{entries: make(map[string]any)}
}

func (s *Scope) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

func (s *Scope) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
}

func (s *Scope) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of entries.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
