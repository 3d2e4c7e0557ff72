package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// CachedResponse represents a completed model reply
type CachedResponse struct {
	Response  string
	Stopped   bool
	Timestamp time.Time
}

// Store holds completed replies keyed by GenerateCacheKey. A zero TTL
// keeps entries for the life of the process.
type Store struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// New creates a response cache
func New(ttl time.Duration) *Store {
	return &Store{ttl: ttl, now: time.Now}
}

// GenerateCacheKey generates a cache key from the backend, mode and rendered prompt
func GenerateCacheKey(backend, mode, prompt string) string {
	h := sha256.New()
	for _, part := range []string{backend, mode, prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Load returns a fresh cached reply
func (s *Store) Load(key string) (CachedResponse, bool) {
	val, ok := s.entries.Load(key)
	if !ok {
		return CachedResponse{}, false
	}
	cached := val.(CachedResponse)
	if s.ttl > 0 && s.now().Sub(cached.Timestamp) > s.ttl {
		s.entries.Delete(key)
		return CachedResponse{}, false
	}
	return cached, true
}

// Store saves a completed reply
func (s *Store) Store(key, response string, stopped bool) {
	s.entries.Store(key, CachedResponse{
		Response:  response,
		Stopped:   stopped,
		Timestamp: s.now(),
	})
}
