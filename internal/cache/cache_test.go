package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCacheKeySeparatesParts(t *testing.T) {
	a := GenerateCacheKey("ollama", "batch", "prompt")
	assert.Equal(t, a, GenerateCacheKey("ollama", "batch", "prompt"))
	assert.NotEqual(t, a, GenerateCacheKey("ollama", "interactive", "prompt"))
	assert.NotEqual(t, GenerateCacheKey("ab", "c", "p"), GenerateCacheKey("a", "bc", "p"))
	assert.Len(t, a, 64)
}

func TestStoreAndLoad(t *testing.T) {
	s := New(0)
	_, ok := s.Load("k")
	assert.False(t, ok)

	s.Store("k", "reply", true)
	got, ok := s.Load("k")
	require.True(t, ok)
	assert.Equal(t, "reply", got.Response)
	assert.True(t, got.Stopped)
}

func TestExpiredEntriesAreDropped(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New(time.Minute)
	s.now = func() time.Time { return now }
	s.Store("k", "reply", false)

	now = now.Add(30 * time.Second)
	_, ok := s.Load("k")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = s.Load("k")
	assert.False(t, ok)
}
