package frontend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func payload(s string) json.RawMessage {
	return json.RawMessage(s)
}

func TestCacheHitAndMiss(t *testing.T) {
	c := NewCache(5)

	_, ok := c.Get("Tux")
	assert.False(t, ok)

	c.Put("Tux", payload(`{"name":"Tux"}`))
	got, ok := c.Get("Tux")
	assert.True(t, ok)
	assert.JSONEq(t, `{"name":"Tux"}`, string(got))
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	c := NewCache(3)
	c.Put("a", payload(`1`))
	c.Put("b", payload(`2`))
	c.Put("c", payload(`3`))
	c.Put("d", payload(`4`))

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	assert.Equal(t, []string{"b", "c", "d"}, c.Names())
}

func TestCacheHitRefreshesRecency(t *testing.T) {
	c := NewCache(3)
	c.Put("a", payload(`1`))
	c.Put("b", payload(`2`))
	c.Put("c", payload(`3`))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Put("d", payload(`4`))
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCachePutRefreshesExisting(t *testing.T) {
	c := NewCache(3)
	c.Put("a", payload(`1`))
	c.Put("b", payload(`2`))
	c.Put("a", payload(`10`))

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.JSONEq(t, `10`, string(got))
	assert.Equal(t, 2, c.Len())
}

// Concurrent readers against an invalidate/re-put writer: every hit must
// carry a payload that was actually stored, never one from before the last
// invalidation of that name.
func TestCacheConcurrentGetAndInvalidate(t *testing.T) {
	c := NewCache(3)
	c.Put("a", payload(`"v0"`))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 200; i++ {
			c.Invalidate("a")
			c.Put("a", payload(`"v1"`))
		}
	}()

	for {
		select {
		case <-done:
			got, ok := c.Get("a")
			assert.True(t, ok)
			assert.JSONEq(t, `"v1"`, string(got))
			return
		default:
			if got, ok := c.Get("a"); ok {
				s := string(got)
				assert.Contains(t, []string{`"v0"`, `"v1"`}, s)
			}
		}
	}
}

func TestCacheInvalidateIsIdempotent(t *testing.T) {
	c := NewCache(3)
	c.Put("a", payload(`1`))

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Invalidate("a")
	c.Invalidate("never-cached")
	assert.Equal(t, 0, c.Len())
}
