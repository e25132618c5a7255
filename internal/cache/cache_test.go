package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_GetAfterSet(t *testing.T) {
	c := New()
	c.Set("k", "v", time.Minute)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCache_GetMissing(t *testing.T) {
	c := New()
	_, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestCache_TTLBoundary(t *testing.T) {
	c := New()
	c.Set("k", "v", 30*time.Millisecond)

	_, ok := c.Get("k")
	assert.True(t, ok, "should still be valid immediately after set")

	time.Sleep(40 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok, "should be expired after TTL elapses")
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCache_EvictExpiredCreditsEvictionOnce(t *testing.T) {
	c := New()
	c.Set("a", 1, 10*time.Millisecond)
	c.Set("b", 2, time.Hour)

	time.Sleep(20 * time.Millisecond)

	evicted := c.EvictExpired()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	_, ok := c.Get("b")
	assert.True(t, ok)
}

func TestCache_SetOverwrites(t *testing.T) {
	c := New()
	c.Set("k", "v1", time.Minute)
	c.Set("k", "v2", time.Minute)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestBuildKey_SemanticallyEqualArgsHashIdentically(t *testing.T) {
	a := map[string]any{"x": 1, "y": "two"}
	b := map[string]any{"y": "two", "x": 1}

	ka, err := BuildKey("srv", "tool", a)
	assert.NoError(t, err)
	kb, err := BuildKey("srv", "tool", b)
	assert.NoError(t, err)

	assert.Equal(t, ka, kb)
}

func TestBuildKey_DifferentArgsHashDifferently(t *testing.T) {
	ka, _ := BuildKey("srv", "tool", map[string]any{"x": 1})
	kb, _ := BuildKey("srv", "tool", map[string]any{"x": 2})
	assert.NotEqual(t, ka, kb)
}

func TestHitRate(t *testing.T) {
	c := New()
	c.Set("k", "v", time.Minute)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	assert.InDelta(t, 2.0/3.0, c.HitRate(), 0.0001)
}
