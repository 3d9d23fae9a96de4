package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, config Config) *Cache {
	t.Helper()
	c := New(config)
	t.Cleanup(c.Close)
	return c
}

func TestCacheSetGet(t *testing.T) {
	c := newTestCache(t, Config{})

	c.Set("k", "v", 0)
	value, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", value)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := newTestCache(t, Config{})

	c.Set("k", "v", time.Nanosecond)
	time.Sleep(time.Millisecond)

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t, Config{})

	c.Set("k", "v", 0)
	c.Delete("k")
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestCacheEviction(t *testing.T) {
	c := newTestCache(t, Config{MaxItems: 3})

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Duration(i+1)*time.Minute)
	}

	// k0 had the earliest expiry and is gone; the rest survive.
	_, ok := c.Get("k0")
	require.False(t, ok)
	for i := 1; i < 4; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		require.True(t, ok)
	}
}
