package dedupcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckMissThenHit(t *testing.T) {
	c := New(time.Minute, 10)

	_, hit := c.Check("abc")
	require.False(t, hit)

	c.Set("abc", true)
	exists, hit := c.Check("abc")
	require.True(t, hit)
	require.True(t, exists)
}

func TestTTLExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	c.Set("abc", true)

	time.Sleep(30 * time.Millisecond)
	_, hit := c.Check("abc")
	require.False(t, hit)
}

func TestLRUEviction(t *testing.T) {
	c := New(time.Minute, 2)
	c.Set("a", true)
	c.Set("b", true)
	c.Set("c", true) // evicts "a"

	_, hit := c.Check("a")
	require.False(t, hit)

	_, hit = c.Check("b")
	require.True(t, hit)
}

func TestSetManyAfterBatchExists(t *testing.T) {
	c := New(time.Minute, 10)
	c.SetMany(map[string]bool{"x": true, "y": false})

	exists, hit := c.Check("x")
	require.True(t, hit)
	require.True(t, exists)

	exists, hit = c.Check("y")
	require.True(t, hit)
	require.False(t, exists)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(time.Minute, 1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set("k", i%2 == 0)
			c.Check("k")
		}(i)
	}
	wg.Wait()

	hits, misses := c.Metrics()
	require.True(t, hits+misses > 0)
}
