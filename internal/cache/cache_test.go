package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Expiry(t *testing.T) {
	c := New[string, int](30 * time.Millisecond)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("a")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCache_NoExpiry(t *testing.T) {
	c := New[string, int](NoExpiry)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, NoExpiry, c.TTL())
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New[string, int](time.Minute)
	c.Set("agency:1:Boundary", 1)
	c.Set("agency:2:Boundary", 3)

	c.Delete("agency:2:Boundary")
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("agency:2:Boundary")
	assert.False(t, ok)

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestCache_MaxSizeEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, string](time.Minute, WithMaxSize(2))

	c.Set(1, "old")
	c.Set(2, "used")
	_, _ = c.Get(1)
	c.Set(3, "new")

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(2)
	assert.False(t, ok)
	_, ok = c.Get(1)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New[string, []float64](time.Minute)
	calls := 0
	load := func() ([]float64, error) {
		calls++
		return []float64{1, 2}, nil
	}

	_, err := c.GetOrLoad("k", load)
	require.NoError(t, err)
	v, err := c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, v)
	assert.Equal(t, 1, calls)

	_, err = c.GetOrLoad("bad", func() ([]float64, error) { return nil, errors.New("db down") })
	assert.Error(t, err)
	_, ok := c.Get("bad")
	assert.False(t, ok)
}

func TestCache_GetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	c := New[int, string](time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})
	load := func() (string, error) {
		calls.Add(1)
		<-release
		return "geometry", nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(7, load)
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "geometry", v)
	}
}
