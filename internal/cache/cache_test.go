package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrLoadCachesValue(t *testing.T) {
	c := New(time.Minute)
	var calls atomic.Int32
	load := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return true, nil
	}

	for range 3 {
		v, err := c.GetOrLoad(context.Background(), "camera-exists", "front-door", load)
		require.NoError(t, err)
		assert.Equal(t, true, v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestExpiredEntriesAreAbsent(t *testing.T) {
	c := New(30 * time.Millisecond)
	c.Set("ns", "k", 1)

	_, ok := c.Get("ns", "k")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("ns", "k")
	assert.False(t, ok)
}

func TestInvalidateClearsOnlyNamespace(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", "k1", 1)
	c.Set("a", "k2", 2)
	c.Set("b", "k1", 3)

	c.Invalidate("a")
	c.Invalidate("missing")

	assert.Equal(t, 0, c.Len("a"))
	v, ok := c.Get("b", "k1")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := New(time.Minute)
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), "ns", "k", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad(context.Background(), "ns", "k", func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestGetOrLoadSharesConcurrentMisses(t *testing.T) {
	c := New(time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	load := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "ns", "k", load)
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
}
