package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/sentinelops/pkg/logger"
)

func TestNoopCacheSetGet(t *testing.T) {
	c := NewNoopValkeyCache(logger.NewNop())
	ctx := context.Background()

	err := c.Set(ctx, "svc:payment", []byte("critical"), time.Minute)
	require.NoError(t, err)

	got, err := c.Get(ctx, "svc:payment")
	require.NoError(t, err)
	assert.Equal(t, []byte("critical"), got)
}

func TestNoopCacheMiss(t *testing.T) {
	c := NewNoopValkeyCache(logger.NewNop())

	_, err := c.Get(context.Background(), "absent")
	assert.Error(t, err)
}

func TestNoopCacheExpiry(t *testing.T) {
	c := NewNoopValkeyCache(logger.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", 5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.Error(t, err, "expired entries must behave like misses")
}

func TestNoopCacheDelete(t *testing.T) {
	c := NewNoopValkeyCache(logger.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.Error(t, err)
}

func TestNoopCacheEncodesStructs(t *testing.T) {
	c := NewNoopValkeyCache(logger.NewNop())
	ctx := context.Background()

	payload := map[string]int{"incidents": 3}
	require.NoError(t, c.Set(ctx, "counts", payload, time.Minute))

	got, err := c.Get(ctx, "counts")
	require.NoError(t, err)
	assert.JSONEq(t, `{"incidents":3}`, string(got))
}

func TestNoopQueryCacheKeyIsolation(t *testing.T) {
	c := NewNoopValkeyCache(logger.NewNop())
	ctx := context.Background()

	require.NoError(t, c.CacheQueryResult(ctx, "abc123", []byte("cached"), time.Minute))

	got, err := c.GetCachedQueryResult(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), got)

	// Query cache entries must not collide with plain keys.
	_, err = c.Get(ctx, "abc123")
	assert.Error(t, err)
}

func TestNoopLockLifecycle(t *testing.T) {
	c := NewNoopValkeyCache(logger.NewNop())
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "tick", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be granted twice")

	require.NoError(t, c.ReleaseLock(ctx, "tick"))

	ok, err = c.AcquireLock(ctx, "tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNoopHealthCheckReportsDegraded(t *testing.T) {
	c := NewNoopValkeyCache(logger.NewNop())
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestAutoSwapServesFallbackUntilDialSucceeds(t *testing.T) {
	fallback := NewNoopValkeyCache(logger.NewNop())
	live := NewNoopValkeyCache(logger.NewNop())
	require.NoError(t, live.Set(context.Background(), "origin", []byte("real"), time.Minute))

	attempts := 0
	dial := func(ctx context.Context) (Valkey, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return live, nil
	}

	c := NewAutoSwap(fallback, dial, 5*time.Millisecond, logger.NewNop())
	swapper, ok := c.(interface {
		Swapped() bool
		Stop()
	})
	require.True(t, ok)
	defer swapper.Stop()

	// Before the swap the fallback answers, so the seeded key is invisible.
	_, err := c.Get(context.Background(), "origin")
	assert.Error(t, err)

	require.Eventually(t, swapper.Swapped, time.Second, 5*time.Millisecond,
		"dial should eventually succeed and swap the backend")

	got, err := c.Get(context.Background(), "origin")
	require.NoError(t, err)
	assert.Equal(t, []byte("real"), got)
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestAutoSwapStopEndsRetries(t *testing.T) {
	fallback := NewNoopValkeyCache(logger.NewNop())
	dial := func(ctx context.Context) (Valkey, error) {
		return nil, errors.New("unreachable")
	}

	c := NewAutoSwap(fallback, dial, 5*time.Millisecond, logger.NewNop())
	swapper := c.(interface {
		Swapped() bool
		Stop()
	})
	swapper.Stop()

	assert.False(t, swapper.Swapped())

	// Fallback keeps serving after Stop.
	require.NoError(t, c.Set(context.Background(), "k", "v", time.Minute))
	got, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestEncodeValue(t *testing.T) {
	raw, err := encodeValue("k", []byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), raw)

	str, err := encodeValue("k", "text")
	require.NoError(t, err)
	assert.Equal(t, []byte("text"), str)

	obj, err := encodeValue("k", map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"b"}`, string(obj))
}
