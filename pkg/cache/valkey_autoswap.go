package cache

import (
	"context"
	"sync"
	"time"

	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// autoSwapCache starts on a fallback cache (normally the noop cache) and
// keeps dialing the real Valkey in the background. Once a dial succeeds the
// live traffic is swapped over without a restart.
type autoSwapCache struct {
	mu      sync.RWMutex
	current Valkey

	dial     func(ctx context.Context) (Valkey, error)
	interval time.Duration
	logger   logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	swapped  bool
}

// NewAutoSwap returns a Valkey that serves from fallback until dial succeeds.
// dial is retried every interval until it returns a healthy cache or Stop is
// called.
func NewAutoSwap(fallback Valkey, dial func(ctx context.Context) (Valkey, error), interval time.Duration, log logger.Logger) Valkey {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	a := &autoSwapCache{
		current:  fallback,
		dial:     dial,
		interval: interval,
		logger:   log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go a.retryLoop()
	return a
}

func (a *autoSwapCache) retryLoop() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.interval)
		live, err := a.dial(ctx)
		cancel()
		if err != nil {
			if a.logger != nil {
				a.logger.Debug("valkey not reachable yet, staying on fallback cache", "error", err)
			}
			continue
		}

		a.mu.Lock()
		a.current = live
		a.swapped = true
		a.mu.Unlock()

		if a.logger != nil {
			a.logger.Info("valkey cache connected, swapped off fallback")
		}
		return
	}
}

// Stop ends the background dial loop. The cache keeps serving from whatever
// backend it last held.
func (a *autoSwapCache) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	<-a.doneCh
}

func (a *autoSwapCache) backend() Valkey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Swapped reports whether the real Valkey has replaced the fallback.
func (a *autoSwapCache) Swapped() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.swapped
}

func (a *autoSwapCache) Get(ctx context.Context, key string) ([]byte, error) {
	return a.backend().Get(ctx, key)
}

func (a *autoSwapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return a.backend().Set(ctx, key, value, ttl)
}

func (a *autoSwapCache) Delete(ctx context.Context, key string) error {
	return a.backend().Delete(ctx, key)
}

func (a *autoSwapCache) CacheQueryResult(ctx context.Context, queryHash string, result interface{}, ttl time.Duration) error {
	return a.backend().CacheQueryResult(ctx, queryHash, result, ttl)
}

func (a *autoSwapCache) GetCachedQueryResult(ctx context.Context, queryHash string) ([]byte, error) {
	return a.backend().GetCachedQueryResult(ctx, queryHash)
}

func (a *autoSwapCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return a.backend().AcquireLock(ctx, key, ttl)
}

func (a *autoSwapCache) ReleaseLock(ctx context.Context, key string) error {
	return a.backend().ReleaseLock(ctx, key)
}

func (a *autoSwapCache) HealthCheck(ctx context.Context) error {
	return a.backend().HealthCheck(ctx)
}
