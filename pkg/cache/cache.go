package cache

import (
	"context"
	"time"
)

// Valkey is the cache surface the read API depends on: plain KV for the
// rate limiter, query-result caching for the incidents list, and advisory
// locks. Implementations: cluster, single-node, and an in-memory noop
// fallback for development and degraded operation.
type Valkey interface {
	// General caching
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Query result caching for faster dashboard fetches
	CacheQueryResult(ctx context.Context, queryHash string, result interface{}, ttl time.Duration) error
	GetCachedQueryResult(ctx context.Context, queryHash string) ([]byte, error)

	// Advisory locks
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error

	// HealthCheck reports external connectivity; the noop fallback always
	// returns an error here so /health can show the degraded state.
	HealthCheck(ctx context.Context) error
}
