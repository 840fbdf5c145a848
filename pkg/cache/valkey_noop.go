package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// noopValkeyCache is a process-local fallback used when no Valkey nodes are
// configured or reachable. Entries live in memory and expire lazily; locks
// always succeed because there is no other process to contend with.
type noopValkeyCache struct {
	mu     sync.RWMutex
	data   map[string]noopEntry
	locks  map[string]time.Time
	logger logger.Logger
}

type noopEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewNoopValkeyCache(log logger.Logger) Valkey {
	if log != nil {
		log.Warn("valkey cache disabled: using in-memory noop cache")
	}
	return &noopValkeyCache{
		data:   make(map[string]noopEntry),
		locks:  make(map[string]time.Time),
		logger: log,
	}
}

func (n *noopValkeyCache) Get(ctx context.Context, key string) ([]byte, error) {
	n.mu.RLock()
	entry, ok := n.data[key]
	n.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		metrics.RecordCacheOperation("get", "miss")
		return nil, fmt.Errorf("key not found: %s", key)
	}

	metrics.RecordCacheOperation("get", "hit")
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (n *noopValkeyCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(key, value)
	if err != nil {
		metrics.RecordCacheOperation("set", "error")
		return err
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	n.mu.Lock()
	n.data[key] = noopEntry{value: data, expiresAt: time.Now().Add(ttl)}
	n.mu.Unlock()

	metrics.RecordCacheOperation("set", "success")
	return nil
}

func (n *noopValkeyCache) Delete(ctx context.Context, key string) error {
	n.mu.Lock()
	delete(n.data, key)
	n.mu.Unlock()

	metrics.RecordCacheOperation("delete", "success")
	return nil
}

func (n *noopValkeyCache) CacheQueryResult(ctx context.Context, queryHash string, result interface{}, ttl time.Duration) error {
	return n.Set(ctx, "query_cache:"+queryHash, result, ttl)
}

func (n *noopValkeyCache) GetCachedQueryResult(ctx context.Context, queryHash string) ([]byte, error) {
	return n.Get(ctx, "query_cache:"+queryHash)
}

func (n *noopValkeyCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if expiry, held := n.locks[key]; held && time.Now().Before(expiry) {
		metrics.RecordCacheOperation("acquire_lock", "conflict")
		return false, nil
	}
	n.locks[key] = time.Now().Add(ttl)
	metrics.RecordCacheOperation("acquire_lock", "success")
	return true, nil
}

func (n *noopValkeyCache) ReleaseLock(ctx context.Context, key string) error {
	n.mu.Lock()
	delete(n.locks, key)
	n.mu.Unlock()

	metrics.RecordCacheOperation("release_lock", "success")
	return nil
}

// HealthCheck always reports an error so health endpoints show the cache as
// degraded rather than silently pretending a real Valkey is attached.
func (n *noopValkeyCache) HealthCheck(ctx context.Context) error {
	return fmt.Errorf("valkey noop cache in use (no cache nodes configured)")
}
