// Package cache provides the key/value cache behind the resolution layer.
// Two implementations exist: a redis-backed store for shared deployments
// and an in-process TTL cache for single-node use. Callers treat cache
// failures as misses; correctness always falls back to the database.
package cache

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL bounds how long a resolved configuration stays cached without
// an explicit invalidation.
const DefaultTTL = 300 * time.Second

// Store is the cache contract the resolution layer consumes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// AssetKey is the cache key for a fully resolved (tenant, environment,
// asset) view.
func AssetKey(tenantID, environment, assetSlug string) string {
	return fmt.Sprintf("config:%s:%s:%s", tenantID, environment, assetSlug)
}

// ValueKey is the finer-grained cache key for one resolved value.
func ValueKey(tenantID, environment, assetSlug, objectName, key string) string {
	return fmt.Sprintf("config:%s:%s:%s:%s:%s", tenantID, environment, assetSlug, objectName, key)
}
