// Package repository provides the cache-aside read layer sitting in front
// of the stores. Writes never go through here — every store owns its own
// SQL — so a cache failure only ever degrades read latency, never
// correctness.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corebus/platform/internal/cache"
	"github.com/corebus/platform/pkg/logger"
	"go.uber.org/zap"
)

// ErrNotFound is returned when neither the cache nor the backing fetch
// produced the entity.
var ErrNotFound = errors.New("entity not found")

// CachedRepository is a prefix-scoped, TTL-bounded read-through wrapper
// over the Redis cache, scoped to one entity kind by its prefix. The
// binaries build it only for "command"; the command status API reads
// through it and the projector invalidates it when terminal events arrive.
type CachedRepository struct {
	cache      *cache.RedisCache
	logger     *logger.Logger
	keyPrefix  string
	defaultTTL time.Duration
}

// NewCachedRepository creates a read-through wrapper scoped to keyPrefix.
func NewCachedRepository(c *cache.RedisCache, log *logger.Logger, keyPrefix string, defaultTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		cache:      c,
		logger:     log,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
	}
}

func (cr *CachedRepository) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", cr.keyPrefix, key)
}

// Get retrieves an item from cache into value. Returns cache.ErrCacheMiss
// on a miss and ErrNotFound when a negative entry exists.
func (cr *CachedRepository) Get(ctx context.Context, key string, value interface{}) error {
	data, _, err := cr.cache.Get(ctx, cr.buildKey(key))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, value)
}

// Set stores an item in cache under the repository's prefix.
func (cr *CachedRepository) Set(ctx context.Context, key string, value interface{}, ttl ...time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cached value: %w", err)
	}

	expiry := cr.defaultTTL
	if len(ttl) > 0 {
		expiry = ttl[0]
	}
	return cr.cache.Set(ctx, cr.buildKey(key), data, expiry)
}

// Delete invalidates one cached entity, negative entry included.
func (cr *CachedRepository) Delete(ctx context.Context, key string) error {
	return cr.cache.Delete(ctx, cr.buildKey(key), cr.buildKey(key)+":neg")
}

// GetOrFetch reads through the cache into value, fetching from the source
// of truth on a miss. fetch must return a JSON-marshalable entity or
// ErrNotFound; misses coalesce through the cache's single-flight group.
func (cr *CachedRepository) GetOrFetch(
	ctx context.Context,
	key string,
	value interface{},
	fetch func(context.Context) (interface{}, error),
) error {
	data, _, err := cr.cache.GetOrFetch(ctx, cr.buildKey(key), func(ctx context.Context) ([]byte, error) {
		entity, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(entity)
	})
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, value)
}

// InvalidatePattern invalidates every cached entity matching pattern
// within the repository's prefix.
func (cr *CachedRepository) InvalidatePattern(ctx context.Context, pattern string) error {
	if err := cr.cache.InvalidateByPattern(ctx, cr.buildKey(pattern)); err != nil {
		cr.logger.Error("failed to invalidate cache pattern",
			zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}
