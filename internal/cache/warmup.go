package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/corebus/platform/pkg/logger"
	"go.uber.org/zap"
)

// KeyPattern declares one group of keys to pre-load: the Loader fetches
// current values from the source of truth (e.g. recently active command
// rows) and every entry is cached under the pattern's TTL.
type KeyPattern struct {
	Pattern string
	TTL     time.Duration
	Loader  func(ctx context.Context) (map[string]interface{}, error)
}

// CacheWarmer pre-populates the cache at service startup so the first
// wave of status polls after a restart hits warm entries instead of
// stampeding the database.
type CacheWarmer struct {
	cache *RedisCache
	log   *logger.Logger
	mu    sync.RWMutex
	keys  []KeyPattern
}

// NewCacheWarmer creates a warmer over cache.
func NewCacheWarmer(cache *RedisCache, log *logger.Logger) *CacheWarmer {
	return &CacheWarmer{
		cache: cache,
		log:   log,
		keys:  make([]KeyPattern, 0),
	}
}

// RegisterPattern adds a key pattern to warm up.
func (w *CacheWarmer) RegisterPattern(pattern KeyPattern) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys = append(w.keys, pattern)
}

// WarmupAll loads every registered pattern concurrently. Warm-up is
// best-effort: a failed pattern is reported but never blocks startup —
// the read-through path serves cold keys regardless.
func (w *CacheWarmer) WarmupAll(ctx context.Context) error {
	w.mu.RLock()
	patterns := make([]KeyPattern, len(w.keys))
	copy(patterns, w.keys)
	w.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(patterns))

	for _, pattern := range patterns {
		wg.Add(1)
		go func(p KeyPattern) {
			defer wg.Done()
			if err := w.warmupPattern(ctx, p); err != nil {
				errCh <- fmt.Errorf("warm up pattern %s: %w", p.Pattern, err)
			}
		}(pattern)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("warm-up errors: %v", errs)
	}
	return nil
}

func (w *CacheWarmer) warmupPattern(ctx context.Context, pattern KeyPattern) error {
	w.log.Info("warming up cache pattern", zap.String("pattern", pattern.Pattern))

	data, err := pattern.Loader(ctx)
	if err != nil {
		return fmt.Errorf("load warm-up data: %w", err)
	}

	cached := 0
	for key, value := range data {
		var raw []byte
		if str, ok := value.(string); ok {
			// Strings go in as-is so the read path sees the same bytes
			// either way.
			raw = []byte(str)
		} else {
			raw, err = json.Marshal(value)
			if err != nil {
				w.log.Error("failed to marshal warm-up value", zap.String("key", key), zap.Error(err))
				continue
			}
		}
		if err := w.cache.Set(ctx, key, raw, pattern.TTL); err != nil {
			w.log.Error("failed to cache warm-up value", zap.String("key", key), zap.Error(err))
			continue
		}
		cached++
	}

	w.log.Info("cache warm-up completed",
		zap.String("pattern", pattern.Pattern),
		zap.Int("keys", cached),
	)
	return nil
}
