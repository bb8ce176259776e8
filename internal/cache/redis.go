// Package cache is the Redis read-side cache for command status lookups. It is never a correctness path: the database stays the
// source of truth, entries carry short TTLs, and the projector
// invalidates them when terminal replies arrive.
package cache

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrNotFound  = errors.New("not found")
)

type CacheMeta struct {
	Status string // "hit", "miss", "neg", "error"
}

// RedisCache is a TTL-jittered cache with single-flight miss coalescing
// and negative caching for ids that do not exist.
type RedisCache struct {
	client      redis.UniversalClient
	sf          singleflight.Group
	baseTTL     time.Duration
	negativeTTL time.Duration
	logger      *logger.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type CacheOptions struct {
	Addresses   []string
	Password    string
	DB          int
	PoolSize    int
	BaseTTL     time.Duration
	NegativeTTL time.Duration
}

func NewRedisCache(opts CacheOptions, log *logger.Logger, m *metrics.Metrics) *RedisCache {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      opts.Addresses,
		Password:   opts.Password,
		DB:         opts.DB,
		PoolSize:   opts.PoolSize,
		MaxRetries: 3,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MinIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		PoolTimeout:     4 * time.Second,
	})

	return &RedisCache{
		client:      client,
		baseTTL:     opts.BaseTTL,
		negativeTTL: opts.NegativeTTL,
		logger:      log,
		metrics:     m,
		tracer:      otel.GetTracerProvider().Tracer("redis-cache"),
	}
}

// Get retrieves a value. A missing key with a live negative entry returns
// ErrNotFound; a plain miss returns ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, CacheMeta, error) {
	ctx, span := c.tracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.key", key)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.CacheGetDuration.Observe(time.Since(start).Seconds())
		}
	}()

	val, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return val, CacheMeta{Status: "hit"}, nil
	}

	if err == redis.Nil {
		negKey := key + ":neg"
		if _, err := c.client.Get(ctx, negKey).Result(); err == nil {
			if c.metrics != nil {
				c.metrics.CacheHits.Inc()
			}
			span.SetAttributes(
				attribute.Bool("cache.hit", true),
				attribute.Bool("cache.negative", true),
			)
			return nil, CacheMeta{Status: "neg"}, ErrNotFound
		}

		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		span.SetAttributes(attribute.Bool("cache.miss", true))
		return nil, CacheMeta{Status: "miss"}, ErrCacheMiss
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, CacheMeta{Status: "error"}, err
}

// Set stores a value. When no explicit TTL is given, the base TTL gets a
// ±10% jitter so entries warmed in one burst (a restart warm-up, a hot
// business key) do not all expire on the same tick.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "cache.Set",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	expiry := c.baseTTL
	if len(ttl) > 0 {
		expiry = ttl[0]
	} else {
		expiry = c.jitterTTL(expiry, 0.1)
	}

	span.SetAttributes(attribute.Int64("cache.ttl_ms", expiry.Milliseconds()))

	start := time.Now()
	err := c.client.Set(ctx, key, value, expiry).Err()
	if c.metrics != nil {
		c.metrics.CacheSetDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// SetNegative records that a key's entity does not exist, so repeated
// polls for an unknown command id stop reaching the database.
func (c *RedisCache) SetNegative(ctx context.Context, key string) error {
	ctx, span := c.tracer.Start(ctx, "cache.SetNegative",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Bool("cache.negative", true),
		),
	)
	defer span.End()

	negKey := key + ":neg"
	span.SetAttributes(
		attribute.String("cache.neg_key", negKey),
		attribute.Int64("cache.ttl_ms", c.negativeTTL.Milliseconds()),
	)

	err := c.client.Set(ctx, negKey, "1", c.negativeTTL).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// Delete removes keys.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "cache.Delete",
		trace.WithAttributes(attribute.Int("cache.key_count", len(keys))),
	)
	defer span.End()

	err := c.client.Del(ctx, keys...).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// GetOrFetch is the cache-aside read path: hit returns immediately, a
// negative entry returns ErrNotFound, and misses coalesce through
// single-flight so one status poll per key reaches the store no matter
// how many callers race.
func (c *RedisCache) GetOrFetch(
	ctx context.Context,
	key string,
	fetcher func(context.Context) ([]byte, error),
) ([]byte, CacheMeta, error) {
	val, meta, err := c.Get(ctx, key)
	if err == nil {
		return val, meta, nil
	}

	if err == ErrNotFound {
		return nil, meta, ErrNotFound
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Double-check: another flight may have populated the key while
		// this one queued.
		val, _, err := c.Get(ctx, key)
		if err == nil {
			return val, nil
		}

		c.logger.Debug("cache miss, fetching from source", zap.String("key", key))

		data, err := fetcher(ctx)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				_ = c.SetNegative(ctx, key)
				return nil, ErrNotFound
			}
			return nil, err
		}

		if err := c.Set(ctx, key, data); err != nil {
			c.logger.Warn("failed to cache fetched value",
				zap.String("key", key),
				zap.Error(err))
		}

		return data, nil
	})

	if err != nil {
		return nil, CacheMeta{Status: "miss"}, err
	}

	return result.([]byte), CacheMeta{Status: "miss"}, nil
}

// InvalidateByPattern deletes every key matching pattern, in pipeline
// batches. The projector does not use it; it deletes the single command
// key of each terminal reply.
func (c *RedisCache) InvalidateByPattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	pipe := c.client.Pipeline()

	count := 0
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		count++

		if count%1000 == 0 {
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			pipe = c.client.Pipeline()
		}
	}

	if err := iter.Err(); err != nil {
		return err
	}

	if count%1000 != 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}

	c.logger.Debug("invalidated cache keys",
		zap.String("pattern", pattern),
		zap.Int("count", count))

	return nil
}

// jitterTTL spreads ttl by ±jitterFraction.
func (c *RedisCache) jitterTTL(ttl time.Duration, jitterFraction float64) time.Duration {
	maxJitter := int64(float64(ttl) * jitterFraction)
	if maxJitter <= 0 {
		return ttl
	}

	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter*2+1))
	if err != nil {
		return ttl
	}

	return ttl + time.Duration(n.Int64()-maxJitter)
}

// Ping checks Redis connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
