package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
	// KeyPrefix namespaces every key written by the cache; Clear only removes
	// keys under this prefix.
	KeyPrefix string
}

// RedisCache is a Cache backed by Redis. Expiry is delegated to Redis, so
// entries vanish on their own once the TTL has passed.
type RedisCache[K comparable, V any] struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
	prefix      string
}

// NewRedisCache creates and connects a new generic RedisCache.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisCache[K comparable, V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
) (*RedisCache[K, V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger.Info().Str("redis_address", cfg.Addr).Dur("ttl", ttl).Msg("Successfully connected to Redis.")

	return &RedisCache[K, V]{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisCache").Logger(),
		ttl:         ttl,
		prefix:      cfg.KeyPrefix,
	}, nil
}

func (c *RedisCache[K, V]) key(key K) string {
	return c.prefix + fmt.Sprintf("%v", key)
}

// Get retrieves and unmarshals a value. redis.Nil is reported as ErrCacheMiss.
func (c *RedisCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := c.key(key)
	cachedData, err := c.redisClient.Get(ctx, stringKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("key '%s': %w", stringKey, ErrCacheMiss)
		}
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Unexpected Redis error during get.")
		return zero, fmt.Errorf("redis get failed for key %s: %w", stringKey, err)
	}

	var value V
	if err := json.Unmarshal(cachedData, &value); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to unmarshal cached data.")
		return zero, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Redis cache hit.")
	return value, nil
}

// Set marshals value to JSON and stores it with the configured TTL.
func (c *RedisCache[K, V]) Set(ctx context.Context, key K, value V) error {
	stringKey := c.key(key)
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal data for key %s: %w", stringKey, err)
	}

	if err := c.redisClient.Set(ctx, stringKey, jsonData, c.ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to set data in Redis cache.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// Invalidate deletes a single key.
func (c *RedisCache[K, V]) Invalidate(ctx context.Context, key K) error {
	stringKey := c.key(key)
	if err := c.redisClient.Del(ctx, stringKey).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", stringKey, err)
	}
	return nil
}

// Clear deletes every key under the configured prefix.
func (c *RedisCache[K, V]) Clear(ctx context.Context) error {
	iter := c.redisClient.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed for prefix %q: %w", c.prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed during clear: %w", err)
	}
	c.logger.Debug().Int("key_count", len(keys)).Msg("Cleared Redis cache.")
	return nil
}

// Close closes the Redis client connection.
func (c *RedisCache[K, V]) Close() error {
	if c.redisClient != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		return c.redisClient.Close()
	}
	return nil
}
