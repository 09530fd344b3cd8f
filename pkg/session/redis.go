package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-diwane/pkg/types"
)

// RedisConfig holds the configuration for the Redis-backed session store.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	SessionKey string
	// TTL bounds how long an idle session survives. Zero keeps it until Clear.
	TTL time.Duration
}

// RedisStore is a distributed Store using Redis.
type RedisStore struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	key         string
	ttl         time.Duration
}

// NewRedisStore creates and connects a new RedisStore.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	if cfg.SessionKey == "" {
		return nil, errors.New("session key cannot be empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis for session store: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for session store.")

	return &RedisStore{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisSessionStore").Logger(),
		key:         "session:" + cfg.SessionKey,
		ttl:         cfg.TTL,
	}, nil
}

// Save marshals the user to JSON and stores it under the session key.
func (s *RedisStore) Save(ctx context.Context, user types.User) error {
	jsonData, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal session user: %w", err)
	}
	if err := s.redisClient.Set(ctx, s.key, jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session in redis for key %s: %w", s.key, err)
	}
	s.logger.Debug().Str("user_id", user.ID.String()).Msg("Session saved.")
	return nil
}

// Load retrieves the stored user.
func (s *RedisStore) Load(ctx context.Context) (types.User, error) {
	data, err := s.redisClient.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.User{}, ErrNoSession
		}
		return types.User{}, fmt.Errorf("redis get failed for key %s: %w", s.key, err)
	}
	var user types.User
	if err := json.Unmarshal(data, &user); err != nil {
		return types.User{}, fmt.Errorf("failed to unmarshal session for key %s: %w", s.key, err)
	}
	return user, nil
}

// Clear removes the session key.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redisClient.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", s.key, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		return s.redisClient.Close()
	}
	return nil
}
