package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds configuration for the Redis receipt cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a receipt is retained. It should exceed the
	// queue's redelivery horizon; expired receipts fall back on the
	// idempotent commit.
	TTL time.Duration
}

// RedisReceiptCache is a distributed ReceiptCache backed by Redis, for
// consumers running as more than one instance.
type RedisReceiptCache struct {
	client *redis.Client
	logger zerolog.Logger
	ttl    time.Duration
}

// NewRedisReceiptCache connects to Redis and verifies the connection.
func NewRedisReceiptCache(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisReceiptCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis for receipt cache: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for ReceiptCache.")

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisReceiptCache{
		client: rdb,
		logger: logger.With().Str("component", "RedisReceiptCache").Logger(),
		ttl:    ttl,
	}, nil
}

// Seen reports whether the receipt key exists.
func (c *RedisReceiptCache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed for key %s: %w", key, err)
	}
	return n > 0, nil
}

// Mark records the receipt with the configured TTL.
func (c *RedisReceiptCache) Mark(ctx context.Context, key string) error {
	if err := c.client.Set(ctx, c.redisKey(key), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisReceiptCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *RedisReceiptCache) redisKey(key string) string {
	return "receipt:" + key
}
