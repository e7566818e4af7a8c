package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/logging"
	"github.com/adverant/nexus/recordfusion/internal/storage"
	"github.com/redis/go-redis/v9"
)

// RedisCache shares anchor configurations between worker replicas
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisCache connects to redisURL and verifies the connection
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration, logger *logging.Logger) (*RedisCache, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl, logger), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisCache {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Get implements AnchorCache
func (c *RedisCache) Get(ctx context.Context, churchID, extractorID int64) (*storage.ExtractorConfig, bool, error) {
	data, err := c.client.Get(ctx, Key(churchID, extractorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read anchor cache: %w", err)
	}

	var cfg storage.ExtractorConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		// A stale shape is treated as a miss and removed
		c.logger.Warn("Dropping unreadable anchor cache entry",
			"church_id", churchID,
			"extractor_id", extractorID,
			"error", err.Error(),
		)
		c.client.Del(ctx, Key(churchID, extractorID))
		return nil, false, nil
	}
	return &cfg, true, nil
}

// Set implements AnchorCache
func (c *RedisCache) Set(ctx context.Context, churchID, extractorID int64, cfg *storage.ExtractorConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode anchor config: %w", err)
	}
	if err := c.client.Set(ctx, Key(churchID, extractorID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write anchor cache: %w", err)
	}
	return nil
}

// Invalidate implements AnchorCache
func (c *RedisCache) Invalidate(ctx context.Context, churchID, extractorID int64) error {
	if err := c.client.Del(ctx, Key(churchID, extractorID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate anchor cache: %w", err)
	}
	c.logger.Info("Invalidated anchor cache", "church_id", churchID, "extractor_id", extractorID)
	return nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
