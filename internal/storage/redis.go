package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pool-metrics/internal/config"
	"github.com/pool-metrics/internal/types"
)

// DefaultPriceTTL is used when no TTL is configured
const DefaultPriceTTL = 10 * time.Minute

// RedisCache holds sampled average prices between runs
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, ttl), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func priceKey(asset types.Asset, windowDays int) string {
	return fmt.Sprintf("prices:%s:%dd", asset, windowDays)
}

// GetPrice returns the cached average for an asset and window.
// A missing key is reported as ok=false with no error.
func (r *RedisCache) GetPrice(ctx context.Context, asset types.Asset, windowDays int) (float64, bool, error) {
	raw, err := r.client.Get(ctx, priceKey(asset, windowDays)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cached price for %s: %w", asset, err)
	}

	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid cached price for %s: %w", asset, err)
	}
	return price, true, nil
}

// SetPrice stores an average with the cache TTL
func (r *RedisCache) SetPrice(ctx context.Context, asset types.Asset, windowDays int, price float64) error {
	value := strconv.FormatFloat(price, 'g', -1, 64)
	if err := r.client.Set(ctx, priceKey(asset, windowDays), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache price for %s: %w", asset, err)
	}
	return nil
}
