package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"commerce-sync/internal/models"
)

const galleryCacheKey = "catalog:gallery"

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireLock acquires a distributed lock. Used as the single-flight guard
// around reconciliation passes so overlapping passes never run concurrently
// across replicas.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// CacheGallery stores the merged product gallery with a TTL.
func (c *Client) CacheGallery(ctx context.Context, products []models.Product, ttl time.Duration) error {
	doc, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("failed to encode gallery: %w", err)
	}
	return c.rdb.Set(ctx, galleryCacheKey, doc, ttl).Err()
}

// GetGallery returns the cached gallery, or (nil, nil) on a cache miss.
func (c *Client) GetGallery(ctx context.Context) ([]models.Product, error) {
	doc, err := c.rdb.Get(ctx, galleryCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var products []models.Product
	if err := json.Unmarshal(doc, &products); err != nil {
		return nil, fmt.Errorf("failed to decode cached gallery: %w", err)
	}
	return products, nil
}

// InvalidateGallery drops the cached gallery after a catalog change.
func (c *Client) InvalidateGallery(ctx context.Context) error {
	return c.rdb.Del(ctx, galleryCacheKey).Err()
}
