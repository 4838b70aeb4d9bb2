package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client caches (gateway, transaction id) -> order id mappings so that
// redelivered webhooks and the poll loop resolve without a prefix search
// against the orders table.
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

func txKey(gateway, txID string) string {
	return fmt.Sprintf("txref:%s:%s", gateway, txID)
}

// SetTransactionRef caches which order a gateway transaction belongs to.
func (c *Client) SetTransactionRef(ctx context.Context, gateway, txID, orderID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, txKey(gateway, txID), orderID, ttl).Err()
}

// GetTransactionRef returns the cached order id for a gateway transaction,
// or "" on a cache miss.
func (c *Client) GetTransactionRef(ctx context.Context, gateway, txID string) (string, error) {
	orderID, err := c.rdb.Get(ctx, txKey(gateway, txID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return orderID, nil
}
