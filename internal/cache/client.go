package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"store-service/internal/models"

	"github.com/go-redis/redis/v8"
)

// Client wraps Redis for the read caches, idempotency keys and per-sale
// cancellation locks. Everything here is advisory: a Redis outage degrades to
// slower reads and duplicate-submit exposure, never to wrong ledger state.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
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

	return &Client{rdb: rdb, ttl: ttl}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetProduct retrieves a cached product, nil on miss
func (c *Client) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	data, err := c.rdb.Get(ctx, productKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var product models.Product
	if err := json.Unmarshal(data, &product); err != nil {
		return nil, fmt.Errorf("failed to decode cached product: %w", err)
	}
	return &product, nil
}

// SetProduct caches a product with the configured TTL
func (c *Client) SetProduct(ctx context.Context, product *models.Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, productKey(product.ID), data, c.ttl).Err()
}

// InvalidateProducts drops cached entries for the given product ids
func (c *Client) InvalidateProducts(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// InvalidateMembership drops the cached membership for a code
func (c *Client) InvalidateMembership(ctx context.Context, code string) error {
	return c.rdb.Del(ctx, membershipKey(code)).Err()
}

// GetMembership retrieves a cached membership, nil on miss
func (c *Client) GetMembership(ctx context.Context, code string) (*models.Membership, error) {
	data, err := c.rdb.Get(ctx, membershipKey(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var membership models.Membership
	if err := json.Unmarshal(data, &membership); err != nil {
		return nil, fmt.Errorf("failed to decode cached membership: %w", err)
	}
	return &membership, nil
}

// SetMembership caches a membership with the configured TTL
func (c *Client) SetMembership(ctx context.Context, membership *models.Membership) error {
	data, err := json.Marshal(membership)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, membershipKey(membership.Code), data, c.ttl).Err()
}

// SetIdempotencyKey records a completed request under an idempotency key,
// storing the resulting sale id. Returns false when the key already existed.
func (c *Client) SetIdempotencyKey(ctx context.Context, key, saleID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), saleID, ttl).Result()
}

// GetIdempotentSaleID returns the sale id previously recorded for an
// idempotency key, empty when none exists.
func (c *Client) GetIdempotentSaleID(ctx context.Context, key string) (string, error) {
	saleID, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return saleID, err
}

// AcquireCancelLock takes a short lock for a sale cancellation so two
// concurrent requests cannot both run the reversal.
func (c *Client) AcquireCancelLock(ctx context.Context, saleID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:cancel:%s", saleID), "1", ttl).Result()
}

// ReleaseCancelLock releases a cancellation lock
func (c *Client) ReleaseCancelLock(ctx context.Context, saleID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:cancel:%s", saleID)).Err()
}

func productKey(id string) string {
	return fmt.Sprintf("product:%s", id)
}

func membershipKey(code string) string {
	return fmt.Sprintf("membership:%s", code)
}
