package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"marketplace-payments/internal/models"
)

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

// AcquireOrderLock takes a short-TTL advisory lock for one order. A
// fast path in front of the conditional DB write; the write remains
// the authority.
func (c *Client) AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lock:order:"+orderID, "1", ttl).Result()
}

// ReleaseOrderLock releases a per-order lock.
func (c *Client) ReleaseOrderLock(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, "lock:order:"+orderID).Err()
}

func subscriptionKey(userID string) string {
	return "push:subscription:" + userID
}

// SaveSubscription replaces a user's push subscription wholesale. One
// hash per user; Redis is the source of truth for subscriptions so all
// service instances see the same endpoints.
func (c *Client) SaveSubscription(ctx context.Context, sub *models.PushSubscription) error {
	pipe := c.rdb.Pipeline()
	key := subscriptionKey(sub.UserID)
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"endpoint":   sub.Endpoint,
		"p256dh":     sub.P256dh,
		"auth":       sub.Auth,
		"is_active":  "1",
		"created_at": sub.CreatedAt.UTC().Format(time.RFC3339),
	})
	_, err := pipe.Exec(ctx)
	return err
}

// GetSubscription retrieves a user's push subscription. Returns nil
// when absent or deactivated.
func (c *Client) GetSubscription(ctx context.Context, userID string) (*models.PushSubscription, error) {
	result, err := c.rdb.HGetAll(ctx, subscriptionKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	active, _ := strconv.ParseBool(result["is_active"])
	if !active {
		return nil, nil
	}

	sub := &models.PushSubscription{
		UserID:   userID,
		Endpoint: result["endpoint"],
		P256dh:   result["p256dh"],
		Auth:     result["auth"],
		IsActive: true,
	}
	if created, err := time.Parse(time.RFC3339, result["created_at"]); err == nil {
		sub.CreatedAt = created
	}
	return sub, nil
}

// DeactivateSubscription flags a subscription dead after a permanent
// delivery failure. The record stays for diagnosis; delivery skips it.
func (c *Client) DeactivateSubscription(ctx context.Context, userID string) error {
	return c.rdb.HSet(ctx, subscriptionKey(userID), "is_active", "0").Err()
}

// DeleteSubscription removes a subscription on explicit unsubscribe.
func (c *Client) DeleteSubscription(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, subscriptionKey(userID)).Err()
}
