package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/ghostzx3/telegrupos-payments/internal/metrics"
	"github.com/go-redis/redis/v8"
)

const defaultTTL = 24 * time.Hour

// Client is the subset of go-redis the cache needs.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

type redClient struct {
	cli *redis.Client
}

// NewClient connects and pings once so a bad address fails at startup.
func NewClient(ctx context.Context, addr, password string, db int) (Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &redClient{cli: c}, nil
}

func (c *redClient) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, key).Result()
}

func (c *redClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.cli.Set(ctx, key, value, expiration).Err()
}

func (c *redClient) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *redClient) Close() error { return c.cli.Close() }

// StatusCache holds status views of paid payments only. Paid is terminal,
// so an entry never goes stale and nothing needs invalidation.
type StatusCache struct {
	client Client
	ttl    time.Duration
}

func NewStatusCache(client Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &StatusCache{client: client, ttl: ttl}
}

type cachedView struct {
	View   domain.StatusView `json:"view"`
	UserID string            `json:"user_id"`
}

func key(paymentID string) string {
	return "payment:status:" + paymentID
}

// Get returns (nil, nil) on a miss.
func (c *StatusCache) Get(ctx context.Context, paymentID string) (*domain.StatusView, error) {
	val, err := c.client.Get(ctx, key(paymentID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.IncCacheRequest("miss")
			return nil, nil
		}
		metrics.IncCacheRequest("error")
		return nil, fmt.Errorf("redis get %s: %w", paymentID, err)
	}

	var entry cachedView
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		metrics.IncCacheRequest("error")
		return nil, fmt.Errorf("decode cached status %s: %w", paymentID, err)
	}
	metrics.IncCacheRequest("hit")
	entry.View.UserID = entry.UserID
	return &entry.View, nil
}

// Put ignores anything that is not paid.
func (c *StatusCache) Put(ctx context.Context, view domain.StatusView) error {
	if view.Status != domain.StatusPaid {
		return nil
	}
	payload, err := json.Marshal(cachedView{View: view, UserID: view.UserID})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key(view.PaymentID), payload, c.ttl); err != nil {
		return fmt.Errorf("redis set %s: %w", view.PaymentID, err)
	}
	return nil
}
