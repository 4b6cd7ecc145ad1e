// Package kv wraps a Redis client for the KVStream storage destination (C5),
// the rule-pack idempotency cache and distributed lock (C10), and the
// health probes. The search-result cache (C7) is in-memory and does not use
// it. Adapted from the teacher's pkg/redis.Client, generalized beyond plain
// string get/set to the list-stream and set-if-absent operations those
// callers need.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	rdb *redis.Client
}

func New(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 20
	opts.MinIdleConns = 2

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewFromExisting wraps an already-constructed *redis.Client, used by tests
// that back the cache with miniredis.
func NewFromExisting(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Close() error { return c.rdb.Close() }

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetWithExpiry stores a JSON blob under key with an optional TTL (ttl<=0
// means no expiry), used by the KVStream destination (spec §4.4).
func (c *Client) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return v, err
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// AppendStream pushes value onto a Redis list acting as a ring-trimmed
// per-source stream, then trims it to maxLen (spec §4.4: "additionally
// append to a ring-trimmed per-source stream").
func (c *Client) AppendStream(ctx context.Context, streamKey string, value []byte, maxLen int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, streamKey, value)
	pipe.LTrim(ctx, streamKey, 0, maxLen-1)
	_, err := pipe.Exec(ctx)
	return err
}

// SetNX is the building block for the rule-pack distributed lock and
// idempotency cache (C10): it sets key only if absent, with a TTL.
func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = fmt.Errorf("kv: key not found")
