// Package cache wraps the optional Redis connection used for the access
// token denylist and request rate limiting. A nil *Client is valid: every
// check then allows the request.
package cache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"agriplan/internal/config"
	"agriplan/internal/logger"
)

const (
	denylistPrefix  = "token:denylist:"
	rateLimitPrefix = "rate_limit:"
)

// Client is a thin wrapper over a go-redis client.
type Client struct {
	rdb *goredis.Client
}

// New connects to Redis and pings it. It returns nil, nil when Redis is
// disabled in cfg.
func New(cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Get().Infow("redis connected", "addr", cfg.Addr)
	return &Client{rdb: rdb}, nil
}

// RevokeToken puts jti on the denylist until ttl elapses. Tokens that have
// already expired are ignored.
func (c *Client) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if c == nil || ttl <= 0 || jti == "" {
		return nil
	}
	return c.rdb.Set(ctx, denylistPrefix+jti, "1", ttl).Err()
}

// IsRevoked reports whether jti is on the denylist.
func (c *Client) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if c == nil || jti == "" {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, denylistPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Allow counts one hit against key in a fixed window and reports whether
// the count is still within limit.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if c == nil || limit <= 0 {
		return true, nil
	}

	k := rateLimitPrefix + key
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= int64(limit), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
