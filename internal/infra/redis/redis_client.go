package redis

import (
	"context"
	"strings"

	"xray-inference/internal/config"

	"github.com/go-redis/redis/v8"
)

// Client wraps the go-redis client shared by the lock and the job queue.
// They live in the same store so one connection covers the coordination domain.
type Client struct {
	cli    *redis.Client
	prefix string
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &Client{cli: c, prefix: cfg.KeyPrefix}, nil
}

func (c *Client) key(name string) string { return c.prefix + name }

func (c *Client) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *Client) Close() error { return c.cli.Close() }
