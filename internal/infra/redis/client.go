package redis

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/campaign-dialer/internal/config"
)

// Client holds the redis connection shared by the session store and the
// campaign leases. A single address gives a plain client; several
// addresses give a cluster client, or a failover client when a sentinel
// master name is set.
type Client struct {
	inner redis.UniversalClient
}

// NewClient connects and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	addrs := cfg.Addresses
	if len(addrs) == 0 && cfg.Address != "" {
		addrs = []string{cfg.Address}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis: no address configured")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   cfg.MasterName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %v: %w", addrs, err)
	}
	return &Client{inner: client}, nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// Inner exposes the raw redis client.
func (c *Client) Inner() redis.UniversalClient {
	return c.inner
}
