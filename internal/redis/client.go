// Package redis confines go-redis to one place. Adapters depend on the
// aliases and narrow interfaces exported here.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cmdable is a type alias for redis.Cmdable. Adapters accept this interface
// instead of importing go-redis directly.
type Cmdable = redis.Cmdable

// Pub/sub types used by the change feed.
type (
	PubSub  = redis.PubSub
	Message = redis.Message
	IntCmd  = redis.IntCmd
)

// PubSubCmdable is the subset of a client needed to publish and subscribe.
// *redis.Client satisfies it; Cmdable does not include Subscribe.
type PubSubCmdable interface {
	Publish(ctx context.Context, channel string, message any) *IntCmd
	Subscribe(ctx context.Context, channels ...string) *PubSub
}

// Config holds the parameters needed to connect to a Redis instance.
type Config struct {
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client wraps a go-redis client. The RDB field satisfies both Cmdable and
// PubSubCmdable and is the handle adapters use for Redis operations.
type Client struct {
	RDB *redis.Client
}

// NewClient creates a new Redis client configured from cfg.
func NewClient(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &Client{RDB: rdb}
}

// Ping checks connectivity. Used at startup so a misconfigured address fails fast.
func (c *Client) Ping(ctx context.Context) error {
	return c.RDB.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.RDB.Close()
}

var _ PubSubCmdable = (*redis.Client)(nil)
