package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations shared between apiwatch instances.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "apiwatch"
	}
	return &Client{rdb: rdb, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func (c *Client) windowKey(connectionID string) string {
	return fmt.Sprintf("%s:ratelimit:%s", c.prefix, connectionID)
}

func (c *Client) lockKey(connectionID string) string {
	return fmt.Sprintf("%s:testing:%s", c.prefix, connectionID)
}

// incrWindow adds cost to the counter. The first increment of a window sets
// its expiry, so an expired key starts a fresh window.
var incrWindow = redis.NewScript(`
local used = redis.call("INCRBY", KEYS[1], ARGV[1])
if used == tonumber(ARGV[1]) then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {used, redis.call("PTTL", KEYS[1])}
`)

// IncrWindow records cost requests in the current window and returns the
// window total and the time until it resets.
func (c *Client) IncrWindow(
	ctx context.Context,
	connectionID string,
	cost int,
	window time.Duration,
) (int, time.Duration, error) {
	res, err := incrWindow.Run(ctx, c.rdb, []string{c.windowKey(connectionID)}, cost, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("incr window failed: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("incr window: unexpected reply %v", res)
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	return int(res[0]), ttl, nil
}

// DeleteWindow removes the counter of a connection.
func (c *Client) DeleteWindow(ctx context.Context, connectionID string) error {
	return c.rdb.Del(ctx, c.windowKey(connectionID)).Err()
}

// AcquireTestLock marks a manual test as running across instances.
func (c *Client) AcquireTestLock(ctx context.Context, connectionID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.lockKey(connectionID), "testing", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseTestLock releases a manual test lock.
func (c *Client) ReleaseTestLock(ctx context.Context, connectionID string) error {
	return c.rdb.Del(ctx, c.lockKey(connectionID)).Err()
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
