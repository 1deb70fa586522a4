package redisClient

import (
	"fmt"

	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/go-redis/redis"
	"go.uber.org/zap"
)

// Client is the optional live-state store. A nil *Client is valid and every
// method on it is a no-op, so callers never need to check whether Redis is configured.
type Client struct {
	rc *redis.Client
}

// New connects to Redis at addr. An empty addr disables the store and returns nil.
func New(addr, password string, db int) (*Client, error) {
	if addr == "" {
		logger.Base().Info("redis disabled, REDIS_ADDR not set")
		return nil, nil
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rc.Ping().Result(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	logger.Base().Info("redis client successfully connected", zap.String("addr", addr))
	return &Client{rc: rc}, nil
}

func (c *Client) Enabled() bool { return c != nil && c.rc != nil }

func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rc.Close()
}
