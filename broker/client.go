// Package broker provides the Redis transport used by LAPS workers.
//
// Every interaction with the rest of the system (job intake, result
// reporting, registration, log records, map data) goes through a
// Client. The interface exists so the worker runtime can be exercised
// against in-memory fakes; Redis is the only production implementation.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a requested value does not exist, for
// example a missing hash field or a blocking pop that timed out.
var ErrNotFound = errors.New("broker: value not found")

// Client defines the interface for talking to the LAPS broker.
type Client interface {
	// LPush prepends values to a list (LPUSH).
	LPush(ctx context.Context, key string, values ...any) error

	// RPush appends values to a list (RPUSH).
	RPush(ctx context.Context, key string, values ...any) error

	// BRPop removes and returns the last element of a list (BRPOP).
	// Blocks until an element is available, the timeout expires, or the
	// context is canceled. A timeout of zero blocks indefinitely; an
	// expired timeout returns ErrNotFound.
	BRPop(ctx context.Context, timeout time.Duration, key string) (string, error)

	// SIsMember reports whether member is part of the set at key (SISMEMBER).
	SIsMember(ctx context.Context, key string, member any) (bool, error)

	// SMembers returns all members of the set at key (SMEMBERS).
	SMembers(ctx context.Context, key string) ([]string, error)

	// HGet returns the value of a hash field (HGET).
	// Returns ErrNotFound when the key or field does not exist.
	HGet(ctx context.Context, key, field string) (string, error)

	// LRange returns a slice of the list at key (LRANGE).
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LLen returns the length of the list at key (LLEN).
	LLen(ctx context.Context, key string) (int64, error)

	// Ping checks the connection to the broker.
	Ping(ctx context.Context) error

	// Close closes the connection to the broker.
	Close() error
}

// Redis implements the Client interface using go-redis/v9.
type Redis struct {
	client *redis.Client
}

// New creates a Redis broker client and verifies the connection.
func New(redisURL string, opts ...Option) (*Redis, error) {
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.DialTimeout = cfg.connectTimeout
	redisOpts.ReadTimeout = cfg.readTimeout
	redisOpts.WriteTimeout = cfg.writeTimeout
	if cfg.poolSize > 0 {
		redisOpts.PoolSize = cfg.poolSize
	}

	client := redis.NewClient(redisOpts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// LPush prepends values to a list.
func (c *Redis) LPush(ctx context.Context, key string, values ...any) error {
	if err := c.client.LPush(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to push to list %s: %w", key, err)
	}
	return nil
}

// RPush appends values to a list.
func (c *Redis) RPush(ctx context.Context, key string, values ...any) error {
	if err := c.client.RPush(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to append to list %s: %w", key, err)
	}
	return nil
}

// BRPop removes and returns the last element of a list.
// Blocks until an element is available or the context is canceled.
func (c *Redis) BRPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	// BRPOP returns [key, value] or redis.Nil on timeout
	result, err := c.client.BRPop(ctx, timeout, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to pop from list %s: %w", key, err)
	}

	if len(result) != 2 {
		return "", fmt.Errorf("unexpected BRPOP result length: %d", len(result))
	}

	return result[1], nil
}

// SIsMember reports whether member is part of the set at key.
func (c *Redis) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	ok, err := c.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check set membership on %s: %w", key, err)
	}
	return ok, nil
}

// SMembers returns all members of the set at key.
func (c *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read set %s: %w", key, err)
	}
	return members, nil
}

// HGet returns the value of a hash field.
func (c *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	value, err := c.client.HGet(ctx, key, field).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read hash %s field %s: %w", key, field, err)
	}
	return value, nil
}

// LRange returns a slice of the list at key.
func (c *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := c.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", key, err)
	}
	return values, nil
}

// LLen returns the length of the list at key.
func (c *Redis) LLen(ctx context.Context, key string) (int64, error) {
	n, err := c.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get length of list %s: %w", key, err)
	}
	return n, nil
}

// Ping checks the connection to the broker.
func (c *Redis) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Redis) Close() error {
	return c.client.Close()
}
