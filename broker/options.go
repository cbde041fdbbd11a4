package broker

import "time"

// Option configures the Redis client.
type Option func(*config)

// config holds connection settings for the Redis client.
type config struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	poolSize       int
}

func defaultConfig() *config {
	return &config{
		connectTimeout: 5 * time.Second,
		readTimeout:    30 * time.Second,
		writeTimeout:   5 * time.Second,
	}
}

// WithConnectTimeout sets the maximum time to wait for connection establishment.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		c.connectTimeout = d
	}
}

// WithReadTimeout sets the maximum time to wait for read operations.
// Blocking pops carry their own per-command timeout and are not
// affected by this setting.
func WithReadTimeout(d time.Duration) Option {
	return func(c *config) {
		c.readTimeout = d
	}
}

// WithWriteTimeout sets the maximum time to wait for write operations.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		c.writeTimeout = d
	}
}

// WithPoolSize sets the connection pool size.
// When zero, the go-redis default is used.
func WithPoolSize(n int) Option {
	return func(c *config) {
		c.poolSize = n
	}
}
