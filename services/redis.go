package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"github.com/abdelmounim-dev/session-cache/log"
)

const (
	pingTimeout        = 5 * time.Second
	pingInitialBackoff = 100 * time.Millisecond
	pingMaxBackoff     = 2 * time.Second
)

// RedisOptions describes one Redis endpoint and how to talk to it.
type RedisOptions struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PingRetries bounds extra ping attempts before the client is given up on.
	PingRetries int
}

// NewRedisClient creates a client and verifies it with PING, retrying with
// exponential backoff. The client is closed when every attempt fails.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		DB:           opts.DB,
		Password:     opts.Password,
		PoolSize:     opts.PoolSize,
		PoolTimeout:  opts.PoolTimeout,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	operation := func() error {
		return client.Ping(ctx).Err()
	}

	retries := opts.PingRetries
	if retries < 0 {
		retries = 0
	}
	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(pingInitialBackoff),
				backoff.WithMaxInterval(pingMaxBackoff),
			),
			uint64(retries),
		),
		ctx,
	)

	err := backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		log.Warnf("Retrying Redis ping for %s: %v (next attempt in %s)", opts.Address, err, d)
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}

func CloseRedisClient(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
