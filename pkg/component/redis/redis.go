// Package redis builds go-redis clients from redis options.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	redisopts "github.com/kart-io/medrag/pkg/options/redis"
)

// NewClient creates a client without contacting the server.
func NewClient(opts *redisopts.Options) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           opts.Database,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
}

// Connect creates a client and pings it. The client is closed when the ping fails.
func Connect(ctx context.Context, opts *redisopts.Options) (*goredis.Client, error) {
	client := NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", opts.Addr(), err)
	}
	return client, nil
}
