package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the client used for slot locks.
type Options struct {
	Addr     string
	Username string
	Password string
	// OpTimeout bounds each read and write. Zero means 2s.
	OpTimeout time.Duration
	// PoolSize caps open connections. Zero means 10.
	PoolSize int
}

func (o Options) redisOptions() *redis.Options {
	op := o.OpTimeout
	if op <= 0 {
		op = 2 * time.Second
	}
	pool := o.PoolSize
	if pool <= 0 {
		pool = 10
	}
	return &redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  op,
		WriteTimeout: op,
		PoolSize:     pool,
		MinIdleConns: 1,
		// a lock attempt is retried by the caller's acquire loop, not the client
		MaxRetries: 1,
	}
}

// NewRedisClient connects and pings once so a bad address fails at startup.
func NewRedisClient(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(opts.redisOptions())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
