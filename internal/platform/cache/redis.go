package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Options describes the Redis deployment shared by tokens, fan-out and jobs.
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Asynq returns the equivalent connection options for the job queue.
func (o Options) Asynq() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: o.Addr, Password: o.Password, DB: o.DB, PoolSize: o.PoolSize}
}

// New creates a new Redis client.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}
