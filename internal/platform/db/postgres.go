package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the connection pool. Zero values keep pgx defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	ApplicationName string
}

// New creates a new PostgreSQL connection pool.
func New(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	// one connection stays parked on LISTEN for the change feed
	if config.MaxConns < 2 {
		config.MaxConns = 2
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	if opts.ApplicationName != "" {
		config.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("platform/db: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}

	return pool, nil
}
