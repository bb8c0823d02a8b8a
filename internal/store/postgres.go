// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package store provides PostgreSQL connectivity and schema management for
// the engine's durable state.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// connectTimeout bounds the whole connect-and-ping sequence, retries
// included. Game servers restart fast; waiting longer than this just hides a
// dead database.
const connectTimeout = 30 * time.Second

// Connect opens a connection pool and verifies it with a ping, retrying with
// backoff while the database comes up. Engines often race their database at
// host boot.
func Connect(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").
			With("operation", "parse database url").
			Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	backoff := retry.WithMaxDuration(connectTimeout, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			logger.Debug("database not reachable yet, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "ping").
			Wrap(err)
	}

	logger.Info("database connected")
	return pool, nil
}
