// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

// Package store provides database connectivity and schema management.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection retry settings. Postgres is routinely a second or two behind
// the service when both start under the same orchestrator.
const (
	connectRetryBase = 500 * time.Millisecond
	connectAttempts  = 5
)

// Connect opens a pgx pool for the given DSN and verifies it with a ping,
// retrying transient failures with exponential backoff.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, oops.Code("DB_INVALID_DSN").Errorf("database URL cannot be empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(connectAttempts, retry.NewExponential(connectRetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping").
			With("attempts", connectAttempts+1).
			Wrap(err)
	}

	return pool, nil
}
