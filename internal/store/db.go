// Package store is the Event Store: the relational persistence layer owning
// Contract and WasmEvent rows (spec §4.1), plus the Transformer,
// Computation Cache and Webhook Dispatcher tables that live alongside them
// in the same Postgres instance (spec §3).
//
// Grounded in the pack's own chain-indexer repositories
// (other_examples/.../Outblock-flowindex__backend-internal-repository-postgres_ingest.go,
// ...postgres_derived.go), which batch upserts over pgx the same way.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB wraps a pgx connection pool with the retry discipline spec §4.1 and §7
// require for contract upserts (up to 3 retries on transient conflict).
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// Open connects to Postgres and verifies connectivity with a ping.
func Open(ctx context.Context, connString string, maxConns int32, log *zap.SugaredLogger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{Pool: pool, log: log}, nil
}

// Close releases the pool.
func (d *DB) Close() { d.Pool.Close() }

// retryTransient retries op up to 3 times with jittered exponential backoff,
// matching spec §4.1/§7's "retry up to 3 times on transient conflict or
// deadlock" for contract upserts. Other operations rely on the caller's own
// retry per spec §7's propagation policy.
func retryTransient(ctx context.Context, op func() error) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// isTransient is a conservative classifier for deadlock/serialization
// failures; anything else is treated as fatal so retryTransient does not
// mask genuine schema or data errors.
func isTransient(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"deadlock detected", "could not serialize access", "connection reset", "conn closed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
