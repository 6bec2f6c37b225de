// Package postgres implements the repository interfaces on PostgreSQL through
// a pgx connection pool. It is selected with DB_DRIVER=postgres for
// multi-instance deployments, where several API servers touch the same user
// concurrently and row locks (SELECT ... FOR UPDATE) serialize them.
package postgres

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakif/nutrilog/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// DB wraps a pgxpool.Pool and provides repository methods.
type DB struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL, verifies the connection, and runs migrations.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	db := &DB{pool: pool}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return db, nil
}

// Close closes every pooled connection.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (db *DB) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			timezone   TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS activity_days (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			day        DATE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, kind, day)
		)`,
		`CREATE TABLE IF NOT EXISTS streak_states (
			user_id                   TEXT PRIMARY KEY,
			login_current_days        INTEGER NOT NULL DEFAULT 0,
			login_current_start_date  DATE,
			login_current_end_date    DATE,
			login_pr_days             INTEGER NOT NULL DEFAULT 0,
			login_pr_end_date         DATE,
			food_break_floor_date     DATE NOT NULL DEFAULT DATE '1970-01-01',
			food_pending_missing_days INTEGER NOT NULL DEFAULT 0
				CHECK (food_pending_missing_days BETWEEN 0 AND 3),
			food_current_start_date   DATE,
			food_current_end_date     DATE,
			food_current_days         INTEGER NOT NULL DEFAULT 0,
			food_pr_days              INTEGER NOT NULL DEFAULT 0,
			food_pr_end_date          DATE,
			last_recomputed_at        TIMESTAMPTZ,
			updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// dateArg converts a date to the midnight-UTC time.Time pgx encodes as DATE.
func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}

// nullDateArg is dateArg for nullable columns.
func nullDateArg(d *civil.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := dateArg(*d)
	return &t
}

// scanDate converts a scanned nullable DATE back into a civil date.
func scanDate(t *time.Time) *civil.Date {
	if t == nil {
		return nil
	}
	d := civil.DateOf(*t)
	return &d
}
