// Package sqlite implements the repository interfaces using SQLite as the
// storage backend. It is the default store for single-node deployments and
// the store every repository test runs against (":memory:").
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB     : a connection pool (NOT a single connection!)
//   - sql.Tx     : a transaction, pinned to one connection until Commit/Rollback
//   - sql.Row    : a single result row
//   - sql.Rows   : multiple result rows (must be closed!)
//
// TRANSACTIONS AND LOCKING:
// SQLite has one writer at a time per database file. The pool is limited to a
// single open connection, so a streak transaction holds the whole database
// until it commits: two touches for the same user can never interleave their
// read-modify-write. File-backed databases additionally open every
// transaction with BEGIN IMMEDIATE (`_txlock=immediate`) so that a second
// process (streakctl next to the server) waits on busy_timeout instead of
// failing on lock upgrade.
//
// DATES:
// Calendar dates are stored as TEXT in ISO form ("2025-01-03"). ISO dates sort
// and compare correctly as strings, which the point lookups and ListActivityDays
// rely on.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	// Registers the pure-Go "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/sakif/nutrilog/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/nutrilog.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests; lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// One connection: serializes every transaction, and keeps a ":memory:"
	// database alive (each new connection would get its own empty database).
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// dsn appends driver options for file databases. ":memory:" is passed through
// untouched.
func dsn(dbPath string) string {
	if dbPath == ":memory:" || strings.Contains(dbPath, "?") {
		return dbPath
	}
	return dbPath + "?_txlock=immediate"
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable. Used by GET /health.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is safe to run on every start.
func (db *DB) migrate() error {
	// users: the timezone source. A user row is optional: the resolver falls
	// back to the default zone when it is missing.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			timezone   TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// activity_days: one row per (user, kind, day). The unique index is also
	// the index every HasActivity point lookup uses.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS activity_days (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			day        TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_activity_days_user_kind_day
			ON activity_days(user_id, kind, day);
	`)
	if err != nil {
		return fmt.Errorf("creating activity_days table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS streak_states (
			user_id                   TEXT PRIMARY KEY,
			login_current_days        INTEGER NOT NULL DEFAULT 0,
			login_current_start_date  TEXT,
			login_current_end_date    TEXT,
			login_pr_days             INTEGER NOT NULL DEFAULT 0,
			login_pr_end_date         TEXT,
			food_break_floor_date     TEXT NOT NULL DEFAULT '1970-01-01',
			food_pending_missing_days INTEGER NOT NULL DEFAULT 0,
			food_current_start_date   TEXT,
			food_current_end_date     TEXT,
			food_current_days         INTEGER NOT NULL DEFAULT 0,
			food_pr_days              INTEGER NOT NULL DEFAULT 0,
			food_pr_end_date          TEXT,
			last_recomputed_at        DATETIME,
			updated_at                DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating streak_states table: %w", err)
	}

	// Early builds had no timezone column on users.
	if err := db.addColumnIfNotExists("users", "timezone",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding timezone to users: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx, so read helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dateArg converts a nullable date into a driver value (NULL or "YYYY-MM-DD").
func dateArg(d *civil.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// scanDate parses a nullable TEXT date column.
func scanDate(ns sql.NullString) (*civil.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", ns.String, err)
	}
	return &d, nil
}
