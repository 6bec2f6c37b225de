// Package repository declares the storage contracts the streak engine and the
// services depend on. Concrete implementations live in the sqlite and postgres
// subpackages; tests use in-memory fakes.
package repository

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/sakif/nutrilog/internal/model"
)

// ActivitySource answers point lookups of the form "does activity of kind K
// exist for (user, day)". Implementations must not range-scan: the food
// updater relies on each call costing one indexed lookup.
type ActivitySource interface {
	HasActivity(ctx context.Context, userID string, kind model.ActivityKind, day civil.Date) (bool, error)
}

// TimezoneSource returns the IANA timezone a user stored in their profile.
// An empty string with a nil error means "nothing stored".
type TimezoneSource interface {
	UserTimezone(ctx context.Context, userID string) (string, error)
}

// StreakTx is the view of storage available inside one streak transaction.
//
// ROW LOCKING:
// ReadStreakState locks the user's row until the transaction ends, so two
// concurrent calls for the same user run their read-modify-write one after the
// other. Presence lookups go through the same transaction.
type StreakTx interface {
	ActivitySource

	// EnsureStreakRow creates the zero row for userID if it does not exist.
	// It is idempotent and never fails because another caller won the race.
	EnsureStreakRow(ctx context.Context, userID string) error

	// ReadStreakState returns the locked row. Returns apperror.ErrNotFound if
	// EnsureStreakRow was not called first.
	ReadStreakState(ctx context.Context, userID string) (*model.StreakState, error)

	// WriteStreakState merges the non-nil halves of upd into the row and
	// stamps last_recomputed_at and updated_at with at.
	WriteStreakState(ctx context.Context, userID string, upd model.StreakUpdate, at time.Time) error
}

// StreakStore owns the streak_states table.
type StreakStore interface {
	// WithStreakTx runs fn inside a single transaction. If fn returns an error
	// (or the commit fails) nothing fn wrote is kept.
	WithStreakTx(ctx context.Context, fn func(tx StreakTx) error) error

	// GetStreakState is the read-only accessor for UI and reporting callers.
	GetStreakState(ctx context.Context, userID string) (*model.StreakState, error)

	// ListUserIDs returns every user id that has a streak row or any activity,
	// ordered by id. Used by maintenance recompute.
	ListUserIDs(ctx context.Context) ([]string, error)
}

// ActivityRepository stores ActivityRecords.
type ActivityRepository interface {
	ActivitySource

	// RecordActivity inserts rec once per (user, kind, date). It fills rec.ID
	// and rec.CreatedAt and reports whether a new row was written; recording
	// a day that already exists is not an error.
	RecordActivity(ctx context.Context, rec *model.ActivityRecord) (bool, error)

	// ListActivityDays returns the dates of kind recorded for userID in
	// [from, to], oldest first.
	ListActivityDays(ctx context.Context, userID string, kind model.ActivityKind, from, to civil.Date) ([]civil.Date, error)
}

// UserRepository stores the per-user timezone.
type UserRepository interface {
	TimezoneSource

	// UpsertTimezone creates the user if needed and sets their timezone.
	UpsertTimezone(ctx context.Context, userID, timezone string) (*model.User, error)

	// GetUserByID returns apperror.ErrNotFound if no such user exists.
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Store is everything one database backend provides.
type Store interface {
	StreakStore
	ActivityRepository
	UserRepository

	Ping(ctx context.Context) error
	Close() error
}
