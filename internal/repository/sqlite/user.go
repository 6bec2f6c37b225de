package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/nutrilog/internal/apperror"
	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// UpsertTimezone inserts the user if needed and sets their timezone.
//
// ON CONFLICT DO UPDATE keeps the row's created_at and only touches timezone
// and updated_at, so the user id and creation time survive every change of
// zone. The row is read back to return the canonical record.
func (db *DB) UpsertTimezone(ctx context.Context, userID, timezone string) (*model.User, error) {
	now := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, timezone, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET timezone = excluded.timezone, updated_at = excluded.updated_at`,
		userID, timezone, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: upserting timezone for user %s: %w", userID, err)
	}

	return db.GetUserByID(ctx, userID)
}

// GetUserByID retrieves a user by their ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, timezone, created_at, updated_at FROM users WHERE id = ?`,
		id,
	).Scan(
		&u.ID,
		&u.Timezone,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}

	return &u, nil
}

// UserTimezone returns "" with no error for users that have no row, so the
// resolver applies its default zone without logging a failure.
func (db *DB) UserTimezone(ctx context.Context, userID string) (string, error) {
	var tz string
	err := db.conn.QueryRowContext(ctx,
		`SELECT timezone FROM users WHERE id = ?`, userID,
	).Scan(&tz)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("sqlite: reading timezone for user %s: %w", userID, err)
	}
	return tz, nil
}
