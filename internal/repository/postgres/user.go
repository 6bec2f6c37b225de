package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sakif/nutrilog/internal/apperror"
	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

func (db *DB) UpsertTimezone(ctx context.Context, userID, timezone string) (*model.User, error) {
	u := &model.User{}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO users (id, timezone)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET timezone = EXCLUDED.timezone, updated_at = now()
		 RETURNING id, timezone, created_at, updated_at`,
		userID, timezone,
	).Scan(&u.ID, &u.Timezone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: upserting timezone for user %s: %w", userID, err)
	}
	return u, nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := db.pool.QueryRow(ctx,
		`SELECT id, timezone, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Timezone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", id, err)
	}
	return u, nil
}

func (db *DB) UserTimezone(ctx context.Context, userID string) (string, error) {
	var tz string
	err := db.pool.QueryRow(ctx, `SELECT timezone FROM users WHERE id = $1`, userID).Scan(&tz)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("postgres: reading timezone for user %s: %w", userID, err)
	}
	return tz, nil
}
