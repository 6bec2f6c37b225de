package postgres

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

var _ repository.ActivityRepository = (*DB)(nil)

func (db *DB) RecordActivity(ctx context.Context, rec *model.ActivityRecord) (bool, error) {
	rec.ID = xid.New().String()
	rec.CreatedAt = time.Now()

	tag, err := db.pool.Exec(ctx,
		`INSERT INTO activity_days (id, user_id, kind, day, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, kind, day) DO NOTHING`,
		rec.ID, rec.UserID, string(rec.Kind), dateArg(rec.Date), rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: recording %s activity for %s on %s: %w",
			rec.Kind, rec.UserID, rec.Date, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (db *DB) HasActivity(ctx context.Context, userID string, kind model.ActivityKind, day civil.Date) (bool, error) {
	return hasActivity(ctx, db.pool, userID, kind, day)
}

func (db *DB) ListActivityDays(ctx context.Context, userID string, kind model.ActivityKind, from, to civil.Date) ([]civil.Date, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT day FROM activity_days
		 WHERE user_id = $1 AND kind = $2 AND day BETWEEN $3 AND $4
		 ORDER BY day ASC`,
		userID, string(kind), dateArg(from), dateArg(to),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing %s days for %s: %w", kind, userID, err)
	}

	days, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (civil.Date, error) {
		var t time.Time
		if err := row.Scan(&t); err != nil {
			return civil.Date{}, err
		}
		return civil.DateOf(t), nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: collecting activity days: %w", err)
	}
	return days, nil
}

func hasActivity(ctx context.Context, q querier, userID string, kind model.ActivityKind, day civil.Date) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM activity_days WHERE user_id = $1 AND kind = $2 AND day = $3)`,
		userID, string(kind), dateArg(day),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: probing %s activity for %s on %s: %w", kind, userID, day, err)
	}
	return exists, nil
}
