package sqlite

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/xid"

	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

var _ repository.ActivityRepository = (*DB)(nil)

// RecordActivity inserts one activity day.
//
// ID GENERATION WITH xid:
// xid ids are 20 chars, URL-safe, and sort by creation time, e.g.
// "cv37rs3pp9olc6atsptg".
//
// INSERT OR IGNORE:
// The unique index on (user_id, kind, day) turns a second insert for the same
// day into a no-op. RowsAffected tells us which case happened, and a repeated
// food log on the same day is reported as created == false rather than an
// error.
func (db *DB) RecordActivity(ctx context.Context, rec *model.ActivityRecord) (bool, error) {
	rec.ID = xid.New().String()
	rec.CreatedAt = time.Now()

	result, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO activity_days (id, user_id, kind, day, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID,
		rec.UserID,
		string(rec.Kind),
		rec.Date.String(),
		rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: recording %s activity for %s on %s: %w",
			rec.Kind, rec.UserID, rec.Date, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n > 0, nil
}

// HasActivity reports whether a record exists for exactly this day.
func (db *DB) HasActivity(ctx context.Context, userID string, kind model.ActivityKind, day civil.Date) (bool, error) {
	return hasActivity(ctx, db.conn, userID, kind, day)
}

// ListActivityDays returns the recorded days in [from, to], oldest first.
func (db *DB) ListActivityDays(ctx context.Context, userID string, kind model.ActivityKind, from, to civil.Date) ([]civil.Date, error) {
	if to.Before(from) {
		return []civil.Date{}, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT day FROM activity_days
		 WHERE user_id = ? AND kind = ? AND day >= ? AND day <= ?
		 ORDER BY day ASC`,
		userID, string(kind), from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing %s days for %s: %w", kind, userID, err)
	}
	defer rows.Close()

	days := make([]civil.Date, 0, to.DaysSince(from)+1)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scanning activity day: %w", err)
		}
		d, err := civil.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parsing activity day %q: %w", raw, err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating activity days: %w", err)
	}
	return days, nil
}

func hasActivity(ctx context.Context, q querier, userID string, kind model.ActivityKind, day civil.Date) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM activity_days WHERE user_id = ? AND kind = ? AND day = ?
		)`,
		userID, string(kind), day.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: probing %s activity for %s on %s: %w", kind, userID, day, err)
	}
	return exists == 1, nil
}
