package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/sakif/nutrilog/internal/apperror"
	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

// compile-time checks
var (
	_ repository.StreakStore = (*DB)(nil)
	_ repository.StreakTx    = (*streakTx)(nil)
)

const streakColumns = `user_id,
	login_current_days, login_current_start_date, login_current_end_date,
	login_pr_days, login_pr_end_date,
	food_break_floor_date, food_pending_missing_days,
	food_current_start_date, food_current_end_date, food_current_days,
	food_pr_days, food_pr_end_date,
	last_recomputed_at, updated_at`

// streakTx implements repository.StreakTx on top of one *sql.Tx.
type streakTx struct {
	tx *sql.Tx
}

// WithStreakTx runs fn inside a transaction.
//
// Rollback on any error means a failed write leaves the row exactly as it was
// before the call, so the caller can retry the whole operation.
func (db *DB) WithStreakTx(ctx context.Context, fn func(tx repository.StreakTx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning streak transaction: %w", err)
	}

	if err := fn(&streakTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("sqlite: rolling back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing streak transaction: %w", err)
	}
	return nil
}

// GetStreakState reads a row outside any transaction.
func (db *DB) GetStreakState(ctx context.Context, userID string) (*model.StreakState, error) {
	return readStreakState(ctx, db.conn, userID)
}

// ListUserIDs returns the union of users with a streak row and users with
// activity, so a maintenance recompute also reaches users whose row was never
// created.
func (db *DB) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT user_id FROM streak_states
		UNION
		SELECT DISTINCT user_id FROM activity_days
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user ids: %w", err)
	}
	return ids, nil
}

// EnsureStreakRow uses INSERT OR IGNORE: the first caller creates the row, any
// concurrent or later caller is a no-op.
func (t *streakTx) EnsureStreakRow(ctx context.Context, userID string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO streak_states (user_id, food_break_floor_date, updated_at)
		 VALUES (?, ?, ?)`,
		userID, model.EpochDate.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: ensuring streak row for %s: %w", userID, err)
	}
	return nil
}

// ReadStreakState reads the row through the transaction. The single pooled
// connection already gives this transaction exclusive access.
func (t *streakTx) ReadStreakState(ctx context.Context, userID string) (*model.StreakState, error) {
	return readStreakState(ctx, t.tx, userID)
}

// WriteStreakState merges the non-nil halves of upd.
func (t *streakTx) WriteStreakState(ctx context.Context, userID string, upd model.StreakUpdate, at time.Time) error {
	at = at.UTC()

	if l := upd.Login; l != nil {
		if err := t.exec(ctx, userID, `
			UPDATE streak_states SET
				login_current_days = ?, login_current_start_date = ?, login_current_end_date = ?,
				login_pr_days = ?, login_pr_end_date = ?
			WHERE user_id = ?`,
			l.CurrentDays, dateArg(l.CurrentStart), dateArg(l.CurrentEnd),
			l.PRDays, dateArg(l.PREnd),
			userID,
		); err != nil {
			return fmt.Errorf("sqlite: writing login streak for %s: %w", userID, err)
		}
	}

	if f := upd.Food; f != nil {
		if err := t.exec(ctx, userID, `
			UPDATE streak_states SET
				food_break_floor_date = ?, food_pending_missing_days = ?,
				food_current_start_date = ?, food_current_end_date = ?, food_current_days = ?,
				food_pr_days = ?, food_pr_end_date = ?
			WHERE user_id = ?`,
			f.BreakFloor.String(), f.PendingMissingDays,
			dateArg(f.CurrentStart), dateArg(f.CurrentEnd), f.CurrentDays,
			f.PRDays, dateArg(f.PREnd),
			userID,
		); err != nil {
			return fmt.Errorf("sqlite: writing food streak for %s: %w", userID, err)
		}
	}

	if err := t.exec(ctx, userID,
		`UPDATE streak_states SET last_recomputed_at = ?, updated_at = ? WHERE user_id = ?`,
		at, at, userID,
	); err != nil {
		return fmt.Errorf("sqlite: stamping streak row for %s: %w", userID, err)
	}
	return nil
}

// exec runs an UPDATE and maps "no row matched" to NotFound.
func (t *streakTx) exec(ctx context.Context, userID, query string, args ...any) error {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("streak state", userID)
	}
	return nil
}

// HasActivity is a single indexed point lookup.
func (t *streakTx) HasActivity(ctx context.Context, userID string, kind model.ActivityKind, day civil.Date) (bool, error) {
	return hasActivity(ctx, t.tx, userID, kind, day)
}

func readStreakState(ctx context.Context, q querier, userID string) (*model.StreakState, error) {
	var (
		st                               model.StreakState
		loginStart, loginEnd, loginPREnd sql.NullString
		floor                            string
		foodStart, foodEnd, foodPREnd    sql.NullString
		lastRecomputed                   sql.NullTime
	)

	err := q.QueryRowContext(ctx,
		`SELECT `+streakColumns+` FROM streak_states WHERE user_id = ?`,
		userID,
	).Scan(
		&st.UserID,
		&st.Login.CurrentDays, &loginStart, &loginEnd,
		&st.Login.PRDays, &loginPREnd,
		&floor, &st.Food.PendingMissingDays,
		&foodStart, &foodEnd, &st.Food.CurrentDays,
		&st.Food.PRDays, &foodPREnd,
		&lastRecomputed, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("streak state", userID)
		}
		return nil, fmt.Errorf("sqlite: reading streak state %s: %w", userID, err)
	}

	st.Food.BreakFloor, err = civil.ParseDate(floor)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parsing floor for %s: %w", userID, err)
	}

	dates := []struct {
		src sql.NullString
		dst **civil.Date
	}{
		{loginStart, &st.Login.CurrentStart},
		{loginEnd, &st.Login.CurrentEnd},
		{loginPREnd, &st.Login.PREnd},
		{foodStart, &st.Food.CurrentStart},
		{foodEnd, &st.Food.CurrentEnd},
		{foodPREnd, &st.Food.PREnd},
	}
	for _, d := range dates {
		if *d.dst, err = scanDate(d.src); err != nil {
			return nil, fmt.Errorf("sqlite: streak state %s: %w", userID, err)
		}
	}

	if lastRecomputed.Valid {
		t := lastRecomputed.Time
		st.LastRecomputedAt = &t
	}

	return &st, nil
}
