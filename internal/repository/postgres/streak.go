package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"

	"github.com/sakif/nutrilog/internal/apperror"
	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

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

type streakTx struct {
	tx pgx.Tx
}

// WithStreakTx runs fn in a READ COMMITTED transaction. Isolation between
// concurrent calls for the same user comes from the row lock taken by
// ReadStreakState, not from the isolation level.
func (db *DB) WithStreakTx(ctx context.Context, fn func(tx repository.StreakTx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: beginning streak transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&streakTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: committing streak transaction: %w", err)
	}
	return nil
}

// GetStreakState reads a row without locking it.
func (db *DB) GetStreakState(ctx context.Context, userID string) (*model.StreakState, error) {
	return readStreakState(ctx, db.pool, userID, false)
}

func (db *DB) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT user_id FROM streak_states
		UNION
		SELECT DISTINCT user_id FROM activity_days
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing user ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: collecting user ids: %w", err)
	}
	return ids, nil
}

// EnsureStreakRow relies on ON CONFLICT DO NOTHING: two first touches racing
// on the primary key both succeed and exactly one row exists afterwards.
func (t *streakTx) EnsureStreakRow(ctx context.Context, userID string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO streak_states (user_id, food_break_floor_date)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, dateArg(model.EpochDate),
	)
	if err != nil {
		return fmt.Errorf("postgres: ensuring streak row for %s: %w", userID, err)
	}
	return nil
}

// ReadStreakState takes FOR UPDATE on the row: a concurrent call for the same
// user blocks here until this transaction commits, then reads the new floor.
func (t *streakTx) ReadStreakState(ctx context.Context, userID string) (*model.StreakState, error) {
	return readStreakState(ctx, t.tx, userID, true)
}

func (t *streakTx) WriteStreakState(ctx context.Context, userID string, upd model.StreakUpdate, at time.Time) error {
	batch := &pgx.Batch{}

	if l := upd.Login; l != nil {
		batch.Queue(`
			UPDATE streak_states SET
				login_current_days = $2, login_current_start_date = $3, login_current_end_date = $4,
				login_pr_days = $5, login_pr_end_date = $6
			WHERE user_id = $1`,
			userID, l.CurrentDays, nullDateArg(l.CurrentStart), nullDateArg(l.CurrentEnd),
			l.PRDays, nullDateArg(l.PREnd),
		)
	}
	if f := upd.Food; f != nil {
		batch.Queue(`
			UPDATE streak_states SET
				food_break_floor_date = $2, food_pending_missing_days = $3,
				food_current_start_date = $4, food_current_end_date = $5, food_current_days = $6,
				food_pr_days = $7, food_pr_end_date = $8
			WHERE user_id = $1`,
			userID, dateArg(f.BreakFloor), f.PendingMissingDays,
			nullDateArg(f.CurrentStart), nullDateArg(f.CurrentEnd), f.CurrentDays,
			f.PRDays, nullDateArg(f.PREnd),
		)
	}
	batch.Queue(
		`UPDATE streak_states SET last_recomputed_at = $2, updated_at = $2 WHERE user_id = $1`,
		userID, at.UTC(),
	)

	results := t.tx.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			return fmt.Errorf("postgres: writing streak state for %s: %w", userID, err)
		}
		if tag.RowsAffected() == 0 {
			return apperror.NotFound("streak state", userID)
		}
	}
	return nil
}

func (t *streakTx) HasActivity(ctx context.Context, userID string, kind model.ActivityKind, day civil.Date) (bool, error) {
	return hasActivity(ctx, t.tx, userID, kind, day)
}

func readStreakState(ctx context.Context, q querier, userID string, forUpdate bool) (*model.StreakState, error) {
	query := `SELECT ` + streakColumns + ` FROM streak_states WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		st                               model.StreakState
		loginStart, loginEnd, loginPREnd *time.Time
		floor                            time.Time
		foodStart, foodEnd, foodPREnd    *time.Time
	)
	err := q.QueryRow(ctx, query, userID).Scan(
		&st.UserID,
		&st.Login.CurrentDays, &loginStart, &loginEnd,
		&st.Login.PRDays, &loginPREnd,
		&floor, &st.Food.PendingMissingDays,
		&foodStart, &foodEnd, &st.Food.CurrentDays,
		&st.Food.PRDays, &foodPREnd,
		&st.LastRecomputedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("streak state", userID)
		}
		return nil, fmt.Errorf("postgres: reading streak state %s: %w", userID, err)
	}

	st.Login.CurrentStart = scanDate(loginStart)
	st.Login.CurrentEnd = scanDate(loginEnd)
	st.Login.PREnd = scanDate(loginPREnd)
	st.Food.BreakFloor = civil.DateOf(floor)
	st.Food.CurrentStart = scanDate(foodStart)
	st.Food.CurrentEnd = scanDate(foodEnd)
	st.Food.PREnd = scanDate(foodPREnd)

	return &st, nil
}
