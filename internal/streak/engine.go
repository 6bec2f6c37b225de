package streak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/civil"

	"github.com/sakif/nutrilog/internal/apperror"
	"github.com/sakif/nutrilog/internal/metrics"
	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

// Engine is the only writer of streak state. Each Touch or RecomputeAll is
// one store transaction: ensure the row, read it under lock, probe activity,
// write the new halves. A failure anywhere rolls the whole call back and the
// caller can retry; every operation is idempotent.
type Engine struct {
	store   repository.StreakStore
	days    *Resolver
	metrics *metrics.Streaks
	logger  *slog.Logger
}

// NewEngine creates an Engine. m and logger may be nil.
func NewEngine(store repository.StreakStore, days *Resolver, m *metrics.Streaks, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{store: store, days: days, metrics: m, logger: logger}
}

// Touch updates the streak for kind after activity was recorded for eventDate.
// A zero eventDate means local today. The login streak is always recomputed
// from today; eventDate only influences the food streak.
func (e *Engine) Touch(ctx context.Context, userID string, kind model.ActivityKind, eventDate civil.Date) error {
	if userID == "" {
		return apperror.Unauthenticated("no user in context")
	}
	if !kind.Valid() {
		return apperror.ValidationFailed("kind", fmt.Sprintf("unknown activity kind %q", kind))
	}

	// Resolve before the transaction opens: the timezone lookup is a
	// separate read and must not wait on our own row lock.
	today := e.days.Today(ctx, userID)
	if eventDate == (civil.Date{}) {
		eventDate = today
	}

	var (
		login *LoginResult
		food  *FoodResult
	)
	err := e.store.WithStreakTx(ctx, func(tx repository.StreakTx) error {
		prev, err := e.lockRow(ctx, tx, userID)
		if err != nil {
			return err
		}

		switch kind {
		case model.KindLogin:
			res, err := RecomputeLogin(ctx, tx, userID, today, prev.Login)
			if err != nil {
				return err
			}
			login = &res
			return tx.WriteStreakState(ctx, userID, model.StreakUpdate{Login: &res.Streak}, e.days.Now())
		default:
			res, err := AdvanceFood(ctx, tx, userID, today, eventDate, prev.Food)
			if err != nil {
				return err
			}
			food = &res
			return tx.WriteStreakState(ctx, userID, model.StreakUpdate{Food: &res.Streak}, e.days.Now())
		}
	})
	if err != nil {
		e.metrics.Failed("touch")
		return fmt.Errorf("touch %s: %w", kind, err)
	}

	e.metrics.Touched(string(kind))
	e.observe(userID, today, login, food)
	return nil
}

// RecomputeAll recomputes the login streak and advances the food streak as of
// local today, in a single transaction. Used by maintenance and by clients
// that want to refresh a stale row without recording anything.
func (e *Engine) RecomputeAll(ctx context.Context, userID string) error {
	if userID == "" {
		return apperror.Unauthenticated("no user in context")
	}
	today := e.days.Today(ctx, userID)

	var (
		login LoginResult
		food  FoodResult
	)
	err := e.store.WithStreakTx(ctx, func(tx repository.StreakTx) error {
		prev, err := e.lockRow(ctx, tx, userID)
		if err != nil {
			return err
		}
		if login, err = RecomputeLogin(ctx, tx, userID, today, prev.Login); err != nil {
			return err
		}
		if food, err = AdvanceFood(ctx, tx, userID, today, today, prev.Food); err != nil {
			return err
		}
		upd := model.StreakUpdate{Login: &login.Streak, Food: &food.Streak}
		return tx.WriteStreakState(ctx, userID, upd, e.days.Now())
	})
	if err != nil {
		e.metrics.Failed("recompute")
		return fmt.Errorf("recompute: %w", err)
	}

	e.observe(userID, today, &login, &food)
	return nil
}

// State returns the stored streaks for userID. A user the engine has never
// touched gets the zero state rather than an error.
func (e *Engine) State(ctx context.Context, userID string) (*model.StreakState, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("no user in context")
	}
	st, err := e.store.GetStreakState(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return model.NewStreakState(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading streak state: %w", err)
	}
	return st, nil
}

func (e *Engine) lockRow(ctx context.Context, tx repository.StreakTx, userID string) (*model.StreakState, error) {
	if err := tx.EnsureStreakRow(ctx, userID); err != nil {
		return nil, err
	}
	return tx.ReadStreakState(ctx, userID)
}

// observe logs and counts the committed results. Nothing here runs for a
// rolled-back transaction.
func (e *Engine) observe(userID string, today civil.Date, login *LoginResult, food *FoodResult) {
	if login != nil {
		e.logger.Debug("login streak recomputed",
			"user_id", userID,
			"kind", model.KindLogin,
			"today", today.String(),
			"current_days", login.Streak.CurrentDays,
		)
		if login.Capped {
			e.metrics.LoginWalkCapped()
			e.logger.Warn("login walk reached iteration cap",
				"user_id", userID, "cap", MaxLoginWalkDays)
		}
		if login.NewPR {
			e.metrics.PRUpdated(string(model.KindLogin))
			e.logger.Info("new login streak record",
				"user_id", userID, "pr_days", login.Streak.PRDays)
		}
	}

	if food != nil {
		e.metrics.FoodTransition(string(food.State))
		e.logger.Debug("food streak updated",
			"user_id", userID,
			"kind", model.KindFood,
			"state", food.State,
			"floor", food.Streak.BreakFloor.String(),
			"pending", food.Streak.PendingMissingDays,
			"current_days", food.Streak.CurrentDays,
		)
		if food.FloorAdvanced {
			e.metrics.FloorAdvanced()
			e.logger.Info("food streak break confirmed",
				"user_id", userID, "floor", food.Streak.BreakFloor.String())
		}
		if food.NewPR {
			e.metrics.PRUpdated(string(model.KindFood))
			e.logger.Info("new food streak record",
				"user_id", userID, "pr_days", food.Streak.PRDays)
		}
	}
}
