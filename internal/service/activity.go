// Package service holds the business rules between the HTTP layer and the
// streak engine.
//
//	Handler (HTTP)  → parses requests, writes responses
//	Service         → validates input, records facts, triggers the engine
//	Engine/Repos    → streak math and storage
//
// The service takes interfaces, not concrete stores, so tests can pass
// in-memory fakes and the CLI could reuse it without HTTP.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/sakif/nutrilog/internal/apperror"
	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

// MaxBackfillDays is how far back a food entry may be dated. Older entries
// would land below any plausible floor and could never count.
const MaxBackfillDays = 30

// History window limits.
const (
	DefaultHistoryDays = 30
	MaxHistoryDays     = 366
)

// StreakEngine is the part of streak.Engine the service drives.
type StreakEngine interface {
	Touch(ctx context.Context, userID string, kind model.ActivityKind, eventDate civil.Date) error
	RecomputeAll(ctx context.Context, userID string) error
	State(ctx context.Context, userID string) (*model.StreakState, error)
}

// DayResolver returns the user's local calendar date.
type DayResolver interface {
	Today(ctx context.Context, userID string) civil.Date
}

// RecordResult is what the API returns after recording activity.
type RecordResult struct {
	Activity *model.ActivityRecord `json:"activity"`
	Created  bool                  `json:"created"` // false when the day was already recorded
	Streaks  *model.StreakState    `json:"streaks"`
}

// ActivityService records activity facts and keeps the streaks in step.
type ActivityService struct {
	activities repository.ActivityRepository
	users      repository.UserRepository
	engine     StreakEngine
	days       DayResolver
	logger     *slog.Logger
}

func NewActivityService(
	activities repository.ActivityRepository,
	users repository.UserRepository,
	engine StreakEngine,
	days DayResolver,
	logger *slog.Logger,
) *ActivityService {
	return &ActivityService{
		activities: activities,
		users:      users,
		engine:     engine,
		days:       days,
		logger:     logger,
	}
}

// Record stores one day of activity and touches the matching streak.
//
// dateStr is "YYYY-MM-DD" in the user's local calendar; empty means today. It
// may not be in the future or more than MaxBackfillDays in the past.
func (s *ActivityService) Record(ctx context.Context, userID, kindStr, dateStr string) (*RecordResult, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("no user in context")
	}
	kind, err := model.ParseActivityKind(strings.TrimSpace(kindStr))
	if err != nil {
		return nil, apperror.ValidationFailed("kind", err.Error())
	}

	today := s.days.Today(ctx, userID)
	day := today
	if dateStr = strings.TrimSpace(dateStr); dateStr != "" {
		day, err = civil.ParseDate(dateStr)
		if err != nil {
			return nil, apperror.ValidationFailed("date", fmt.Sprintf("date %q must be formatted YYYY-MM-DD", dateStr))
		}
	}
	if day.After(today) {
		return nil, apperror.ValidationFailed("date", fmt.Sprintf("date %s is after today (%s)", day, today))
	}
	if today.DaysSince(day) > MaxBackfillDays {
		return nil, apperror.ValidationFailed("date",
			fmt.Sprintf("date %s is more than %d days in the past", day, MaxBackfillDays))
	}
	if kind == model.KindLogin && day != today {
		return nil, apperror.ValidationFailed("date", "logins can only be recorded for today")
	}

	return s.record(ctx, userID, kind, day)
}

// LogLogin records that the user opened the app today.
func (s *ActivityService) LogLogin(ctx context.Context, userID string) (*RecordResult, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("no user in context")
	}
	return s.record(ctx, userID, model.KindLogin, s.days.Today(ctx, userID))
}

func (s *ActivityService) record(ctx context.Context, userID string, kind model.ActivityKind, day civil.Date) (*RecordResult, error) {
	rec := &model.ActivityRecord{UserID: userID, Kind: kind, Date: day}
	created, err := s.activities.RecordActivity(ctx, rec)
	if err != nil {
		s.logger.Error("failed to record activity",
			slog.String("user_id", userID),
			slog.String("kind", string(kind)),
			slog.String("date", day.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("recording activity: %w", err)
	}

	// The fact is stored even if the touch fails; RecomputeAll or the next
	// touch picks it up.
	if err := s.engine.Touch(ctx, userID, kind, day); err != nil {
		s.logger.Error("streak touch failed",
			slog.String("user_id", userID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	state, err := s.engine.State(ctx, userID)
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("activity recorded",
			slog.String("user_id", userID),
			slog.String("kind", string(kind)),
			slog.String("date", day.String()),
		)
	}
	return &RecordResult{Activity: rec, Created: created, Streaks: state}, nil
}

// Streaks returns the user's stored streaks.
func (s *ActivityService) Streaks(ctx context.Context, userID string) (*model.StreakState, error) {
	return s.engine.State(ctx, userID)
}

// Recompute refreshes both streaks as of today without recording anything.
func (s *ActivityService) Recompute(ctx context.Context, userID string) (*model.StreakState, error) {
	if err := s.engine.RecomputeAll(ctx, userID); err != nil {
		return nil, err
	}
	return s.engine.State(ctx, userID)
}

// History lists the days of kind recorded in the last `days` local days,
// oldest first. days is clamped to [1, MaxHistoryDays].
func (s *ActivityService) History(ctx context.Context, userID, kindStr string, days int) ([]civil.Date, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("no user in context")
	}
	kind, err := model.ParseActivityKind(strings.TrimSpace(kindStr))
	if err != nil {
		return nil, apperror.ValidationFailed("kind", err.Error())
	}
	if days <= 0 {
		days = DefaultHistoryDays
	}
	if days > MaxHistoryDays {
		days = MaxHistoryDays
	}

	today := s.days.Today(ctx, userID)
	out, err := s.activities.ListActivityDays(ctx, userID, kind, today.AddDays(-(days - 1)), today)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return out, nil
}

// Profile returns the stored user. A user who never set a timezone has no
// row yet and gets apperror.ErrNotFound.
func (s *ActivityService) Profile(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("no user in context")
	}
	return s.users.GetUserByID(ctx, userID)
}

// SetTimezone stores the user's IANA zone. Streaks follow the new zone from
// the next touch on; stored dates are not migrated.
func (s *ActivityService) SetTimezone(ctx context.Context, userID, tz string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated("no user in context")
	}
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, apperror.ValidationFailed("timezone", "timezone is required")
	}
	// "Local" would silently mean the server's zone.
	if tz == "Local" {
		return nil, apperror.ValidationFailed("timezone", `"Local" is not an IANA timezone`)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, apperror.ValidationFailed("timezone", fmt.Sprintf("unknown timezone %q", tz))
	}

	u, err := s.users.UpsertTimezone(ctx, userID, tz)
	if err != nil {
		s.logger.Error("failed to set timezone",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("setting timezone: %w", err)
	}

	s.logger.Info("timezone updated",
		slog.String("user_id", userID),
		slog.String("timezone", tz),
	)
	return u, nil
}
