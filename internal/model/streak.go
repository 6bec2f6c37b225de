// Package model defines the data structures shared by the streak engine,
// the repositories, and the HTTP layer.
//
// CALENDAR DATES:
// Streak bookkeeping happens in whole local days, never in instants. We use
// civil.Date (year, month, day with no zone attached) for every date column so
// that "2025-01-03" means the same thing no matter which server or timezone
// reads it back. Nullable dates are *civil.Date: nil means "no active run".
package model

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// ActivityKind identifies which daily activity a record or a streak tracks.
type ActivityKind string

const (
	KindLogin ActivityKind = "login" // the user opened the app that day
	KindFood  ActivityKind = "food"  // the user logged at least one food diary entry that day
)

// Valid reports whether k is one of the kinds the engine knows how to track.
func (k ActivityKind) Valid() bool {
	switch k {
	case KindLogin, KindFood:
		return true
	}
	return false
}

// ParseActivityKind converts user input into an ActivityKind.
func ParseActivityKind(s string) (ActivityKind, error) {
	k := ActivityKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown activity kind %q", s)
	}
	return k, nil
}

// EpochDate is the default food break floor for a user who has never had a
// confirmed break. Every real activity date is strictly after it.
var EpochDate = civil.Date{Year: 1970, Month: time.January, Day: 1}

// ActivityRecord is the fact "activity of Kind happened on Date for UserID".
// There is at most one record per (UserID, Kind, Date).
type ActivityRecord struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	Kind      ActivityKind `json:"kind"`
	Date      civil.Date   `json:"date"`
	CreatedAt time.Time    `json:"createdAt"`
}

// LoginStreak is the login half of a StreakState row.
//
// The current run always ends on local today: a user who has not logged in
// today has CurrentDays == 0 and both dates nil.
type LoginStreak struct {
	CurrentDays  int         `json:"current_days"`
	CurrentStart *civil.Date `json:"current_start_date"`
	CurrentEnd   *civil.Date `json:"current_end_date"`
	PRDays       int         `json:"pr_days"`
	PREnd        *civil.Date `json:"pr_end_date"`
}

// FoodStreak is the food half of a StreakState row.
//
// BreakFloor is the watermark: every date at or before it is settled history
// and will never be examined again. An active run always starts strictly after
// the floor. PendingMissingDays counts the days of the grace window (after the
// floor) that still lack a food log and could be backfilled.
type FoodStreak struct {
	BreakFloor         civil.Date  `json:"break_floor_date"`
	PendingMissingDays int         `json:"pending_missing_days"`
	CurrentStart       *civil.Date `json:"current_start_date"`
	CurrentEnd         *civil.Date `json:"current_end_date"`
	CurrentDays        int         `json:"current_days"`
	PRDays             int         `json:"pr_days"`
	PREnd              *civil.Date `json:"pr_end_date"`
}

// StreakState is the persisted per-user streak row. It is written only by the
// streak engine; everything else reads it.
type StreakState struct {
	UserID           string      `json:"user_id"`
	Login            LoginStreak `json:"login"`
	Food             FoodStreak  `json:"food"`
	LastRecomputedAt *time.Time  `json:"last_recomputed_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewStreakState returns the zero row created the first time a user is touched.
func NewStreakState(userID string) *StreakState {
	return &StreakState{
		UserID: userID,
		Food:   FoodStreak{BreakFloor: EpochDate},
	}
}

// StreakUpdate is a partial write of a StreakState row. A nil half is left as
// stored, so the login recomputer never clobbers food columns and vice versa.
type StreakUpdate struct {
	Login *LoginStreak
	Food  *FoodStreak
}

// ResetRun clears the current login run.
func (s *LoginStreak) ResetRun() {
	s.CurrentDays = 0
	s.CurrentStart = nil
	s.CurrentEnd = nil
}

// ResetRun clears the current food run. The floor and PR are untouched.
func (s *FoodStreak) ResetRun() {
	s.CurrentDays = 0
	s.CurrentStart = nil
	s.CurrentEnd = nil
}

// DatePtr returns a pointer to a copy of d.
func DatePtr(d civil.Date) *civil.Date {
	return &d
}
