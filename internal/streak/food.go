package streak

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

// GraceWindowDays is how many of the most recent local days may lack a food
// log without breaking the streak. A day that falls out of the window with no
// log is a confirmed break.
const GraceWindowDays = 3

// FoodState classifies the food streak after an update.
type FoodState string

const (
	FoodActive FoodState = "active"  // at least one of the last three days has a log
	FoodOnHold FoodState = "on_hold" // no recent log, but a backfill could still save the run
	FoodBroken FoodState = "broken"  // nothing recent and nothing left to backfill
)

// FoodResult is the outcome of one food update.
type FoodResult struct {
	Streak        model.FoodStreak
	State         FoodState
	FloorAdvanced bool
	NewPR         bool
}

// AdvanceFood applies one incremental update to the food streak.
//
// THE FLOOR WATERMARK:
// Dates at or before BreakFloor are settled and never looked at again, which
// is what keeps the update O(1): it costs exactly four point lookups (today,
// the two days before it, and the grace boundary) however long the history
// is. The floor only moves when the grace boundary, the day that just left
// the window, turns out to have no log.
//
// touchDate is the day the triggering activity was recorded for. It only
// matters when no earlier candidate start exists.
func AdvanceFood(ctx context.Context, src repository.ActivitySource, userID string, today, touchDate civil.Date, prev model.FoodStreak) (FoodResult, error) {
	recent := [GraceWindowDays]civil.Date{today, today.AddDays(-1), today.AddDays(-2)}
	boundary := today.AddDays(-GraceWindowDays)

	var has [GraceWindowDays]bool
	for i, d := range recent {
		ok, err := src.HasActivity(ctx, userID, model.KindFood, d)
		if err != nil {
			return FoodResult{}, fmt.Errorf("food probe at %s: %w", d, err)
		}
		has[i] = ok
	}
	boundaryHas, err := src.HasActivity(ctx, userID, model.KindFood, boundary)
	if err != nil {
		return FoodResult{}, fmt.Errorf("food probe at %s: %w", boundary, err)
	}

	res := FoodResult{Streak: prev}
	s := &res.Streak
	if s.BreakFloor == (civil.Date{}) {
		s.BreakFloor = model.EpochDate
	}

	// Break confirmation.
	if boundary.After(s.BreakFloor) && !boundaryHas {
		s.BreakFloor = boundary
		res.FloorAdvanced = true
	}
	if s.CurrentStart != nil && !s.CurrentStart.After(s.BreakFloor) {
		s.ResetRun()
	}

	s.PendingMissingDays = 0
	anyRecent := has[0] || has[1] || has[2]
	var candidate *civil.Date
	for i, d := range recent {
		if !d.After(s.BreakFloor) {
			continue
		}
		if !has[i] {
			s.PendingMissingDays++
			continue
		}
		// recent runs newest to oldest, so the last hit is the earliest day.
		candidate = model.DatePtr(d)
	}

	switch {
	case anyRecent:
		res.State = FoodActive
		if s.CurrentStart == nil || !s.CurrentStart.After(s.BreakFloor) {
			switch {
			case candidate != nil:
				s.CurrentStart = candidate
			case touchDate == today && has[0]:
				s.CurrentStart = model.DatePtr(today)
			default:
				s.CurrentStart = nil
			}
		}
		if s.CurrentStart != nil && s.CurrentStart.After(s.BreakFloor) && !s.CurrentStart.After(today) {
			s.CurrentEnd = model.DatePtr(today)
			s.CurrentDays = today.DaysSince(*s.CurrentStart) + 1
		} else {
			s.ResetRun()
		}
	case s.PendingMissingDays == 0:
		res.State = FoodBroken
		s.ResetRun()
	default:
		res.State = FoodOnHold
	}

	// A streak still inside its grace window is provisional and cannot claim
	// the record yet.
	if s.PendingMissingDays == 0 && s.CurrentDays > s.PRDays {
		s.PRDays = s.CurrentDays
		s.PREnd = model.DatePtr(*s.CurrentEnd)
		res.NewPR = true
	}
	return res, nil
}
