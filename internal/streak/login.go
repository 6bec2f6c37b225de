package streak

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

// MaxLoginWalkDays bounds the backward walk. Reaching it means the data is
// anomalous (or the user is very dedicated); the walk stops and the capped
// count is stored.
const MaxLoginWalkDays = 400

// LoginResult is the outcome of one login recompute.
type LoginResult struct {
	Streak model.LoginStreak
	Capped bool // the walk stopped at MaxLoginWalkDays
	NewPR  bool // PRDays grew during this recompute
}

// RecomputeLogin walks back from today while a login exists for each day.
//
// The login streak has no grace period: if there is no login for today the
// current run is zero, whatever happened yesterday. The PR is only ever raised.
func RecomputeLogin(ctx context.Context, src repository.ActivitySource, userID string, today civil.Date, prev model.LoginStreak) (LoginResult, error) {
	days := 0
	var start civil.Date
	for d := today; days < MaxLoginWalkDays; d = d.AddDays(-1) {
		ok, err := src.HasActivity(ctx, userID, model.KindLogin, d)
		if err != nil {
			return LoginResult{}, fmt.Errorf("login walk at %s: %w", d, err)
		}
		if !ok {
			break
		}
		days++
		start = d
	}

	res := LoginResult{Streak: prev, Capped: days == MaxLoginWalkDays}
	s := &res.Streak
	if days > 0 {
		s.CurrentDays = days
		s.CurrentStart = model.DatePtr(start)
		s.CurrentEnd = model.DatePtr(today)
	} else {
		s.ResetRun()
	}

	if s.CurrentDays > s.PRDays {
		s.PRDays = s.CurrentDays
		s.PREnd = model.DatePtr(today)
		res.NewPR = true
	}
	return res, nil
}
