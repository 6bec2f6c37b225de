package streak

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/nutrilog/internal/apperror"
	"github.com/sakif/nutrilog/internal/metrics"
	"github.com/sakif/nutrilog/internal/model"
)

// logFood records a food entry for day s and touches the engine as the
// activity service would.
func logFood(t *testing.T, e *Engine, store *memStore, clock *testClock, user, s string) {
	t.Helper()
	clock.setDay(s)
	store.add(user, model.KindFood, date(s))
	require.NoError(t, e.Touch(context.Background(), user, model.KindFood, date(s)))
}

func logLogin(t *testing.T, e *Engine, store *memStore, clock *testClock, user, s string) {
	t.Helper()
	clock.setDay(s)
	store.add(user, model.KindLogin, date(s))
	require.NoError(t, e.Touch(context.Background(), user, model.KindLogin, civil.Date{}))
}

func mustState(t *testing.T, e *Engine, user string) *model.StreakState {
	t.Helper()
	st, err := e.State(context.Background(), user)
	require.NoError(t, err)
	return st
}

// =========================================================================
// SCENARIO TESTS
// =========================================================================

func TestScenario_FoodGraceThenBreak(t *testing.T) {
	ctx := context.Background()
	e, store, clock := newTestEngine("2025-01-01")

	for _, d := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
		logFood(t, e, store, clock, "u1", d)
	}
	st := mustState(t, e, "u1")
	require.Equal(t, 3, st.Food.CurrentDays)
	require.Equal(t, 3, st.Food.PRDays)

	// Nothing on 01-04 or 01-05. On 01-06 the day leaving the window
	// (01-03) has a log, so the run is on hold, not broken.
	clock.setDay("2025-01-06")
	require.NoError(t, e.RecomputeAll(ctx, "u1"))

	st = mustState(t, e, "u1")
	assert.Equal(t, 3, st.Food.CurrentDays)
	assert.Equal(t, datePtr("2025-01-01"), st.Food.CurrentStart)
	assert.Equal(t, datePtr("2025-01-03"), st.Food.CurrentEnd)
	assert.Equal(t, 3, st.Food.PendingMissingDays)
	assert.Equal(t, date("2024-12-31"), st.Food.BreakFloor)

	// Still nothing by 01-09: 01-06 leaves the window empty, which confirms
	// the break.
	clock.setDay("2025-01-09")
	require.NoError(t, e.RecomputeAll(ctx, "u1"))

	st = mustState(t, e, "u1")
	assert.Equal(t, date("2025-01-06"), st.Food.BreakFloor)
	assert.Equal(t, 0, st.Food.CurrentDays)
	assert.Nil(t, st.Food.CurrentStart)
	assert.Nil(t, st.Food.CurrentEnd)
	assert.Equal(t, 3, st.Food.PRDays)
	assert.Equal(t, datePtr("2025-01-03"), st.Food.PREnd)
}

func TestScenario_LoginWithoutGrace(t *testing.T) {
	e, store, clock := newTestEngine("2025-01-01")

	for _, d := range []string{"2025-01-01", "2025-01-02", "2025-01-03", "2025-01-04", "2025-01-05"} {
		logLogin(t, e, store, clock, "u1", d)
	}
	st := mustState(t, e, "u1")
	require.Equal(t, 5, st.Login.CurrentDays)

	clock.setDay("2025-01-07")
	require.NoError(t, e.RecomputeAll(context.Background(), "u1"))

	st = mustState(t, e, "u1")
	assert.Equal(t, 0, st.Login.CurrentDays)
	assert.Nil(t, st.Login.CurrentStart)
	assert.Nil(t, st.Login.CurrentEnd)
	assert.Equal(t, 5, st.Login.PRDays)
	assert.Equal(t, datePtr("2025-01-05"), st.Login.PREnd)
}

// =========================================================================
// PROPERTY TESTS
// =========================================================================

func TestNeverTouchedUser(t *testing.T) {
	e, _, _ := newTestEngine("2025-01-01")

	st := mustState(t, e, "ghost")

	assert.Equal(t, 0, st.Login.CurrentDays)
	assert.Equal(t, 0, st.Login.PRDays)
	assert.Equal(t, 0, st.Food.CurrentDays)
	assert.Equal(t, 0, st.Food.PRDays)
	assert.Equal(t, model.EpochDate, st.Food.BreakFloor)
}

func TestRecomputeAll_NoActivity(t *testing.T) {
	e, _, _ := newTestEngine("2025-01-10")

	require.NoError(t, e.RecomputeAll(context.Background(), "u1"))

	st := mustState(t, e, "u1")
	assert.Equal(t, 0, st.Login.CurrentDays)
	assert.Equal(t, 0, st.Login.PRDays)
	assert.Equal(t, 0, st.Food.CurrentDays)
	assert.Equal(t, 0, st.Food.PRDays)
	assert.NotNil(t, st.LastRecomputedAt)
}

func TestTouch_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, store, clock := newTestEngine("2025-04-01")
	logFood(t, e, store, clock, "u1", "2025-04-01")
	logFood(t, e, store, clock, "u1", "2025-04-02")

	first := mustState(t, e, "u1")
	require.NoError(t, e.Touch(ctx, "u1", model.KindFood, civil.Date{}))
	second := mustState(t, e, "u1")
	require.NoError(t, e.Touch(ctx, "u1", model.KindFood, civil.Date{}))
	third := mustState(t, e, "u1")

	assert.Equal(t, first, second)
	assert.Equal(t, second, third)
}

func TestGraceTolerance_BackfillKeepsRun(t *testing.T) {
	e, store, clock := newTestEngine("2025-06-10")
	logFood(t, e, store, clock, "u1", "2025-06-10")

	// Nothing on 06-11 or 06-12; the log for 06-13 arrives before the floor
	// could pass 06-10.
	logFood(t, e, store, clock, "u1", "2025-06-13")

	st := mustState(t, e, "u1")
	assert.Equal(t, datePtr("2025-06-10"), st.Food.CurrentStart)
	assert.Equal(t, datePtr("2025-06-13"), st.Food.CurrentEnd)
	assert.Equal(t, 4, st.Food.CurrentDays)
	assert.Equal(t, 2, st.Food.PendingMissingDays)
}

func TestGraceTolerance_YesterdayLoggedLate(t *testing.T) {
	ctx := context.Background()
	e, store, clock := newTestEngine("2025-06-10")
	logFood(t, e, store, clock, "u1", "2025-06-10")

	// On 06-12 the user fills in what they ate on 06-11.
	clock.setDay("2025-06-12")
	store.add("u1", model.KindFood, date("2025-06-11"))
	require.NoError(t, e.Touch(ctx, "u1", model.KindFood, date("2025-06-11")))

	st := mustState(t, e, "u1")
	assert.Equal(t, datePtr("2025-06-10"), st.Food.CurrentStart)
	assert.Equal(t, datePtr("2025-06-12"), st.Food.CurrentEnd)
	assert.Equal(t, 3, st.Food.CurrentDays)
	assert.Equal(t, 1, st.Food.PendingMissingDays)
}

func TestPRGate_ActiveRunWithPendingDaysDoesNotClaimRecord(t *testing.T) {
	e, store, clock := newTestEngine("2025-01-01")
	logFood(t, e, store, clock, "u1", "2025-01-01")

	// On 01-03 the user backfills 01-02 but has not logged today yet.
	clock.setDay("2025-01-03")
	store.add("u1", model.KindFood, date("2025-01-02"))
	require.NoError(t, e.Touch(context.Background(), "u1", model.KindFood, date("2025-01-02")))

	st := mustState(t, e, "u1")
	assert.Equal(t, 3, st.Food.CurrentDays)
	assert.Equal(t, 1, st.Food.PendingMissingDays)
	assert.Equal(t, 0, st.Food.PRDays, "a run with pending days is provisional")

	// Logging today clears the pending day and the record follows.
	logFood(t, e, store, clock, "u1", "2025-01-03")
	st = mustState(t, e, "u1")
	assert.Equal(t, 0, st.Food.PendingMissingDays)
	assert.Equal(t, 3, st.Food.PRDays)
	assert.Equal(t, datePtr("2025-01-03"), st.Food.PREnd)
}

func TestBreakConfirmation(t *testing.T) {
	ctx := context.Background()
	e, store, clock := newTestEngine("2025-03-10")
	logFood(t, e, store, clock, "u1", "2025-03-10")

	clock.setDay("2025-03-14")
	require.NoError(t, e.Touch(ctx, "u1", model.KindFood, civil.Date{}))

	st := mustState(t, e, "u1")
	assert.Equal(t, date("2025-03-11"), st.Food.BreakFloor)
	assert.Equal(t, 0, st.Food.CurrentDays)
	assert.Nil(t, st.Food.CurrentStart)
}

func TestFloorAndPRMonotonic(t *testing.T) {
	// Random walk over days, including the clock moving backwards as it does
	// when a user switches to a timezone further west.
	ctx := context.Background()
	e, store, clock := newTestEngine("2025-01-01")
	rng := rand.New(rand.NewPCG(7, 42))

	day := date("2025-01-01")
	var prevFloor = model.EpochDate
	prevFoodPR, prevLoginPR := 0, 0

	for i := 0; i < 300; i++ {
		switch r := rng.IntN(10); {
		case r < 6:
			day = day.AddDays(1)
		case r < 8:
			day = day.AddDays(rng.IntN(5))
		default:
			day = day.AddDays(-1)
		}
		clock.setDay(day.String())

		if rng.IntN(3) > 0 {
			store.add("u1", model.KindFood, day.AddDays(-rng.IntN(3)))
		}
		if rng.IntN(2) == 0 {
			store.add("u1", model.KindLogin, day)
		}

		var err error
		switch rng.IntN(3) {
		case 0:
			err = e.Touch(ctx, "u1", model.KindFood, civil.Date{})
		case 1:
			err = e.Touch(ctx, "u1", model.KindLogin, civil.Date{})
		default:
			err = e.RecomputeAll(ctx, "u1")
		}
		require.NoError(t, err)

		st := mustState(t, e, "u1")
		require.False(t, st.Food.BreakFloor.Before(prevFloor), "floor moved back at step %d", i)
		require.GreaterOrEqual(t, st.Food.PRDays, prevFoodPR, "food PR decreased at step %d", i)
		require.GreaterOrEqual(t, st.Login.PRDays, prevLoginPR, "login PR decreased at step %d", i)
		if st.Food.CurrentStart != nil {
			require.True(t, st.Food.CurrentStart.After(st.Food.BreakFloor), "run starts at or before floor at step %d", i)
		}
		require.True(t, st.Food.PendingMissingDays >= 0 && st.Food.PendingMissingDays <= GraceWindowDays)

		prevFloor = st.Food.BreakFloor
		prevFoodPR = st.Food.PRDays
		prevLoginPR = st.Login.PRDays
	}
}

func TestTouch_HalvesAreIndependent(t *testing.T) {
	e, store, clock := newTestEngine("2025-08-01")
	logFood(t, e, store, clock, "u1", "2025-08-01")
	before := mustState(t, e, "u1").Food

	logLogin(t, e, store, clock, "u1", "2025-08-01")

	st := mustState(t, e, "u1")
	assert.Equal(t, before, st.Food)
	assert.Equal(t, 1, st.Login.CurrentDays)
}

func TestTouch_TimezoneChangeShiftsToday(t *testing.T) {
	ctx := context.Background()
	e, store, clock := newTestEngine("2025-01-01")
	// Noon UTC on 01-01 is already 01-02 at UTC+14.
	store.zones["u1"] = "Pacific/Kiritimati"
	store.add("u1", model.KindLogin, date("2025-01-02"))

	require.NoError(t, e.Touch(ctx, "u1", model.KindLogin, civil.Date{}))
	st := mustState(t, e, "u1")
	if st.Login.CurrentDays == 0 {
		t.Skip("tzdata not available")
	}
	assert.Equal(t, datePtr("2025-01-02"), st.Login.CurrentEnd)

	// Back to UTC: local today is 01-01 again and has no login.
	store.zones["u1"] = ""
	clock.setDay("2025-01-01")
	require.NoError(t, e.Touch(ctx, "u1", model.KindLogin, civil.Date{}))
	st = mustState(t, e, "u1")
	assert.Equal(t, 0, st.Login.CurrentDays)
	assert.Equal(t, 1, st.Login.PRDays)
}

// =========================================================================
// ERROR PATH TESTS
// =========================================================================

func TestTouch_RejectsBeforeMutation(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		kind    model.ActivityKind
		wantErr error
	}{
		{name: "no user", user: "", kind: model.KindFood, wantErr: apperror.ErrUnauthenticated},
		{name: "unknown kind", user: "u1", kind: "steps", wantErr: apperror.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store, _ := newTestEngine("2025-01-01")

			err := e.Touch(context.Background(), tt.user, tt.kind, civil.Date{})

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, store.rows)
			assert.Zero(t, store.probeCount())
		})
	}
}

func TestRecomputeAll_RejectsMissingUser(t *testing.T) {
	e, store, _ := newTestEngine("2025-01-01")

	err := e.RecomputeAll(context.Background(), "")

	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	assert.Empty(t, store.rows)
}

func TestTouch_WriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	e, store, clock := newTestEngine("2025-01-01")
	logFood(t, e, store, clock, "u1", "2025-01-01")
	before := mustState(t, e, "u1")

	boom := errors.New("write failed")
	store.writeErr = boom
	clock.setDay("2025-01-02")
	store.add("u1", model.KindFood, date("2025-01-02"))

	err := e.Touch(ctx, "u1", model.KindFood, date("2025-01-02"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, mustState(t, e, "u1"))

	// New users get no half-created row either.
	err = e.Touch(ctx, "u2", model.KindLogin, civil.Date{})
	assert.ErrorIs(t, err, boom)
	_, getErr := store.GetStreakState(ctx, "u2")
	assert.ErrorIs(t, getErr, apperror.ErrNotFound)

	// Retrying after the store recovers succeeds.
	store.writeErr = nil
	require.NoError(t, e.Touch(ctx, "u1", model.KindFood, date("2025-01-02")))
	assert.Equal(t, 2, mustState(t, e, "u1").Food.CurrentDays)
}

func TestTouch_FoodCostsFourProbes(t *testing.T) {
	e, store, clock := newTestEngine("2025-01-01")
	for i := 0; i < 60; i++ {
		logFood(t, e, store, clock, "u1", date("2025-01-01").AddDays(i).String())
	}
	store.resetProbes()

	require.NoError(t, e.Touch(context.Background(), "u1", model.KindFood, civil.Date{}))

	assert.Equal(t, 4, store.probeCount())
}

func TestEngineMetrics(t *testing.T) {
	store := newMemStore()
	clock := &testClock{}
	clock.setDay("2025-01-01")
	reg := prometheus.NewRegistry()
	e := NewEngine(store, NewResolver(store, clock.Now, nil, nil), metrics.NewStreaks(reg), nil)

	for _, d := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
		logFood(t, e, store, clock, "u1", d)
	}
	store.add("u1", model.KindLogin, date("2025-01-03"))
	require.NoError(t, e.Touch(context.Background(), "u1", model.KindLogin, civil.Date{}))

	assert.Equal(t, 3.0, counterValue(t, reg, "streak_touches_total", "food"))
	assert.Equal(t, 1.0, counterValue(t, reg, "streak_touches_total", "login"))
	assert.Equal(t, 3.0, counterValue(t, reg, "streak_food_transitions_total", "active"))
	assert.Equal(t, 1.0, counterValue(t, reg, "streak_pr_updates_total", "food"))
	assert.Equal(t, 1.0, counterValue(t, reg, "streak_pr_updates_total", "login"))
	// Every one of the three food touches moved the floor forward by a day.
	assert.Equal(t, 3.0, counterValue(t, reg, "streak_floor_advances_total", ""))
}

// counterValue returns the counter named name whose only label equals label,
// or the unlabelled counter when label is empty.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := m.GetLabel()
			if label == "" && len(labels) == 0 || len(labels) == 1 && labels[0].GetValue() == label {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
