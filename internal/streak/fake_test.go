package streak

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/sakif/nutrilog/internal/apperror"
	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================
// memStore is an in-memory StreakStore + ActivitySource + TimezoneSource.
// WithStreakTx holds one mutex for the whole transaction and works on a copy
// of the rows, committing only when fn succeeds, so it behaves like a store
// with row locks and rollback.

type activityKey struct {
	user string
	kind model.ActivityKind
	day  civil.Date
}

type memStore struct {
	mu       sync.Mutex
	rows     map[string]model.StreakState
	activity map[activityKey]bool
	zones    map[string]string

	probes   int   // HasActivity calls since the last reset
	zoneErr  error // returned by UserTimezone when set
	writeErr error // returned by WriteStreakState when set
}

func newMemStore() *memStore {
	return &memStore{
		rows:     make(map[string]model.StreakState),
		activity: make(map[activityKey]bool),
		zones:    make(map[string]string),
	}
}

var (
	_ repository.StreakStore    = (*memStore)(nil)
	_ repository.TimezoneSource = (*memStore)(nil)
)

func (m *memStore) add(user string, kind model.ActivityKind, days ...civil.Date) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range days {
		m.activity[activityKey{user, kind, d}] = true
	}
}

func (m *memStore) WithStreakTx(ctx context.Context, fn func(tx repository.StreakTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m, rows: make(map[string]model.StreakState, len(m.rows))}
	for k, v := range m.rows {
		tx.rows[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.rows = tx.rows
	return nil
}

func (m *memStore) GetStreakState(ctx context.Context, userID string) (*model.StreakState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[userID]
	if !ok {
		return nil, apperror.NotFound("streak state", userID)
	}
	return &st, nil
}

func (m *memStore) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) UserTimezone(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zoneErr != nil {
		return "", m.zoneErr
	}
	return m.zones[userID], nil
}

func (m *memStore) probeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probes
}

func (m *memStore) resetProbes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = 0
}

// memTx runs with memStore.mu held.
type memTx struct {
	store *memStore
	rows  map[string]model.StreakState
}

func (t *memTx) HasActivity(ctx context.Context, userID string, kind model.ActivityKind, day civil.Date) (bool, error) {
	t.store.probes++
	return t.store.activity[activityKey{userID, kind, day}], nil
}

func (t *memTx) EnsureStreakRow(ctx context.Context, userID string) error {
	if _, ok := t.rows[userID]; !ok {
		t.rows[userID] = *model.NewStreakState(userID)
	}
	return nil
}

func (t *memTx) ReadStreakState(ctx context.Context, userID string) (*model.StreakState, error) {
	st, ok := t.rows[userID]
	if !ok {
		return nil, apperror.NotFound("streak state", userID)
	}
	return &st, nil
}

func (t *memTx) WriteStreakState(ctx context.Context, userID string, upd model.StreakUpdate, at time.Time) error {
	if t.store.writeErr != nil {
		return t.store.writeErr
	}
	st, ok := t.rows[userID]
	if !ok {
		return apperror.NotFound("streak state", userID)
	}
	if upd.Login != nil {
		st.Login = *upd.Login
	}
	if upd.Food != nil {
		st.Food = *upd.Food
	}
	stamp := at
	st.LastRecomputedAt = &stamp
	st.UpdatedAt = at
	t.rows[userID] = st
	return nil
}

// =========================================================================
// CLOCK + DATE HELPERS
// =========================================================================

// testClock is a settable clock. Tests move it forward one local day at a
// time with setDay.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// setDay moves the clock to noon UTC on s ("2025-01-06").
func (c *testClock) setDay(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := date(s)
	c.now = time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
}

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func datePtr(s string) *civil.Date {
	d := date(s)
	return &d
}

// newTestEngine wires an Engine to a fresh memStore and a clock set to day.
func newTestEngine(day string) (*Engine, *memStore, *testClock) {
	store := newMemStore()
	clock := &testClock{}
	clock.setDay(day)
	resolver := NewResolver(store, clock.Now, time.UTC, nil)
	return NewEngine(store, resolver, nil, nil), store, clock
}
