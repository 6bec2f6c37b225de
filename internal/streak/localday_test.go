package streak

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolverToday(t *testing.T) {
	// 03:00 UTC on Jan 1st: already Jan 1st in UTC, still Dec 31st in New
	// York, and already afternoon on Jan 1st at UTC+14.
	instant := time.Date(2025, time.January, 1, 3, 0, 0, 0, time.UTC)
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	tests := []struct {
		name     string
		stored   string
		zoneErr  error
		fallback *time.Location
		want     string
	}{
		{name: "stored zone ahead of UTC", stored: "Pacific/Kiritimati", want: "2025-01-01"},
		{name: "stored zone behind UTC", stored: "America/New_York", want: "2024-12-31"},
		{name: "blank uses fallback", stored: "", fallback: newYork, want: "2024-12-31"},
		{name: "blank with no fallback is UTC", stored: "", want: "2025-01-01"},
		{name: "garbage uses fallback", stored: "Mars/Olympus_Mons", fallback: newYork, want: "2024-12-31"},
		{name: "Local uses fallback", stored: "Local", fallback: newYork, want: "2024-12-31"},
		{name: "lookup error uses fallback", zoneErr: errors.New("db down"), fallback: newYork, want: "2024-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.zones["u1"] = tt.stored
			store.zoneErr = tt.zoneErr
			r := NewResolver(store, func() time.Time { return instant }, tt.fallback, nil)

			assert.Equal(t, date(tt.want), r.Today(context.Background(), "u1"))
		})
	}
}

func TestResolverToday_UnknownUser(t *testing.T) {
	instant := time.Date(2025, time.July, 4, 23, 30, 0, 0, time.UTC)
	r := NewResolver(newMemStore(), func() time.Time { return instant }, nil, nil)

	assert.Equal(t, date("2025-07-04"), r.Today(context.Background(), "nobody"))
}

func TestDateIn(t *testing.T) {
	instant := time.Date(2025, time.March, 1, 23, 0, 0, 0, time.UTC)

	d, ok := DateIn(instant, "Asia/Tokyo")
	if !ok {
		t.Skip("tzdata not available")
	}
	assert.Equal(t, date("2025-03-02"), d)

	d, ok = DateIn(instant, "not/a_zone")
	assert.False(t, ok)
	assert.Equal(t, date("2025-03-01"), d)

	d, ok = DateIn(instant, "Local")
	assert.False(t, ok)
	assert.Equal(t, date("2025-03-01"), d)

	d, ok = DateIn(instant, "")
	assert.False(t, ok)
	assert.Equal(t, date("2025-03-01"), d)
}
