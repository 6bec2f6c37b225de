// Package streak maintains the current and personal-record streaks for daily
// logins and daily food logging.
//
// Everything here works in the user's LOCAL calendar day. A user in Tokyo who
// logs lunch at 01:00 UTC has logged it "today" in Tokyo even though the UTC
// date is still yesterday, so every computation starts by resolving local
// today through the Resolver.
package streak

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/sakif/nutrilog/internal/repository"
)

// Clock returns the current instant. Production code passes time.Now; tests pass
// a function returning a fixed time.
type Clock func() time.Time

// Resolver turns a user id into that user's local calendar date.
type Resolver struct {
	zones    repository.TimezoneSource
	now      Clock
	fallback *time.Location
	logger   *slog.Logger
}

// NewResolver creates a Resolver. A nil fallback means UTC and a nil now means
// time.Now. A nil logger discards output.
func NewResolver(zones repository.TimezoneSource, now Clock, fallback *time.Location, logger *slog.Logger) *Resolver {
	if now == nil {
		now = time.Now
	}
	if fallback == nil {
		fallback = time.UTC
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{zones: zones, now: now, fallback: fallback, logger: logger}
}

// Now returns the current instant from the injected clock.
func (r *Resolver) Now() time.Time {
	return r.now()
}

// Location returns the user's stored timezone, or the fallback zone when the
// stored value is blank, unknown, or cannot be read. It never fails: a broken
// timezone is a cosmetic problem and must not stop streak computation.
func (r *Resolver) Location(ctx context.Context, userID string) *time.Location {
	name, err := r.zones.UserTimezone(ctx, userID)
	if err != nil {
		r.logger.Warn("timezone lookup failed, using default zone",
			"user_id", userID, "zone", r.fallback.String(), "error", err)
		return r.fallback
	}
	if name == "" {
		return r.fallback
	}

	loc, err := loadZone(name)
	if err != nil {
		r.logger.Debug("unparseable timezone, using default zone",
			"user_id", userID, "timezone", name, "zone", r.fallback.String())
		return r.fallback
	}
	return loc
}

// Today returns the calendar date of "now" in the user's timezone.
func (r *Resolver) Today(ctx context.Context, userID string) civil.Date {
	return civil.DateOf(r.now().In(r.Location(ctx, userID)))
}

// DateIn returns the calendar date of now in the named zone. ok is false (and
// the UTC date is returned) when zone is blank or not a known IANA name.
func DateIn(now time.Time, zone string) (d civil.Date, ok bool) {
	if zone == "" {
		return civil.DateOf(now.UTC()), false
	}
	loc, err := loadZone(zone)
	if err != nil {
		return civil.DateOf(now.UTC()), false
	}
	return civil.DateOf(now.In(loc)), true
}

// loadZone is time.LoadLocation without "Local", which names the server's
// zone rather than anything a user could have chosen.
func loadZone(name string) (*time.Location, error) {
	if name == "Local" {
		return nil, fmt.Errorf("timezone %q is not an IANA name", name)
	}
	return time.LoadLocation(name)
}
