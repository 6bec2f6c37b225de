// Package model defines the data structures used throughout the application.
package model

import "time"

// User is the slice of the account the streak engine cares about: which IANA
// timezone turns "now" into the user's local calendar day.
//
// Timezone may be empty or hold a name the tz database does not know (it is
// user-entered data). Readers fall back to the configured default zone instead
// of failing.
type User struct {
	ID        string    `json:"id"        db:"id"`
	Timezone  string    `json:"timezone"  db:"timezone"` // e.g. "Europe/Berlin"
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
