package models

import "time"

// CooldownEntry blocks an owner from submitting again until Until
type CooldownEntry struct {
	OwnerID int64     `json:"owner_id"`
	Until   time.Time `json:"until"`
}

// Expired reports whether the entry no longer applies at now
func (c CooldownEntry) Expired(now time.Time) bool {
	return !now.Before(c.Until)
}

// Remaining returns the time left at now, never negative
func (c CooldownEntry) Remaining(now time.Time) time.Duration {
	if c.Expired(now) {
		return 0
	}
	return c.Until.Sub(now)
}
