package models

import (
	"time"

	"github.com/google/uuid"
)

// Alarm is a user-defined time range during which weather alerts are delivered.
type Alarm struct {
	ID    uuid.UUID `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ActiveAt reports whether t falls inside the alarm window (inclusive).
func (a Alarm) ActiveAt(t time.Time) bool {
	return !t.Before(a.Start) && !t.After(a.End)
}

// ExpiredAt reports whether the alarm window ended before t.
func (a Alarm) ExpiredAt(t time.Time) bool {
	return a.End.Before(t)
}
