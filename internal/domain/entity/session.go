package entity

import "time"

// SessionState is a snapshot of the inactivity monitor. Remaining is
// derived: timeout duration minus the time elapsed since LastActivity.
type SessionState struct {
	Active       bool          `json:"active"`
	LastActivity time.Time     `json:"last_activity"`
	Warning      bool          `json:"warning"`
	Remaining    time.Duration `json:"remaining"`
}
