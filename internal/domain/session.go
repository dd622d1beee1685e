// Package domain defines the core types shared across the voice gateway.
package domain

import (
	"time"
)

// Session tracks a continuous conversation window for one device.
// Exactly one session is active per device at a time; when a boundary
// heuristic fires the session is ended with a summary and a fresh one
// is started. Superseded sessions are never linked live.
type Session struct {
	ID             string
	DeviceID       string
	Module         string
	StartedAt      time.Time
	LastActivityAt time.Time
	RecentKeywords []string
	MessageCount   int
	EndedAt        *time.Time
	Summary        string
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// IdleSince returns how long the session has been without activity.
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// Turn is one user/assistant exchange within a session.
type Turn struct {
	ID          string
	SessionID   string
	Question    string
	Response    string
	KeywordsIn  []string
	KeywordsOut []string
	CreatedAt   time.Time
}

// DeviceActivity records the last known state of a device across sessions.
// It backs the module-switch detection in the session boundary heuristic.
type DeviceActivity struct {
	DeviceID      string
	LastModule    string
	LastSessionID string
	LastActiveAt  time.Time
}
