// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/vozlab/voz/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Repository defines the interface for persisting sessions and turns.
type Repository interface {
	// GetActiveSession retrieves the active (not ended) session for a device.
	// Returns nil, nil when the device has no active session.
	GetActiveSession(ctx context.Context, deviceID string) (*domain.Session, error)

	// InsertSession creates a new session record.
	InsertSession(ctx context.Context, sess *domain.Session) error

	// UpdateSessionActivity updates activity timestamp, keyword set and
	// message count after a turn.
	UpdateSessionActivity(ctx context.Context, sessionID string, lastActivity time.Time, keywords []string, messageCount int) error

	// EndSession marks a session ended with an optional summary.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time, summary string) error

	// InsertTurn appends one user/assistant exchange to a session.
	InsertTurn(ctx context.Context, turn *domain.Turn) error

	// ListTurns returns up to limit most recent turns for a session,
	// oldest first.
	ListTurns(ctx context.Context, sessionID string, limit int) ([]*domain.Turn, error)

	// GetDeviceActivity retrieves the last known activity for a device.
	// Returns nil, nil when the device has never been seen.
	GetDeviceActivity(ctx context.Context, deviceID string) (*domain.DeviceActivity, error)

	// UpsertDeviceActivity creates or updates the device activity record.
	UpsertDeviceActivity(ctx context.Context, act *domain.DeviceActivity) error

	// CleanupStaleSessions ends sessions idle longer than ttl and returns
	// how many were closed.
	CleanupStaleSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
