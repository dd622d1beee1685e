// Package provider abstracts the data sources tools read from.
//
// Two implementations exist: an in-memory mock dataset and live Postgres
// connections. The implementation is selected once at startup by
// configuration and never mixed within one call; callers must not depend
// on which one answers.
package provider

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record exists for a kind/key pair.
var ErrNotFound = errors.New("provider: entity not found")

// Record is one entity row, column name to value.
type Record map[string]any

// DataProvider is the read interface shared by the mock and live providers.
type DataProvider interface {
	// FetchEntity looks up a single record by kind and key.
	FetchEntity(ctx context.Context, kind, key string) (Record, error)

	// Name identifies the provider for logging.
	Name() string

	// Ping verifies the provider is reachable.
	Ping(ctx context.Context) error

	// Close releases provider resources.
	Close()
}
