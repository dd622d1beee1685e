package domain

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind partitions recoverable failures by where they occurred.
type FailureKind string

const (
	// FailureInput marks malformed utterance or audio; the user should retry.
	FailureInput FailureKind = "input"
	// FailureClassification marks a slow-path classification error,
	// recovered locally via fallback and invisible to the user.
	FailureClassification FailureKind = "classification"
	// FailureProvider marks a data lookup error.
	FailureProvider FailureKind = "provider"
	// FailureGeneration marks a response synthesis error.
	FailureGeneration FailureKind = "generation"
	// FailureTimeout marks an outbound call exceeding its budget.
	FailureTimeout FailureKind = "timeout"
)

// Failure is a recoverable error with a kind and a generic user-facing
// message. The original detail is logged, never shown to the user.
// No Failure is fatal to the process.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s failure: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure wraps err as a Failure of the given kind. Context deadline
// errors are reclassified as timeouts regardless of the requested kind.
func NewFailure(kind FailureKind, userMessage string, err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = FailureTimeout
	}
	return &Failure{Kind: kind, Message: userMessage, Err: err}
}

// AsFailure extracts a Failure from err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
