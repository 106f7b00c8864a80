package store

import (
	"errors"
	"fmt"
)

// Store error types for categorizing store failures.
var (
	// ErrSessionNotFound indicates the requested session does not exist
	// (or was evicted).
	ErrSessionNotFound = errors.New("store: session not found")

	// ErrSessionClosed indicates a mutation was attempted on a
	// finalized session.
	ErrSessionClosed = errors.New("store: session closed")

	// ErrLogClosed indicates the exchange log writer has been shut down.
	ErrLogClosed = errors.New("store: exchange log closed")
)

// WrapNotFound wraps a session lookup failure with the operation name.
func WrapNotFound(op, id string) error {
	return fmt.Errorf("store.%s: %w: id=%s", op, ErrSessionNotFound, id)
}
