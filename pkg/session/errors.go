package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates no session exists with the given id
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the session idled past the configured timeout
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionTerminal indicates the session is completed, failed, or expired
	ErrSessionTerminal = errors.New("session is in a terminal state")

	// ErrTooManySessions indicates the active-session limit was reached
	ErrTooManySessions = errors.New("too many active sessions")
)

// StorageError wraps a persistent-store failure that survived the single
// internal retry.
type StorageError struct {
	Op  string // operation that failed (create, load, append_step, ...)
	Err error  // underlying error from the second attempt
}

// Error returns formatted error message
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
