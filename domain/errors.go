package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired is returned when no user is signed in.
	ErrAuthRequired = errors.New("authentication required")
	// ErrBackendCallFailed marks any failed call to the persistent store.
	ErrBackendCallFailed = errors.New("backend call failed")

	ErrTaskNotFound    = errors.New("task not found")
	ErrEmptyText       = errors.New("task text is empty")
	ErrInvalidPatch    = errors.New("invalid task patch")
	ErrUserExists      = errors.New("user already exists")
	ErrBadCredentials  = errors.New("invalid email or password")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrPasswordTooWeak = errors.New("password must be at least 6 characters")
)

// BackendError wraps a failed store operation. It matches ErrBackendCallFailed
// and the underlying cause with errors.Is.
type BackendError struct {
	Op  string
	Err error
}

// NewBackendError wraps err unless it is nil or already a BackendError.
func NewBackendError(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() []error {
	return []error{ErrBackendCallFailed, e.Err}
}
