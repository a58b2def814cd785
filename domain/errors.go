package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the item or container no longer exists; clients should refetch.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates a failed permission check on the source or destination board.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates a stale read lost a race. Callers may retry once with fresh neighbours.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates a malformed request or rule payload.
	ErrValidation = errors.New("validation failed")
)

// Invalidf returns an ErrValidation wrapping a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound wrapping a formatted reason.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf returns an ErrConflict wrapping a formatted reason.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
