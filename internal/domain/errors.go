package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// ErrForbidden is matched by every AuthorizationError via errors.Is.
var ErrForbidden = errors.New("forbidden")

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AuthorizationError reports an attempt to act on another user's record.
type AuthorizationError struct {
	ActorID string
	Entity  string
	ID      string
	Reason  string
}

func (e *AuthorizationError) Error() string {
	msg := fmt.Sprintf("%s is not allowed to access %s %q", e.ActorID, e.Entity, e.ID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrForbidden }
