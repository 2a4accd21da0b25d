package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a rejected request parameter or payload. It is
// surfaced to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid argument: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError is returned when an entity with the same identifier exists.
type ConflictError struct {
	Entity string
	ID     string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.ID)
}

// NotFoundError is returned when a required entity is absent. It is distinct
// from an empty result.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// RoleViolation is returned when a follower process attempts a leader-only
// operation. It indicates a wiring bug, not a recoverable condition.
type RoleViolation struct {
	Operation string
	Unit      string
}

func (e *RoleViolation) Error() string {
	return fmt.Sprintf("role violation: %s is leader-only and unit %s is a follower", e.Operation, e.Unit)
}

// StorageError wraps an unexpected failure of a store statement.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// ErrTransport marks publish failures. The event bridge absorbs them.
var ErrTransport = errors.New("transport unavailable")

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c ConflictError
	return errors.As(err, &c)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var n NotFoundError
	return errors.As(err, &n)
}

// IsRoleViolation reports whether err is a RoleViolation.
func IsRoleViolation(err error) bool {
	var r *RoleViolation
	return errors.As(err, &r)
}
