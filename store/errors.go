package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStore marks every failure reported by a graph store adapter.
	ErrStore = errors.New("store: operation failed")

	// ErrEntityNotFound is returned when an entity id does not exist.
	ErrEntityNotFound = errors.New("store: entity not found")

	// ErrEndpointNotFound is returned when a relationship endpoint does not exist.
	ErrEndpointNotFound = errors.New("store: relationship endpoint not found")

	// ErrUnknownDatabase is returned when opening a database that does not exist.
	ErrUnknownDatabase = errors.New("store: unknown database")

	// ErrInvalidLabel is returned for entity or relationship types that are
	// not plain identifiers.
	ErrInvalidLabel = errors.New("store: invalid label")

	// ErrInvalidAttributes is returned for attribute maps with non-scalar
	// values or unusable keys.
	ErrInvalidAttributes = errors.New("store: invalid attributes")

	// ErrNoConstraints is returned when a search is issued without conditions.
	ErrNoConstraints = errors.New("store: no search constraints")
)

// Error wraps a failure from the underlying database driver.
type Error struct {
	Op       string
	Database string
	Err      error
}

func (e *Error) Error() string {
	if e.Database == "" {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s on %q: %v", e.Op, e.Database, e.Err)
}

// Unwrap exposes both ErrStore and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	return []error{ErrStore, e.Err}
}

// Wrap returns err as an *Error for op on database, or nil when err is nil.
// Errors that already are *Error pass through unchanged.
func Wrap(op, database string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Database: database, Err: err}
}
