// Package store holds the errors shared by every persistence backend.
package store

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict signals that a transaction lost a race with another one
	// (serialization failure, deadlock, unique index on open loans, audit
	// version clash). The whole operation may be retried.
	ErrConflict = errors.New("transaction conflict")

	// ErrDuplicate is returned when a natural key (username, email, isbn) is taken.
	ErrDuplicate = errors.New("duplicate key")
)
