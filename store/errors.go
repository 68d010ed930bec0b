package store

import "errors"

var (
	// ErrNotFound is returned when a graph or run id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating over an existing id.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when an operation is invalid for the
	// record's current status, such as cancelling a completed run.
	ErrConflict = errors.New("conflict")
)
