package state

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the database.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness/conflict constraint.
var ErrConflict = errors.New("conflict")

// ErrRevisionMismatch is returned when a revisioned write was based on a
// stale read.
var ErrRevisionMismatch = errors.New("revision mismatch")
