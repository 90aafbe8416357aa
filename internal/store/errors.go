package store

import "fmt"

// ErrNotFound is returned when a requested agent does not exist.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return "agent not found: " + e.ID
}

// ErrVersionConflict is returned when an update's version check fails because
// the record was written by someone else after the caller read it. The caller
// should re-read and re-decide rather than retry the same write.
type ErrVersionConflict struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *ErrVersionConflict) Error() string {
	return fmt.Sprintf("agent %s version conflict: expected %d, found %d", e.ID, e.Expected, e.Actual)
}

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

// IsConflict reports whether err is an *ErrVersionConflict.
func IsConflict(err error) bool {
	_, ok := err.(*ErrVersionConflict)
	return ok
}
