package action

import "errors"

var (
	// ErrConflict is returned by store writes whose expected revision
	// does not match the stored revision. The caller must re-read and
	// decide against the now-current state.
	ErrConflict = errors.New("action revision conflict")

	// ErrNotFound is returned when no action exists for a key.
	ErrNotFound = errors.New("action not found")

	// ErrStorageUnavailable wraps transient storage failures. Callers
	// retry with backoff rather than treating the write as rejected.
	ErrStorageUnavailable = errors.New("action storage unavailable")
)
