package model

import "errors"

// Error taxonomy shared by the stores and the schedule engine.
var (
	// ErrStorageUnavailable means a storage call failed. The operation was
	// aborted and the caller should re-run the reconciliation pass.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound means a referenced template or occurrence does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTemplate is returned before any storage call is made.
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrInvalidOccurrence rejects malformed manual occurrences.
	ErrInvalidOccurrence = errors.New("invalid occurrence")

	// ErrInvalidValue rejects a malformed chore value.
	ErrInvalidValue = errors.New("invalid chore value")

	// ErrDuplicate means a row with the same unique key already exists.
	ErrDuplicate = errors.New("already exists")
)
