package schedule

import (
	"context"
	"errors"
	"fmt"

	"housecal/internal/model"
)

// OpError records which engine operation failed and on what.
// Err always wraps one of the model sentinels (or a context error), so
// callers can branch with errors.Is.
type OpError struct {
	Op   string
	Kind model.Kind
	ID   string
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Kind != "" && e.ID != "":
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Kind, e.ID, e.Err)
	case e.Kind != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// classify wraps err in an OpError. Errors that are not one of the known
// domain sentinels are reported as model.ErrStorageUnavailable.
func classify(op string, kind model.Kind, id string, err error) error {
	if err == nil {
		return nil
	}
	var already *OpError
	if errors.As(err, &already) {
		return err
	}
	if !isDomainError(err) {
		err = fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
	}
	return &OpError{Op: op, Kind: kind, ID: id, Err: err}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		model.ErrNotFound,
		model.ErrInvalidTemplate,
		model.ErrInvalidOccurrence,
		model.ErrInvalidValue,
		model.ErrDuplicate,
		model.ErrStorageUnavailable,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RefreshError is returned when a write was committed but the view could
// not be rebuilt afterwards. The write is kept; the next reconciliation
// publishes it.
type RefreshError struct {
	Op  string
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s committed, view refresh failed: %v", e.Op, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Committed reports whether err only concerns the view refresh after a
// successful write.
func Committed(err error) bool {
	var re *RefreshError
	return errors.As(err, &re)
}

// IsNotFound reports whether err wraps model.ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

// IsStorageUnavailable reports whether err wraps model.ErrStorageUnavailable.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, model.ErrStorageUnavailable)
}

// IsInvalid reports whether err is a validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, model.ErrInvalidTemplate) ||
		errors.Is(err, model.ErrInvalidOccurrence) ||
		errors.Is(err, model.ErrInvalidValue)
}
