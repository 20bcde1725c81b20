package domain

import (
	"errors"

	"github.com/locolive/ephemeral/pkg/validator"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrPermission          = errors.New("permission denied")
	ErrReplayLimitExceeded = errors.New("replay limit exceeded")
	ErrNotFound            = errors.New("content not found")
	ErrNetwork             = errors.New("network error")
)

// FieldErrors carries the per-field problems behind an ErrValidation
type FieldErrors struct {
	Fields validator.ValidationErrors
}

func (e *FieldErrors) Error() string {
	return ErrValidation.Error() + ": " + e.Fields.Error()
}

func (e *FieldErrors) Unwrap() error { return ErrValidation }

func validationError(errs validator.ValidationErrors) error {
	return &FieldErrors{Fields: errs}
}

// IsRetryable reports whether err is a transient failure worth retrying
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
