package model

import (
	"errors"
	"fmt"
)

// Error kinds shared by the validator, repository and import pipeline.
// Callers classify failures with errors.Is.
var (
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidType   = errors.New("invalid field type")
	ErrInvalidID     = errors.New("invalid item ID")
	ErrFieldTooLong  = errors.New("field exceeds maximum length")
	ErrEmptyUpdate   = errors.New("update contains no known fields")
	ErrNotFound      = errors.New("item not found")
	ErrAlreadyExists = errors.New("item already exists")

	ErrStoreUnavailable = errors.New("store unavailable")
	ErrSourceUnreadable = errors.New("import source unreadable")
	ErrIncompleteImport = errors.New("import incomplete")
)

// ValidationError reports which field failed validation and why.
type ValidationError struct {
	Kind  error
	Field string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(kind error, field string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Field)
}

// Unwrap returns the error kind.
func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// IsValidation reports whether err is a client-side validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
