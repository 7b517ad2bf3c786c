// Package apperr holds the error taxonomy shared by the order engine, the batch
// orchestrator, the stores and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/multierr"
)

var (
	// ErrNotFound is returned for unknown ids and for ids not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation is incompatible with the current state.
	ErrConflict = errors.New("conflict")
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (f FieldError) Error() string {
	return f.Field + ": " + f.Reason
}

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Field returns a FieldError for use with multierr.Append.
func Field(field, format string, args ...any) error {
	return FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validation folds an error built with multierr.Append(…, Field(…)) into a
// *ValidationError. It returns nil when errs is nil.
func Validation(errs error) error {
	if errs == nil {
		return nil
	}
	var out ValidationError
	for _, err := range multierr.Errors(errs) {
		var fe FieldError
		if errors.As(err, &fe) {
			out.Fields = append(out.Fields, fe)
			continue
		}
		out.Fields = append(out.Fields, FieldError{Field: "request", Reason: err.Error()})
	}
	return &out
}

// Conflict wraps ErrConflict with a reason.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind of thing that was missing.
func NotFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}

// ProviderError is a swap provider failure. Terminal for the order or leg it hit.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("swap provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TransientError marks a price source that was unavailable or stale for this tick.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsProvider reports whether err is (or wraps) a ProviderError.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// HTTPStatus maps an error to the status code the API returns for it.
func HTTPStatus(err error) int {
	var ve *ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case IsProvider(err):
		return http.StatusBadGateway
	case IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
