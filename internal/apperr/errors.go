package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when caller input or configuration fails validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAcquisition is returned when the repository source is unavailable or invalid.
	ErrAcquisition = errors.New("acquisition failed")
	// ErrEmbeddingUnavailable is returned when the embedding model could not be loaded.
	ErrEmbeddingUnavailable = errors.New("embedding model unavailable")
	// ErrEmbeddingFailed is returned when a specific input could not be embedded.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrIndex is returned when an index invariant is violated (e.g. dimension mismatch).
	ErrIndex = errors.New("index invariant violated")
	// ErrValidation is returned when structured model output does not match its schema.
	ErrValidation = errors.New("validation failed")
	// ErrGeneration is returned when a downstream model call fails for transport/API reasons.
	ErrGeneration = errors.New("generation failed")
	// ErrInvalidPipeline is returned when a stage list cannot run over its input.
	ErrInvalidPipeline = errors.New("invalid pipeline")
)

// Error categories reported to callers and operators.
const (
	CategorySetup     = "setup"
	CategoryModel     = "model"
	CategoryData      = "data"
	CategoryCancelled = "cancelled"
	CategoryInternal  = "internal"
)

// ValidationError represents a validation error with a field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Is reports ErrValidation as a match so callers can test the category with errors.Is.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StageError identifies the pipeline stage that failed and why.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with additional context.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// CategoryOf classifies err so setup, model and data problems can be told apart.
func CategoryOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !isModelOrSetup(err):
		return CategoryCancelled
	case errors.Is(err, ErrValidation):
		return CategoryData
	case errors.Is(err, ErrEmbeddingUnavailable), errors.Is(err, ErrEmbeddingFailed), errors.Is(err, ErrGeneration):
		return CategoryModel
	case errors.Is(err, ErrAcquisition), errors.Is(err, ErrInvalidInput):
		return CategorySetup
	default:
		return CategoryInternal
	}
}

// isModelOrSetup reports whether a deadline was hit inside a collaborator call; those
// timeouts are ordinary stage failures, not caller cancellation.
func isModelOrSetup(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrEmbeddingFailed) ||
		errors.Is(err, ErrGeneration) ||
		errors.Is(err, ErrAcquisition)
}

// ValidationFields returns every field named by the validation errors inside err,
// including errors combined with errors.Join.
func ValidationFields(err error) []string {
	var fields []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if ve, ok := e.(*ValidationError); ok {
			fields = append(fields, ve.Field)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return fields
}
