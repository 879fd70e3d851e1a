// Package pipeline runs an ordered list of stages over a shared, append-only state.
package pipeline

import (
	"fmt"

	"repo-advisor/internal/apperr"
)

// State is the record passed between stages. Each stage adds fields; none are overwritten.
type State map[string]any

// Clone returns a shallow copy of s.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Has reports whether key is present.
func (s State) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Value returns the field key as a T. A missing field or a field of another type is
// an ErrInvalidPipeline error.
func Value[T any](s State, key string) (T, error) {
	var zero T
	raw, ok := s[key]
	if !ok {
		return zero, fmt.Errorf("%w: state field %q is missing", apperr.ErrInvalidPipeline, key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: state field %q has type %T, want %T", apperr.ErrInvalidPipeline, key, raw, zero)
	}
	return v, nil
}
