package pipeline

import "context"

// Handler runs one stage. It receives the merged state and returns only the fields it adds.
type Handler func(ctx context.Context, state State) (State, error)

// Stage is one named step of a run.
type Stage struct {
	Name     string
	Requires []string // Fields that must exist before the stage runs
	Produces []string // Fields the stage must return, and the only ones it may return
	Handler  Handler
}
