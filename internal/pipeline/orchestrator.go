package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/contextutil"
	"repo-advisor/internal/observability"
)

// Observer is notified as stages start and finish.
type Observer interface {
	StageStarted(ctx context.Context, name string, index, total int)
	StageFinished(ctx context.Context, name string, duration time.Duration, err error)
}

// StageReport summarizes one completed stage.
type StageReport struct {
	Name       string   `json:"name"`
	DurationMS int64    `json:"duration_ms"`
	Produced   []string `json:"produced"`
}

// Orchestrator executes stages sequentially on the caller's goroutine.
type Orchestrator struct {
	observer Observer
}

// NewOrchestrator creates an orchestrator. observer may be nil.
func NewOrchestrator(observer Observer) *Orchestrator {
	return &Orchestrator{observer: observer}
}

// Validate checks that stages can run over input: names are unique and non-empty, every
// required field is in input or produced by an earlier stage, and no field is produced
// twice or over an input field.
func Validate(stages []Stage, input State) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: no stages", apperr.ErrInvalidPipeline)
	}

	available := make(map[string]string, len(input))
	for k := range input {
		available[k] = "input"
	}
	names := make(map[string]bool, len(stages))

	var errs []error
	for i, st := range stages {
		if st.Name == "" {
			errs = append(errs, fmt.Errorf("%w: stage %d has no name", apperr.ErrInvalidPipeline, i))
		} else if names[st.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate stage %q", apperr.ErrInvalidPipeline, st.Name))
		}
		names[st.Name] = true

		if st.Handler == nil {
			errs = append(errs, fmt.Errorf("%w: stage %q has no handler", apperr.ErrInvalidPipeline, st.Name))
		}
		for _, req := range st.Requires {
			if _, ok := available[req]; !ok {
				errs = append(errs, fmt.Errorf("%w: stage %q requires %q, which nothing before it provides",
					apperr.ErrInvalidPipeline, st.Name, req))
			}
		}
		for _, field := range st.Produces {
			if owner, ok := available[field]; ok {
				errs = append(errs, fmt.Errorf("%w: stage %q produces %q, already provided by %s",
					apperr.ErrInvalidPipeline, st.Name, field, owner))
				continue
			}
			available[field] = "stage " + st.Name
		}
	}
	return errors.Join(errs...)
}

// Run executes stages in order and returns the final merged state.
func (o *Orchestrator) Run(ctx context.Context, stages []Stage, input State) (State, error) {
	state, _, err := o.RunWithReport(ctx, stages, input)
	return state, err
}

// RunWithReport is Run plus a report for every stage that completed. On failure the
// state is nil and the error is an *apperr.StageError naming the failed stage.
func (o *Orchestrator) RunWithReport(ctx context.Context, stages []Stage, input State) (State, []StageReport, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if err := Validate(stages, input); err != nil {
		logger.ErrorContext(ctx, "pipeline validation failed", "error", err)
		return nil, nil, err
	}

	state := input.Clone()
	reports := make([]StageReport, 0, len(stages))
	runStart := time.Now()

	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			logger.WarnContext(ctx, "pipeline cancelled", "stage", st.Name, "error", err)
			return nil, reports, &apperr.StageError{Stage: st.Name, Err: err}
		}

		report, out, err := o.runStage(ctx, st, state, i, len(stages))
		if err != nil {
			return nil, reports, &apperr.StageError{Stage: st.Name, Err: err}
		}

		for k, v := range out {
			state[k] = v
		}
		reports = append(reports, report)
	}

	logger.InfoContext(ctx, "pipeline completed",
		"stages", len(stages),
		"duration_ms", time.Since(runStart).Milliseconds(),
	)
	return state, reports, nil
}

func (o *Orchestrator) runStage(ctx context.Context, st Stage, state State, index, total int) (StageReport, State, error) {
	logger := contextutil.LoggerFromContext(ctx).With("stage", st.Name)

	for _, req := range st.Requires {
		if !state.Has(req) {
			return StageReport{}, nil, fmt.Errorf("%w: required field %q is missing", apperr.ErrInvalidPipeline, req)
		}
	}

	ctx, span := observability.StartStageSpan(ctx, st.Name)
	defer span.End()

	if o.observer != nil {
		o.observer.StageStarted(ctx, st.Name, index, total)
	}
	logger.InfoContext(ctx, "stage started", "index", index+1, "total", total)

	start := time.Now()
	out, err := st.Handler(ctx, state.Clone())
	if err == nil {
		err = checkOutput(st, state, out)
	}
	duration := time.Since(start)

	observability.RecordDuration(span, duration)
	if o.observer != nil {
		o.observer.StageFinished(ctx, st.Name, duration, err)
	}

	if err != nil {
		observability.RecordError(span, err)
		logger.ErrorContext(ctx, "stage failed",
			"duration_ms", duration.Milliseconds(),
			"category", apperr.CategoryOf(err),
			"error", err,
		)
		return StageReport{}, nil, err
	}

	produced := make([]string, 0, len(out))
	for k := range out {
		produced = append(produced, k)
	}
	sort.Strings(produced)

	logger.InfoContext(ctx, "stage completed", "duration_ms", duration.Milliseconds(), "produced", produced)
	return StageReport{Name: st.Name, DurationMS: duration.Milliseconds(), Produced: produced}, out, nil
}

// checkOutput enforces that out holds exactly the declared fields and none that exist.
func checkOutput(st Stage, state, out State) error {
	var errs []error
	for k := range out {
		if !slices.Contains(st.Produces, k) {
			errs = append(errs, fmt.Errorf("%w: stage wrote undeclared field %q", apperr.ErrInvalidPipeline, k))
		} else if state.Has(k) {
			errs = append(errs, fmt.Errorf("%w: stage overwrote field %q", apperr.ErrInvalidPipeline, k))
		}
	}
	for _, field := range st.Produces {
		if !out.Has(field) {
			errs = append(errs, fmt.Errorf("%w: stage did not produce %q", apperr.ErrInvalidPipeline, field))
		}
	}
	return errors.Join(errs...)
}
