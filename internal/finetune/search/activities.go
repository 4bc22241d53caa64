package search

import (
	"context"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
	"github.com/rivermuse/finetune-engine/internal/metrics"
)

// SetIterationActivity wraps C8's set_iteration (spec §4.9), invoked once
// at the start of a search to create/select the iteration every trial in
// this search writes runs into.
func SetIterationActivity(ctx context.Context, iteration types.FineTuningIteration) error {
	return current().Registry.SetIteration(ctx, iteration)
}

// SetRunInput is SetRunActivity's argument.
type SetRunInput struct {
	Iteration string
	Plugin    string
	Params    types.FineTuningParams
}

// SetRunActivity wraps C8's set_run: registers the run and reports
// whether it is already FINISHED (spec §4.8's per-trial skip check).
func SetRunActivity(ctx context.Context, in SetRunInput) (bool, error) {
	finished, err := current().Registry.SetRun(ctx, in.Iteration, in.Params)
	if err == nil && !finished {
		metrics.RunsStarted.WithLabelValues(in.Plugin).Inc()
	}
	return finished, err
}

// FinishRunInput is FinishRunActivity's argument.
type FinishRunInput struct {
	Iteration       string
	Plugin          string
	RunName         string
	AsFailed        bool
	DurationSeconds float64
}

// FinishRunActivity wraps C8's finish_run, called after each trial
// whether it succeeded or was caught as a failure (spec §4.8).
func FinishRunActivity(ctx context.Context, in FinishRunInput) error {
	err := current().Registry.FinishRun(ctx, in.Iteration, in.RunName, in.AsFailed)
	if err == nil {
		status := "finished"
		if in.AsFailed {
			status = "failed"
		}
		metrics.RecordRunFinished(in.Plugin, status, in.DurationSeconds)
	}
	return err
}

// GetTopParamsInput is GetTopParamsActivity's argument.
type GetTopParamsInput struct {
	Iteration      string
	N              int
	HigherIsBetter bool
}

// GetTopParamsActivity wraps C8's get_top_params, used in mode 2 (spec
// §4.8) to seed the new iteration's trials from the previous iteration's
// best runs.
func GetTopParamsActivity(ctx context.Context, in GetTopParamsInput) ([]types.FineTuningParams, error) {
	return current().Registry.GetTopParams(ctx, in.Iteration, in.N, in.HigherIsBetter)
}

// ArchivePreviousIterationActivity wraps C8's delete_previous_iteration,
// invoked once at the end of a search that produced at least one
// surviving run (spec §4.8: retained untouched if every trial failed).
func ArchivePreviousIterationActivity(ctx context.Context, previousIterationName string) error {
	return current().Registry.DeletePreviousIteration(ctx, previousIterationName)
}
