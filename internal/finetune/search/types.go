// Package search implements C7, the hyperparameter search (spec §4.8):
// an initial-iteration grid/TPE-style sweep, or a subsequent-iteration
// top-K-from-previous-iteration sweep, each trial invoking C6 (the
// fine-tuning driver) with per-run failure isolation.
package search

import (
	"github.com/rivermuse/finetune-engine/internal/finetune/driver"
	"github.com/rivermuse/finetune-engine/internal/finetune/split"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// HyperSearchInput is HyperparameterSearchWorkflow's argument.
type HyperSearchInput struct {
	// Iteration is the new iteration this search populates with runs.
	Iteration types.FineTuningIteration
	// PreviousIterationName is the prior iteration's registry name, or ""
	// for the first iteration of this plugin (spec §4.8 mode 1).
	PreviousIterationName string
	// StartingParams, when set, is the starting run's own parameters,
	// prepended to the top-K set queried from the previous iteration
	// (spec §4.8 mode 2).
	StartingParams *types.FineTuningParams

	Grid            Grid // only consulted in mode 1
	InitialMaxEvals int  // only consulted in mode 1
	TopK            int  // only consulted in mode 2

	Settings       driver.Settings
	Train          split.PairedFineTuningInputs
	Test           split.PairedFineTuningInputs
	HigherIsBetter bool
}

// RunOutcome records one trial's result for HyperSearchResult.
type RunOutcome struct {
	RunName       string
	Params        types.FineTuningParams
	Skipped       bool // set_run reported FINISHED already
	Failed        bool
	FailureReason string
	TestLoss      float64
	Elected       bool
}

// HyperSearchResult is HyperparameterSearchWorkflow's result.
type HyperSearchResult struct {
	Outcomes  []RunOutcome
	AllFailed bool
}
