package driver

import (
	"github.com/rivermuse/finetune-engine/internal/finetune/split"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// Settings carries the non-hyperparameter run settings named in spec §4.7:
// epochs, batch size, test-check frequency, loss/ranker selection names,
// and the step-decay schedule.
type Settings struct {
	Epochs           int
	BatchSize        int
	TestEachNInputs  float64 // fractional values are a fraction of the train loader length
	LossName         string  // "generic" | "cosine"
	StepSize         int
	Gamma            float64
}

// RunSpec is the full description of one training run: its identity, its
// train/test datasets, hyperparameters and settings.
type RunSpec struct {
	Iteration types.FineTuningIteration
	RunName   string
	Params    types.FineTuningParams
	Settings  Settings
	Train     split.PairedFineTuningInputs
	Test      split.PairedFineTuningInputs
}

// EpochMetrics is what one epoch (or one test pass) reports back to the
// workflow for logging via the artifact store.
type EpochMetrics struct {
	TrainLoss               float64
	TrainNotIrrelevantShift float64
	TrainIrrelevantShift    float64
	TestLoss                float64
	TestNotIrrelevantShift  float64
	TestIrrelevantShift     float64
	RanTestPass             bool
}

// RunEpochInput is the RunEpochActivity's argument.
type RunEpochInput struct {
	Spec      RunSpec
	EpochNum  int
}

// RunEpochOutput is the RunEpochActivity's result.
type RunEpochOutput struct {
	Metrics EpochMetrics
}

// RunTestPassInput is the RunTestPassActivity's argument.
type RunTestPassInput struct {
	Spec RunSpec
}

// RunTestPassOutput is the RunTestPassActivity's result.
type RunTestPassOutput struct {
	TestLoss               float64
	TestNotIrrelevantShift float64
	TestIrrelevantShift    float64
}

// ElectBestModelInput is the ElectBestModelActivity's argument: the
// just-finished run's main metric, higher-is-better or not.
type ElectBestModelInput struct {
	Iteration      string
	RunName        string
	MainMetric     float64
	HigherIsBetter bool
}

// ElectBestModelOutput reports whether this run became the new best.
type ElectBestModelOutput struct {
	Elected bool
}

// DriverWorkflowInput is FineTuningDriverWorkflow's argument.
type DriverWorkflowInput struct {
	Spec RunSpec
}

// DriverWorkflowResult is FineTuningDriverWorkflow's result.
type DriverWorkflowResult struct {
	FinalTestLoss float64
	Elected       bool
	Failed        bool
	FailureReason string
}
