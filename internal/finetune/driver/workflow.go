package driver

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/rivermuse/finetune-engine/internal/metrics"
)

// activityOptions mirrors internal/workflows/template_workflow.go's
// per-activity ActivityOptions shape: a start-to-close timeout generous
// enough for a full epoch over a batch loader, plus a bounded retry
// policy for the activity's own transient failures (distinct from the
// run-level failure handling C7 does at the search boundary, spec §4.8).
func activityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
}

// earlyStopWindow is the number of consecutive non-improving test results
// that stops a run. Staleness is counted per epoch that ran a test pass,
// using that epoch's last test-pass loss; further test passes earlier in
// the same epoch are not counted separately.
const earlyStopWindow = 3

// FineTuningDriverWorkflow orchestrates one training run (spec §4.7,
// C6): the epoch loop, early stopping on val_loss, and best-model
// election at the end. Grounded on
// internal/workflows/template_workflow.go's node-by-node
// ExecuteActivity loop, generalized from a fixed node list to a fixed
// epoch count with an early-stopping exit.
func FineTuningDriverWorkflow(ctx workflow.Context, in DriverWorkflowInput) (DriverWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	actx := activityOptions(ctx)

	epochs := in.Spec.Settings.Epochs
	if epochs <= 0 {
		epochs = 1
	}

	bestValLoss := 0.0
	hasBest := false
	staleTestPasses := 0
	var lastMetrics EpochMetrics

	for epoch := 0; epoch < epochs; epoch++ {
		var out RunEpochOutput
		err := workflow.ExecuteActivity(actx, RunEpochActivity, RunEpochInput{
			Spec:     in.Spec,
			EpochNum: epoch,
		}).Get(ctx, &out)
		if err != nil {
			logger.Error("fine-tuning epoch failed", "run", in.Spec.RunName, "epoch", epoch, "error", err)
			return DriverWorkflowResult{Failed: true, FailureReason: err.Error()}, err
		}
		lastMetrics = out.Metrics
		metrics.EpochsCompleted.WithLabelValues(in.Spec.Iteration.PluginName).Inc()

		if !out.Metrics.RanTestPass {
			continue
		}
		if !hasBest || out.Metrics.TestLoss < bestValLoss {
			bestValLoss = out.Metrics.TestLoss
			hasBest = true
			staleTestPasses = 0
		} else {
			staleTestPasses++
			if staleTestPasses >= earlyStopWindow {
				logger.Info("early stopping: val_loss stale", "run", in.Spec.RunName, "epoch", epoch)
				break
			}
		}
	}

	result := DriverWorkflowResult{FinalTestLoss: lastMetrics.TestLoss}

	var electOut ElectBestModelOutput
	err := workflow.ExecuteActivity(actx, ElectBestModelActivity, ElectBestModelInput{
		Iteration:      in.Spec.Iteration.Name(),
		RunName:        in.Spec.RunName,
		MainMetric:     lastMetrics.TestLoss,
		HigherIsBetter: false,
	}).Get(ctx, &electOut)
	if err != nil {
		logger.Error("best-model election failed", "run", in.Spec.RunName, "error", err)
		return DriverWorkflowResult{Failed: true, FailureReason: err.Error()}, err
	}
	result.Elected = electOut.Elected
	return result, nil
}
