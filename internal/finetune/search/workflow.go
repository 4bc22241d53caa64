package search

import (
	"hash/fnv"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/rivermuse/finetune-engine/internal/finetune/driver"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

func activityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
}

func childWorkflowOptions(ctx workflow.Context, runName string) workflow.Context {
	return workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:        "finetune-run-" + runName,
		ParentClosePolicy: enumspb.PARENT_CLOSE_POLICY_ABANDON,
	})
}

// seedFor derives a deterministic sampler seed from the iteration name,
// so workflow replay reproduces the exact same proposal sequence (a
// workflow must never read real entropy directly, spec-ambient rule
// carried from the driver package's replay-safety conventions).
func seedFor(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// HyperparameterSearchWorkflow implements C7 (spec §4.8): set the target
// iteration current, propose a sequence of parameter sets (mode 1: a TPE
// sweep over a grid; mode 2: the previous iteration's top-K runs plus a
// starting run), fine-tune each as an isolated child workflow, and - if
// at least one trial survived - retire the previous iteration's
// artifacts. Grounded on
// internal/workflows/template_workflow.go's node-iteration shape,
// generalized from a fixed node list to a dynamically-sized trial list
// with per-trial failure isolation.
func HyperparameterSearchWorkflow(ctx workflow.Context, in HyperSearchInput) (HyperSearchResult, error) {
	logger := workflow.GetLogger(ctx)
	actx := activityOptions(ctx)

	iterationName := in.Iteration.Name()
	if err := workflow.ExecuteActivity(actx, SetIterationActivity, in.Iteration).Get(ctx, nil); err != nil {
		return HyperSearchResult{}, err
	}

	result := HyperSearchResult{}

	if in.PreviousIterationName == "" {
		// Mode 1: TPE sweep. Each completed trial's quality feeds back into
		// the sampler before the next proposal, so the good/bad density
		// split actually steers the sweep after the cold-start trials.
		evals := in.InitialMaxEvals
		if evals <= 0 {
			evals = 1
		}
		sampler := NewSampler(in.Grid, in.HigherIsBetter, seedFor(iterationName))
		for i := 0; i < evals; i++ {
			params := sampler.Propose()
			outcome := runTrial(ctx, actx, in, iterationName, params)
			result.Outcomes = append(result.Outcomes, outcome)
			if !outcome.Failed && !outcome.Skipped {
				sampler.Observe(Observation{Params: params, Quality: outcome.TestLoss})
			}
		}
	} else {
		candidates, err := previousTopCandidates(ctx, actx, in)
		if err != nil {
			return HyperSearchResult{}, err
		}
		for _, params := range candidates {
			result.Outcomes = append(result.Outcomes, runTrial(ctx, actx, in, iterationName, params))
		}
	}

	anySucceeded := false
	for _, o := range result.Outcomes {
		if !o.Failed {
			anySucceeded = true
			break
		}
	}
	result.AllFailed = !anySucceeded
	if result.AllFailed {
		logger.Info("every trial in search failed, retaining previous iteration", "iteration", iterationName)
		return result, nil
	}

	if in.PreviousIterationName != "" {
		if err := workflow.ExecuteActivity(actx, ArchivePreviousIterationActivity, in.PreviousIterationName).Get(ctx, nil); err != nil {
			logger.Error("failed to archive previous iteration", "previous", in.PreviousIterationName, "error", err)
			return result, err
		}
	}
	return result, nil
}

// runTrial executes one parameter set: create (or skip) the run record,
// fine-tune it as an isolated child workflow, and close the run. A failed
// trial is recorded and must not abort the rest of the search (spec §4.8:
// "record the failure, continue with the next parameter set").
func runTrial(ctx workflow.Context, actx workflow.Context, in HyperSearchInput, iterationName string, params types.FineTuningParams) RunOutcome {
	logger := workflow.GetLogger(ctx)
	outcome := RunOutcome{RunName: params.ID(), Params: params}

	var finished bool
	if err := workflow.ExecuteActivity(actx, SetRunActivity, SetRunInput{
		Iteration: iterationName,
		Plugin:    in.Iteration.PluginName,
		Params:    params,
	}).Get(ctx, &finished); err != nil {
		outcome.Failed = true
		outcome.FailureReason = err.Error()
		return outcome
	}
	if finished {
		outcome.Skipped = true
		return outcome
	}

	startedAt := workflow.Now(ctx)
	cctx := childWorkflowOptions(ctx, outcome.RunName)
	var runResult driver.DriverWorkflowResult
	runErr := workflow.ExecuteChildWorkflow(cctx, driver.FineTuningDriverWorkflow, driver.DriverWorkflowInput{
		Spec: driver.RunSpec{
			Iteration: in.Iteration,
			RunName:   outcome.RunName,
			Params:    params,
			Settings:  in.Settings,
			Train:     in.Train,
			Test:      in.Test,
		},
	}).Get(ctx, &runResult)

	duration := workflow.Now(ctx).Sub(startedAt).Seconds()
	if runErr != nil {
		logger.Warn("fine-tuning trial failed, continuing search", "run", outcome.RunName, "error", runErr)
		outcome.Failed = true
		outcome.FailureReason = runErr.Error()
		_ = workflow.ExecuteActivity(actx, FinishRunActivity, FinishRunInput{
			Iteration:       iterationName,
			Plugin:          in.Iteration.PluginName,
			RunName:         outcome.RunName,
			AsFailed:        true,
			DurationSeconds: duration,
		}).Get(ctx, nil)
		return outcome
	}

	outcome.TestLoss = runResult.FinalTestLoss
	outcome.Elected = runResult.Elected
	if err := workflow.ExecuteActivity(actx, FinishRunActivity, FinishRunInput{
		Iteration:       iterationName,
		Plugin:          in.Iteration.PluginName,
		RunName:         outcome.RunName,
		AsFailed:        false,
		DurationSeconds: duration,
	}).Get(ctx, nil); err != nil {
		outcome.Failed = true
		outcome.FailureReason = err.Error()
	}
	return outcome
}

// previousTopCandidates builds mode 2's candidate list: StartingParams
// (if any) followed by the previous iteration's top-K finished runs with
// an uploaded model (spec §4.8).
func previousTopCandidates(ctx workflow.Context, actx workflow.Context, in HyperSearchInput) ([]types.FineTuningParams, error) {
	var candidates []types.FineTuningParams
	if in.StartingParams != nil {
		candidates = append(candidates, *in.StartingParams)
	}
	topK := in.TopK
	if topK <= 0 {
		topK = 1
	}
	var top []types.FineTuningParams
	if err := workflow.ExecuteActivity(actx, GetTopParamsActivity, GetTopParamsInput{
		Iteration:      in.PreviousIterationName,
		N:              topK,
		HigherIsBetter: in.HigherIsBetter,
	}).Get(ctx, &top); err != nil {
		return nil, err
	}
	candidates = append(candidates, top...)
	return candidates, nil
}
