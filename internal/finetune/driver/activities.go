package driver

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/rivermuse/finetune-engine/internal/finetune/collab"
	"github.com/rivermuse/finetune-engine/internal/metrics"
	"github.com/rivermuse/finetune-engine/internal/registry"
	"github.com/rivermuse/finetune-engine/internal/tracing"
)

// RunEpochActivity runs one full epoch over the run's train loader,
// including the periodic test-pass cadence (spec §4.7's training loop),
// heartbeating at each batch boundary so the enclosing workflow stays
// cooperatively cancellable (spec §5).
func RunEpochActivity(ctx context.Context, in RunEpochInput) (RunEpochOutput, error) {
	ctx, span := tracing.StartEpochSpan(ctx, in.Spec.RunName, in.EpochNum)
	defer span.End()

	d := current()
	trainer := NewTrainer(d, in.Spec.Params, in.Spec.Settings)

	if in.EpochNum == 0 {
		if err := trainer.PreprocessRanks(ctx, in.Spec.Train.Pairs); err != nil {
			return RunEpochOutput{}, err
		}
		if err := trainer.PreprocessRanks(ctx, in.Spec.Test.Pairs); err != nil {
			return RunEpochOutput{}, err
		}
	}

	trainBatches := Batches(in.Spec.Train.Pairs, in.Spec.Settings.BatchSize)
	testEvery := TestEachNBatches(in.Spec.Settings.TestEachNInputs, len(trainBatches))

	var lossSum, notIrrSum, irrSum float64
	var lossN, shiftN int
	out := RunEpochOutput{}

	for bi, batch := range trainBatches {
		activity.RecordHeartbeat(ctx, bi)

		value, err := trainer.TrainBatch(ctx, batch)
		if err != nil {
			return RunEpochOutput{}, err
		}
		lossSum += value
		lossN++

		notIrr, irr, err := trainer.DistShift(ctx, batch)
		if err == nil {
			notIrrSum += notIrr
			irrSum += irr
			shiftN++
		}

		if testEvery > 0 && (bi+1)%testEvery == 0 {
			testOut, err := RunTestPassActivity(ctx, RunTestPassInput{Spec: in.Spec})
			if err != nil {
				return RunEpochOutput{}, err
			}
			out.Metrics.TestLoss = testOut.TestLoss
			out.Metrics.TestNotIrrelevantShift = testOut.TestNotIrrelevantShift
			out.Metrics.TestIrrelevantShift = testOut.TestIrrelevantShift
			out.Metrics.RanTestPass = true
		}
	}

	if lossN > 0 {
		out.Metrics.TrainLoss = lossSum / float64(lossN)
	}
	if shiftN > 0 {
		out.Metrics.TrainNotIrrelevantShift = notIrrSum / float64(shiftN)
		out.Metrics.TrainIrrelevantShift = irrSum / float64(shiftN)
	}

	metrics.FineTuningTrainLoss.WithLabelValues(in.Spec.Iteration.Name(), in.Spec.RunName).Set(out.Metrics.TrainLoss)
	return out, nil
}

// RunTestPassActivity runs a full pass over the test loader under
// gradient-disabled mode, reporting the arithmetic mean of each metric
// with the test_ prefix (spec §4.7).
func RunTestPassActivity(ctx context.Context, in RunTestPassInput) (RunTestPassOutput, error) {
	d := current()
	trainer := NewTrainer(d, in.Spec.Params, in.Spec.Settings)

	testBatches := Batches(in.Spec.Test.Pairs, in.Spec.Settings.BatchSize)
	var lossSum, notIrrSum, irrSum float64
	var lossN, shiftN int

	for _, batch := range testBatches {
		value, err := trainer.EvalBatch(ctx, batch)
		if err != nil {
			return RunTestPassOutput{}, err
		}
		lossSum += value
		lossN++

		notIrr, irr, err := trainer.DistShift(ctx, batch)
		if err == nil {
			notIrrSum += notIrr
			irrSum += irr
			shiftN++
		}
	}

	out := RunTestPassOutput{}
	if lossN > 0 {
		out.TestLoss = lossSum / float64(lossN)
	}
	if shiftN > 0 {
		out.TestNotIrrelevantShift = notIrrSum / float64(shiftN)
		out.TestIrrelevantShift = irrSum / float64(shiftN)
	}
	metrics.FineTuningTestLoss.WithLabelValues(in.Spec.Iteration.Name(), in.Spec.RunName).Set(out.TestLoss)
	return out, nil
}

// ElectBestModelActivity implements spec §4.7's best-model election: ask
// C8 for the current best quality among finished, uploaded runs; if this
// run beats it, upload the model and mark it elected - C8's save_model
// then requests deletion of the superseded artifact (spec §4.9).
func ElectBestModelActivity(ctx context.Context, in ElectBestModelInput) (ElectBestModelOutput, error) {
	d := current()
	if d.Registry == nil {
		return ElectBestModelOutput{}, nil
	}

	// Record this run's quality regardless of whether it has a local
	// artifact to persist, so get_top_params can still rank it (spec §4.9).
	if _, err := d.Registry.SaveMetric(ctx, in.Iteration, in.RunName, "main_metric", in.MainMetric, registry.MetricSpec{Kind: registry.AccumMean}, 0); err != nil {
		return ElectBestModelOutput{}, err
	}

	serializer, ok := collab.AsModelSerializer(d.Model)
	if !ok {
		// Nothing local to persist (e.g. a remote-inference-only model);
		// it can never be elected best.
		return ElectBestModelOutput{}, nil
	}

	r, err := serializer.SaveModel(ctx)
	if err != nil {
		return ElectBestModelOutput{}, err
	}
	defer r.Close()

	elected, err := d.Registry.SaveModel(ctx, in.Iteration, in.RunName, r, in.MainMetric, in.HigherIsBetter, true)
	if err != nil {
		return ElectBestModelOutput{}, err
	}
	return ElectBestModelOutput{Elected: elected}, nil
}
