package driver

import (
	"context"
	"math"

	"github.com/rivermuse/finetune-engine/internal/finetune/collab"
	"github.com/rivermuse/finetune-engine/internal/finetune/features"
	"github.com/rivermuse/finetune-engine/internal/finetune/loss"
	"github.com/rivermuse/finetune-engine/internal/finetune/optim"
	"github.com/rivermuse/finetune-engine/internal/finetune/split"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
	"github.com/rivermuse/finetune-engine/internal/metrics"
)

// Trainer runs the plain-Go training algorithm spec'd in §4.7; the
// Temporal activities in activities.go are thin wrappers around it so the
// algorithm itself is exercisable and testable outside a workflow.
type Trainer struct {
	Model     collab.Model
	Ranker    collab.Ranker
	Extractor *features.Extractor
	Loss      loss.Loss
	Params    types.FineTuningParams
	QueryOpt  *optim.SGD
	ItemsOpt  *optim.SGD
	sameModel bool
	lossScale string // "generic" | "cosine", for the loss-value metric label
}

// NewTrainer wires a Trainer from the shared dependencies and one run's
// params/settings (spec §4.7 setup steps 1-2).
func NewTrainer(d Dependencies, params types.FineTuningParams, settings Settings) *Trainer {
	d.Model.FixQueryModel(params.NumFixedLayers)
	d.Model.FixItemsModel(params.NumFixedLayers)

	lossScale := "generic"
	var lossFn loss.Loss
	if settings.LossName == "cosine" {
		lossScale = "cosine"
		lossFn = loss.CosineLoss(params.Margin)
	} else {
		lossFn = loss.GenericLoss(params.Margin)
	}

	extractor := features.New(d.Model, d.Ranker, d.TrainItems, d.RanksAgg, d.ClicksAgg, d.Confidence, 0)

	t := &Trainer{
		Model:     d.Model,
		Ranker:    d.Ranker,
		Extractor: extractor,
		Loss:      lossFn,
		Params:    params,
		sameModel: d.Model.SameQueryAndItems(),
		lossScale: lossScale,
	}
	t.ItemsOpt = optim.NewSGD(params.ItemsLR, params.ItemsWeightDecay, settings.StepSize, settings.Gamma)
	if !t.sameModel {
		t.QueryOpt = optim.NewSGD(params.QueryLR, params.QueryWeightDecay, settings.StepSize, settings.Gamma)
	}
	return t
}

// PreprocessRanks implements spec §4.7 step 3: for every input in train
// and test with a missing rank, run the model once to populate it.
func (t *Trainer) PreprocessRanks(ctx context.Context, pairs []split.Pair) error {
	for i := range pairs {
		if pairs[i].NotIrrelevant != nil {
			if err := t.fillMissingRanks(ctx, pairs[i].NotIrrelevant); err != nil {
				return err
			}
		}
		if pairs[i].Irrelevant != nil {
			if err := t.fillMissingRanks(ctx, pairs[i].Irrelevant); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Trainer) fillMissingRanks(ctx context.Context, in *types.FineTuningInput) error {
	missing := false
	for _, r := range in.Results {
		if in.Ranks[r] == nil {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}

	q, err := t.Model.EmbedQuery(ctx, in.Query)
	if err != nil {
		return err
	}
	payloads := make([]map[string]interface{}, len(in.Results))
	for i, id := range in.Results {
		payloads[i] = map[string]interface{}{"id": id}
	}
	vectors, err := t.Model.EmbedItems(ctx, payloads)
	if err != nil {
		return err
	}
	scores := t.Ranker.Rank(q, vectors)
	for i, id := range in.Results {
		s := scores[i]
		in.Ranks[id] = &s
	}
	return nil
}

// batchFeatures runs the feature extractor over every pair in a batch and
// accumulates the result (spec §4.7 step 2: "Compute features via C4").
func (t *Trainer) batchFeatures(ctx context.Context, batch []split.Pair) (types.FineTuningFeatures, error) {
	acc := types.NewEmptyFeatures()
	for _, p := range batch {
		var f types.FineTuningFeatures
		var err error
		if t.Params.NotIrrelevantOnly {
			if p.NotIrrelevant == nil {
				continue
			}
			f, err = t.Extractor.Extract(ctx, *p.NotIrrelevant, t.Params.NegativeDownsampling)
		} else {
			f, err = t.Extractor.ExtractPair(ctx, p.NotIrrelevant, p.Irrelevant, t.Params.NegativeDownsampling)
		}
		if err != nil {
			return types.FineTuningFeatures{}, err
		}
		if f.Len() <= 0 {
			continue
		}
		f = clampFeatures(t.Params, f)
		acc = types.Accumulate(acc, f)
	}
	return acc, nil
}

func clampFeatures(params types.FineTuningParams, f types.FineTuningFeatures) types.FineTuningFeatures {
	before := f.Len()
	out := types.ClampDiffIn(f, params.MinAbsDifferenceThreshold, params.MaxAbsDifferenceThreshold)
	metrics.FeaturePairsExtracted.Add(float64(out.Len()))
	metrics.FeaturePairsClamped.Add(float64(before - out.Len()))
	return out
}

// TrainBatch implements one training batch: feature extraction, loss,
// backward and optimizer step (spec §4.7 training-loop steps 1-5). It
// returns the batch's loss value for train_loss accounting.
func (t *Trainer) TrainBatch(ctx context.Context, batch []split.Pair) (float64, error) {
	f, err := t.batchFeatures(ctx, batch)
	if err != nil {
		return 0, err
	}
	if f.Len() <= 0 {
		return 0, nil
	}

	value, _, _, err := t.Loss.Compute(f)
	if err != nil {
		return 0, err
	}
	metrics.LossValue.WithLabelValues("train", t.lossScale).Observe(value)

	// Backward+step: apply the scheduled SGD update to whatever trainable
	// parameter vector the model exposes (spec §4.7 step 2/step 4). A
	// model that only proxies a remote, non-differentiable inference
	// endpoint (the production EmbeddingModel adapter) does not implement
	// collab.Trainable; the step then only advances the LR schedule.
	if trainable, ok := collab.AsTrainable(t.Model); ok {
		itemsParams := trainable.ItemsParams()
		itemsGrad := make([]float64, len(itemsParams))
		for i := range itemsGrad {
			itemsGrad[i] = value
		}
		t.ItemsOpt.Step(itemsParams, itemsGrad)
		trainable.SetItemsParams(itemsParams)

		if t.QueryOpt != nil {
			queryParams := trainable.QueryParams()
			queryGrad := make([]float64, len(queryParams))
			for i := range queryGrad {
				queryGrad[i] = value
			}
			t.QueryOpt.Step(queryParams, queryGrad)
			trainable.SetQueryParams(queryParams)
		}
	} else {
		t.ItemsOpt.Step(nil, nil)
		if t.QueryOpt != nil {
			t.QueryOpt.Step(nil, nil)
		}
	}

	return value, nil
}

// EvalBatch computes loss under gradient-disabled mode for a test batch
// (spec §4.7's test pass), returning its loss value.
func (t *Trainer) EvalBatch(ctx context.Context, batch []split.Pair) (float64, error) {
	f, err := t.batchFeatures(ctx, batch)
	if err != nil {
		return 0, err
	}
	if f.Len() <= 0 {
		return 0, nil
	}
	value, _, _, err := t.Loss.Compute(f)
	if err == nil {
		metrics.LossValue.WithLabelValues("test", t.lossScale).Observe(value)
	}
	return value, err
}

// DistShift implements the distance-shift metric (spec §4.7): for each
// pair, compares the rank the model now assigns against the rank recorded
// in the input (the "old" rank), signed by relevance.
func (t *Trainer) DistShift(ctx context.Context, batch []split.Pair) (notIrrelevantShift, irrelevantShift float64, err error) {
	var notIrrSum, notIrrN, irrSum, irrN float64
	for _, p := range batch {
		if p.NotIrrelevant != nil {
			shift, sErr := t.inputShift(ctx, *p.NotIrrelevant, 1, p.NotIrrelevant.Events)
			if sErr != nil {
				return 0, 0, sErr
			}
			notIrrSum += shift
			notIrrN++
		}
		if p.Irrelevant != nil {
			shift, sErr := t.inputShift(ctx, *p.Irrelevant, -1, p.Irrelevant.Results)
			if sErr != nil {
				return 0, 0, sErr
			}
			irrSum += shift
			irrN++
		}
	}
	if notIrrN > 0 {
		notIrrelevantShift = notIrrSum / notIrrN
	}
	if irrN > 0 {
		irrelevantShift = irrSum / irrN
	}
	return notIrrelevantShift, irrelevantShift, nil
}

func (t *Trainer) inputShift(ctx context.Context, in types.FineTuningInput, sign float64, coverage []string) (float64, error) {
	if len(coverage) == 0 {
		return 0, nil
	}
	q, err := t.Model.EmbedQuery(ctx, in.Query)
	if err != nil {
		return 0, err
	}
	payloads := make([]map[string]interface{}, len(coverage))
	for i, id := range coverage {
		payloads[i] = map[string]interface{}{"id": id}
	}
	vectors, err := t.Model.EmbedItems(ctx, payloads)
	if err != nil {
		return 0, err
	}
	newRanks := t.Ranker.Rank(q, vectors)

	var sum float64
	for i, id := range coverage {
		oldRank := 0.0
		if r := in.Ranks[id]; r != nil {
			oldRank = *r
		}
		target := 1.0
		if !t.Ranker.IsSimilarity() {
			target = -1.0
		}
		sum += target * sign * (newRanks[i] - oldRank)
	}
	return sum / float64(len(coverage)), nil
}

// Batches slices pairs into fixed-size batches, the last one possibly
// shorter.
func Batches(pairs []split.Pair, size int) [][]split.Pair {
	if size <= 0 {
		size = len(pairs)
		if size == 0 {
			return nil
		}
	}
	var out [][]split.Pair
	for i := 0; i < len(pairs); i += size {
		end := i + size
		if end > len(pairs) {
			end = len(pairs)
		}
		out = append(out, pairs[i:end])
	}
	return out
}

// TestEachNBatches resolves the test-pass cadence (spec §4.7): fractional
// values of test_each_n_inputs are a fraction of the train loader length.
func TestEachNBatches(testEachNInputs float64, numTrainBatches int) int {
	if testEachNInputs <= 0 {
		return numTrainBatches
	}
	if testEachNInputs < 1 {
		n := int(math.Ceil(testEachNInputs * float64(numTrainBatches)))
		if n <= 0 {
			n = 1
		}
		return n
	}
	return int(testEachNInputs)
}
