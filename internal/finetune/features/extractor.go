// Package features implements the ranking feature extractor (C4, spec
// §4.5): given a FineTuningInput (or a relevant/irrelevant pair of them)
// and an items collaborator, it produces a FineTuningFeatures batch of
// positive/negative ranks, confidences and targets, with negative
// downsampling and subitem aggregation at object granularity.
package features

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/rivermuse/finetune-engine/internal/finetune/collab"
	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// Extractor holds the collaborators and pluggable aggregation strategy the
// per-input procedure needs (spec §4.5).
type Extractor struct {
	Model      collab.Model
	Ranker     collab.Ranker
	Loader     collab.DataLoader
	RanksAgg   RanksAggregator
	ClicksAgg  ClicksAggregator
	Confidence ConfidenceCalculator
	Rand       *rand.Rand
}

func New(model collab.Model, ranker collab.Ranker, loader collab.DataLoader, ranksAgg RanksAggregator, clicksAgg ClicksAggregator, confidence ConfidenceCalculator, seed int64) *Extractor {
	return &Extractor{
		Model: model, Ranker: ranker, Loader: loader,
		RanksAgg: ranksAgg, ClicksAgg: clicksAgg, Confidence: confidence,
		Rand: rand.New(rand.NewSource(seed)),
	}
}

// partial is the per-input intermediate result before toFeatures scatters
// each event group's rank/confidence against each non-event group's (or,
// for an irrelevant input with no event groups, leaves the positive side
// empty awaiting use_positive_from borrowing - spec §4.5 pair mode).
type partial struct {
	positiveGroupRanks  []float64
	positiveConfidences []float64
	negativeRanks       []float64
	negativeConfidences []float64
	isSimilarity        bool
}

func groupByObject(input types.FineTuningInput, ids []string) (order []string, members map[string][]string) {
	members = make(map[string][]string)
	for _, id := range ids {
		obj := input.GetObjectID(id)
		if _, ok := members[obj]; !ok {
			order = append(order, obj)
		}
		members[obj] = append(members[obj], id)
	}
	return order, members
}

// downsampleNotEvents groups notEvents by object id and samples
// ceil(rate * |groups|) groups uniformly without replacement, returning
// the union of their ids in original order (spec §4.5 step 1).
func (e *Extractor) downsampleNotEvents(input types.FineTuningInput, notEvents []string, rate float64) []string {
	order, members := groupByObject(input, notEvents)
	numGroups := len(order)
	if numGroups == 0 {
		return nil
	}
	if rate <= 0 {
		rate = 1
	}
	keep := int(math.Ceil(rate * float64(numGroups)))
	if keep >= numGroups {
		return notEvents
	}
	if keep <= 0 {
		return nil
	}

	indices := e.Rand.Perm(numGroups)[:keep]
	selected := make(map[int]struct{}, keep)
	for _, idx := range indices {
		selected[idx] = struct{}{}
	}

	var out []string
	for i, obj := range order {
		if _, ok := selected[i]; ok {
			out = append(out, members[obj]...)
		}
	}
	return out
}

// computePartial runs steps 1-4 of the per-input procedure (spec §4.5)
// against one FineTuningInput.
func (e *Extractor) computePartial(ctx context.Context, input types.FineTuningInput, negativeDownsampling float64) (partial, error) {
	eventSet := make(map[string]struct{}, len(input.Events))
	for _, ev := range input.Events {
		eventSet[ev] = struct{}{}
	}

	downsampledNotEvents := e.downsampleNotEvents(input, input.NotEvents(), negativeDownsampling)

	used := make([]string, 0, len(input.Events)+len(downsampledNotEvents))
	used = append(used, input.Events...)
	used = append(used, downsampledNotEvents...)
	if len(used) == 0 {
		return partial{isSimilarity: e.Ranker.IsSimilarity()}, nil
	}

	groupOrder, groupMembers := groupByObject(input, used)

	aggregatedRanks := make([]float64, len(groupOrder))
	aggregatedClicks := make([]float64, len(groupOrder))
	groupIsPositive := make([]bool, len(groupOrder))
	for gi, obj := range groupOrder {
		members := groupMembers[obj]
		ranks := make([]float64, len(members))
		clicks := make([]float64, len(members))
		for mi, id := range members {
			r := input.Ranks[id]
			if r == nil {
				return partial{}, ferrors.New(ferrors.KindValidation, "missing rank for result id "+id+" during feature extraction")
			}
			ranks[mi] = *r
			if _, ok := eventSet[id]; ok {
				clicks[mi] = 1
				groupIsPositive[gi] = true
			}
		}
		aggregatedRanks[gi] = e.RanksAgg.Aggregate(ranks, false)
		aggregatedClicks[gi] = e.ClicksAgg.Aggregate(clicks)
	}

	confidencesPerGroup := e.Confidence.Calculate(aggregatedRanks, aggregatedClicks)

	q, err := e.Model.EmbedQuery(ctx, input.Query)
	if err != nil {
		return partial{}, fmt.Errorf("features: embed query: %w", err)
	}

	payloadByID, err := e.loadPayloads(ctx, used)
	if err != nil {
		return partial{}, err
	}

	var posRanks, posConf, negRanks, negConf []float64
	for gi, obj := range groupOrder {
		members := groupMembers[obj]
		vectors := make([][]float64, len(members))
		for mi, id := range members {
			vectors[mi] = payloadByID[id].vector
		}
		scores := e.Ranker.Rank(q, vectors)
		groupRank := e.RanksAgg.Aggregate(scores, true)

		if groupIsPositive[gi] {
			posRanks = append(posRanks, groupRank)
			posConf = append(posConf, confidencesPerGroup[gi])
		} else {
			negRanks = append(negRanks, groupRank)
			negConf = append(negConf, confidencesPerGroup[gi])
		}
	}

	return partial{
		positiveGroupRanks:  posRanks,
		positiveConfidences: posConf,
		negativeRanks:       negRanks,
		negativeConfidences: negConf,
		isSimilarity:        e.Ranker.IsSimilarity(),
	}, nil
}

type embeddedItem struct {
	vector []float64
}

func (e *Extractor) loadPayloads(ctx context.Context, ids []string) (map[string]embeddedItem, error) {
	metas := make([]collab.DataLoaderItemMeta, len(ids))
	for i, id := range ids {
		metas[i] = collab.DataLoaderItemMeta{ID: id}
	}
	downloaded, err := e.Loader.LoadItems(ctx, metas)
	if err != nil {
		return nil, fmt.Errorf("features: load items: %w", err)
	}
	payloadByID := make(map[string]map[string]interface{}, len(downloaded))
	for _, d := range downloaded {
		payloadByID[d.ID] = d.Payload
	}

	payloads := make([]map[string]interface{}, len(ids))
	for i, id := range ids {
		payloads[i] = payloadByID[id]
	}
	vectors, err := e.Model.EmbedItems(ctx, payloads)
	if err != nil {
		return nil, fmt.Errorf("features: embed items: %w", err)
	}

	out := make(map[string]embeddedItem, len(ids))
	for i, id := range ids {
		out[id] = embeddedItem{vector: vectors[i]}
	}
	return out, nil
}

// toFeatures scatters each event group's aggregated rank/confidence back
// into positive_ranks/positive_confidences, one entry per event group (spec
// §4.5 step 4: "Scatter back into positive_ranks (for event groups) and
// negative_ranks (for non-event groups)"), paired against every (downsampled)
// non-event group extracted alongside it. With exactly one event group this
// reduces to the familiar single-positive-broadcast-over-negatives shape;
// with several distinct clicked objects, each keeps its own rank instead of
// being collapsed into one session-wide value.
func (e *Extractor) toFeatures(p partial) types.FineTuningFeatures {
	n := len(p.negativeRanks)
	targetVal := -1.0
	if p.isSimilarity {
		targetVal = 1.0
	}

	if len(p.positiveGroupRanks) == 0 {
		// No event groups: this partial needs a borrowed positive side
		// (spec §4.5 pair mode); leave positive tensors empty here.
		return types.FineTuningFeatures{
			NegativeRanks:       append([]float64{}, p.negativeRanks...),
			NegativeConfidences: append([]float64{}, p.negativeConfidences...),
			Target:              repeat(targetVal, n),
		}
	}

	m := len(p.positiveGroupRanks)
	out := types.FineTuningFeatures{
		PositiveRanks:       make([]float64, 0, m*n),
		NegativeRanks:       make([]float64, 0, m*n),
		Target:              make([]float64, 0, m*n),
		PositiveConfidences: make([]float64, 0, m*n),
		NegativeConfidences: make([]float64, 0, m*n),
	}
	for gi := range p.positiveGroupRanks {
		for ni := range p.negativeRanks {
			out.PositiveRanks = append(out.PositiveRanks, p.positiveGroupRanks[gi])
			out.PositiveConfidences = append(out.PositiveConfidences, p.positiveConfidences[gi])
			out.NegativeRanks = append(out.NegativeRanks, p.negativeRanks[ni])
			out.NegativeConfidences = append(out.NegativeConfidences, p.negativeConfidences[ni])
			out.Target = append(out.Target, targetVal)
		}
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Extract computes features for one standalone (non-pair-mode) input. The
// input must have at least one event (spec's is_irrelevant = false);
// otherwise there is no positive side to pair negatives against and the
// caller should use ExtractPair instead.
func (e *Extractor) Extract(ctx context.Context, input types.FineTuningInput, negativeDownsampling float64) (types.FineTuningFeatures, error) {
	p, err := e.computePartial(ctx, input, negativeDownsampling)
	if err != nil {
		return types.FineTuningFeatures{}, err
	}
	if len(p.positiveGroupRanks) == 0 {
		return types.FineTuningFeatures{}, ferrors.New(ferrors.KindValidation, "no positive (event) groups in standalone input; use ExtractPair")
	}
	return e.toFeatures(p), nil
}

// ExtractPair implements spec §4.5's pair mode: compute each side
// separately, then borrow the relevant side's positive ranks into the
// irrelevant side via use_positive_from's sizing rules, and accumulate.
func (e *Extractor) ExtractPair(ctx context.Context, notIrrelevant, irrelevant *types.FineTuningInput, negativeDownsampling float64) (types.FineTuningFeatures, error) {
	var relevantFeatures types.FineTuningFeatures
	haveRelevant := false
	if notIrrelevant != nil {
		f, err := e.Extract(ctx, *notIrrelevant, negativeDownsampling)
		if err != nil {
			return types.FineTuningFeatures{}, err
		}
		relevantFeatures = f
		haveRelevant = true
	}

	if irrelevant == nil {
		return relevantFeatures, nil
	}

	irrPartial, err := e.computePartial(ctx, *irrelevant, negativeDownsampling)
	if err != nil {
		return types.FineTuningFeatures{}, err
	}
	irrFeatures := e.toFeatures(irrPartial)

	if !haveRelevant {
		// No relevant counterpart to borrow from; nothing usable.
		return types.FineTuningFeatures{}, nil
	}

	borrowed := usePositiveFrom(irrFeatures, relevantFeatures)
	return types.Accumulate(relevantFeatures, borrowed), nil
}

// usePositiveFrom borrows other's positive ranks as f's positive side,
// paired against f's negatives, applying spec §4.5's truncation sizing
// rules. The borrowed positive ranks also serve as the positive
// confidences.
func usePositiveFrom(f, other types.FineTuningFeatures) types.FineTuningFeatures {
	nNeg := len(f.NegativeRanks)
	nOtherPos := len(other.PositiveRanks)

	switch {
	case nNeg < nOtherPos:
		other = other.Truncate(nNeg)
	case nNeg > nOtherPos:
		f = truncateNegativeSide(f, nOtherPos)
	}

	return types.FineTuningFeatures{
		PositiveRanks:       append([]float64{}, other.PositiveRanks...),
		NegativeRanks:       f.NegativeRanks,
		Target:              f.Target,
		PositiveConfidences: append([]float64{}, other.PositiveRanks...),
		NegativeConfidences: f.NegativeConfidences,
	}
}

func truncateNegativeSide(f types.FineTuningFeatures, n int) types.FineTuningFeatures {
	clip := func(s []float64) []float64 {
		if n >= len(s) {
			return s
		}
		return append([]float64{}, s[:n]...)
	}
	return types.FineTuningFeatures{
		PositiveRanks:       f.PositiveRanks,
		NegativeRanks:       clip(f.NegativeRanks),
		Target:              clip(f.Target),
		PositiveConfidences: f.PositiveConfidences,
		NegativeConfidences: clip(f.NegativeConfidences),
	}
}
