package features

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rivermuse/finetune-engine/internal/finetune/collab"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

type fakeModel struct {
	vectors map[string][]float64
}

func (m fakeModel) EmbedQuery(context.Context, interface{}) ([]float64, error) {
	return []float64{1}, nil
}

func (m fakeModel) EmbedItems(_ context.Context, items []map[string]interface{}) ([][]float64, error) {
	out := make([][]float64, len(items))
	for i, it := range items {
		id, _ := it["id"].(string)
		out[i] = m.vectors[id]
	}
	return out, nil
}

func (fakeModel) FixQueryModel(int) {}
func (fakeModel) FixItemsModel(int) {}
func (fakeModel) UnfixQueryModel()  {}
func (fakeModel) UnfixItemsModel()  {}

func (fakeModel) SameQueryAndItems() bool { return true }

type firstElementRanker struct{}

func (firstElementRanker) IsSimilarity() bool { return true }

func (firstElementRanker) Rank(_ []float64, items [][]float64) []float64 {
	out := make([]float64, len(items))
	for i, v := range items {
		if len(v) > 0 {
			out[i] = v[0]
		}
	}
	return out
}

type fakeLoader struct{}

func (fakeLoader) TotalCount(context.Context, map[string]interface{}) (*int, error) { return nil, nil }

func (fakeLoader) LoadItems(_ context.Context, metas []collab.DataLoaderItemMeta) ([]collab.DownloadedItem, error) {
	out := make([]collab.DownloadedItem, len(metas))
	for i, m := range metas {
		out[i] = collab.DownloadedItem{ID: m.ID, Payload: map[string]interface{}{"id": m.ID}}
	}
	return out, nil
}

func (fakeLoader) LoadAll(context.Context, int, map[string]interface{}) (<-chan []collab.DownloadedItem, error) {
	return nil, fmt.Errorf("not used in tests")
}

func ranksOf(vals map[string]float64) map[string]*float64 {
	out := make(map[string]*float64, len(vals))
	for k, v := range vals {
		v := v
		out[k] = &v
	}
	return out
}

func TestExtract_SingleClick_ProducesEqualLengthTensors(t *testing.T) {
	model := fakeModel{vectors: map[string][]float64{"A": {0.9}, "B": {0.5}, "C": {0.1}}}
	ex := New(model, firstElementRanker{}, fakeLoader{}, MeanRanksAggregator{}, MaxClicksAggregator{}, DummyConfidenceCalculator{}, 1)

	input := types.FineTuningInput{
		Results: []string{"A", "B", "C"},
		Events:  []string{"A"},
		Ranks:   ranksOf(map[string]float64{"A": 0.9, "B": 0.5, "C": 0.1}),
	}

	ft, err := ex.Extract(context.Background(), input, 1.0)
	require.NoError(t, err)
	require.Equal(t, 2, ft.Len())
	require.Equal(t, []float64{0.9, 0.9}, ft.PositiveRanks)
	require.ElementsMatch(t, []float64{0.5, 0.1}, ft.NegativeRanks)
	for _, target := range ft.Target {
		require.Equal(t, 1.0, target)
	}
}

func TestExtract_TwoClicks_ScattersOneRankPerEventGroup(t *testing.T) {
	model := fakeModel{vectors: map[string][]float64{"A": {0.9}, "B": {0.7}, "C": {0.1}}}
	ex := New(model, firstElementRanker{}, fakeLoader{}, MeanRanksAggregator{}, MaxClicksAggregator{}, DummyConfidenceCalculator{}, 1)

	input := types.FineTuningInput{
		Results: []string{"A", "B", "C"},
		Events:  []string{"A", "B"},
		Ranks:   ranksOf(map[string]float64{"A": 0.9, "B": 0.7, "C": 0.1}),
	}

	ft, err := ex.Extract(context.Background(), input, 1.0)
	require.NoError(t, err)
	// Two distinct clicked objects (A, B), one negative (C): each positive
	// group keeps its own rank rather than being collapsed into a single
	// session-wide broadcast value.
	require.Equal(t, 2, ft.Len())
	require.ElementsMatch(t, []float64{0.9, 0.7}, ft.PositiveRanks)
	require.Equal(t, []float64{0.1, 0.1}, ft.NegativeRanks)
}

func TestExtract_NoEventsFails(t *testing.T) {
	model := fakeModel{vectors: map[string][]float64{"A": {0.9}}}
	ex := New(model, firstElementRanker{}, fakeLoader{}, MeanRanksAggregator{}, MaxClicksAggregator{}, DummyConfidenceCalculator{}, 1)

	input := types.FineTuningInput{
		Results: []string{"A"},
		Ranks:   ranksOf(map[string]float64{"A": 0.9}),
	}

	_, err := ex.Extract(context.Background(), input, 1.0)
	require.Error(t, err)
}

func TestExtractPair_BorrowsPositiveFromRelevant(t *testing.T) {
	model := fakeModel{vectors: map[string][]float64{
		"A": {0.9}, "B": {0.5}, "C": {0.1}, "X": {0.3},
	}}
	ex := New(model, firstElementRanker{}, fakeLoader{}, MeanRanksAggregator{}, MaxClicksAggregator{}, DummyConfidenceCalculator{}, 1)

	notIrrelevant := &types.FineTuningInput{
		Results: []string{"A", "B"},
		Events:  []string{"A"},
		Ranks:   ranksOf(map[string]float64{"A": 0.9, "B": 0.5}),
	}
	irrelevant := &types.FineTuningInput{
		Results:      []string{"X"},
		IsIrrelevant: true,
		Ranks:        ranksOf(map[string]float64{"X": 0.3}),
	}

	ft, err := ex.ExtractPair(context.Background(), notIrrelevant, irrelevant, 1.0)
	require.NoError(t, err)
	// One pair from the relevant input (A vs B) plus one borrowed pair
	// (A's rank lent against X).
	require.Equal(t, 2, ft.Len())
	require.ElementsMatch(t, []float64{0.5, 0.3}, ft.NegativeRanks)
	require.Equal(t, []float64{0.9, 0.9}, ft.PositiveRanks)
}

func TestDownsampleNotEvents_RateBounds(t *testing.T) {
	model := fakeModel{vectors: map[string][]float64{}}
	ex := New(model, firstElementRanker{}, fakeLoader{}, MeanRanksAggregator{}, MaxClicksAggregator{}, DummyConfidenceCalculator{}, 1)

	input := types.FineTuningInput{
		Results: []string{"A", "B", "C", "D"},
		Ranks:   ranksOf(map[string]float64{"A": 0.9, "B": 0.7, "C": 0.5, "D": 0.3}),
	}
	notEvents := []string{"A", "B", "C", "D"}

	// rate 1.0 keeps every negative group.
	require.Len(t, ex.downsampleNotEvents(input, notEvents, 1.0), 4)
	// rate 0.5 keeps exactly ceil(0.5*4) = 2 groups.
	require.Len(t, ex.downsampleNotEvents(input, notEvents, 0.5), 2)
	// part ids collapse into their parent object before sampling.
	input.PartToObjectDict = map[string]string{"A": "obj", "B": "obj", "C": "obj", "D": "obj"}
	require.Len(t, ex.downsampleNotEvents(input, notEvents, 1.0), 4)
	require.Len(t, ex.downsampleNotEvents(input, notEvents, 0.5), 4) // ceil(0.5*1)=1 group = all four parts
}
