package search

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

func testGrid() Grid {
	return Grid{
		NumFixedLayers:            []int{0, 1, 2},
		QueryLR:                   ParamRange{Min: 0.0001, Max: 0.01},
		ItemsLR:                   ParamRange{Min: 0.0001, Max: 0.01},
		QueryWeightDecay:          ParamRange{Min: 0, Max: 0.01},
		ItemsWeightDecay:          ParamRange{Min: 0, Max: 0.01},
		Margin:                    ParamRange{Min: 0.1, Max: 1.0},
		NegativeDownsampling:      ParamRange{Min: 0.1, Max: 1.0},
		MinAbsDifferenceThreshold: ParamRange{Min: 0, Max: 0.1},
		MaxAbsDifferenceThreshold: ParamRange{Min: 0.5, Max: 1.0},
		NotIrrelevantOnly:         []bool{true, false},
		ExamplesOrder:             [][]string{{"default"}},
	}
}

func TestSamplerProposeWithinGridBeforeObservations(t *testing.T) {
	s := NewSampler(testGrid(), false, 42)
	for i := 0; i < minObservations-1; i++ {
		p := s.Propose()
		require.GreaterOrEqual(t, p.QueryLR, testGrid().QueryLR.Min)
		require.LessOrEqual(t, p.QueryLR, testGrid().QueryLR.Max)
	}
}

func TestSamplerProposeAfterObservationsStaysWithinGrid(t *testing.T) {
	grid := testGrid()
	s := NewSampler(grid, false, 7)
	for i := 0; i < minObservations+candidatePool; i++ {
		p := s.Propose()
		s.Observe(Observation{Params: p, Quality: float64(i)})
	}

	for i := 0; i < 20; i++ {
		p := s.Propose()
		require.GreaterOrEqual(t, p.QueryLR, grid.QueryLR.Min)
		require.LessOrEqual(t, p.QueryLR, grid.QueryLR.Max)
		require.GreaterOrEqual(t, p.Margin, grid.Margin.Min)
		require.LessOrEqual(t, p.Margin, grid.Margin.Max)
	}
}

func TestSamplerDeterministicGivenSameSeed(t *testing.T) {
	grid := testGrid()
	a := NewSampler(grid, true, 99)
	b := NewSampler(grid, true, 99)

	for i := 0; i < minObservations+2; i++ {
		pa := a.Propose()
		pb := b.Propose()
		require.Equal(t, pa, pb)
		a.Observe(Observation{Params: pa, Quality: float64(i)})
		b.Observe(Observation{Params: pb, Quality: float64(i)})
	}
}

func TestSplitGoodBadOrdersByDirection(t *testing.T) {
	s := NewSampler(testGrid(), true, 1)
	s.observations = []Observation{
		{Params: types.FineTuningParams{QueryLR: 0.1}, Quality: 0.2},
		{Params: types.FineTuningParams{QueryLR: 0.2}, Quality: 0.9},
		{Params: types.FineTuningParams{QueryLR: 0.3}, Quality: 0.5},
		{Params: types.FineTuningParams{QueryLR: 0.4}, Quality: 0.1},
	}
	good, bad := s.splitGoodBad()
	require.Equal(t, 0.9, good[0].Quality)
	require.Len(t, good, 2)
	require.Len(t, bad, 2)
	require.Equal(t, 0.1, bad[len(bad)-1].Quality)
}
