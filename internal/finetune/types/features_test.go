package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleFeatures() FineTuningFeatures {
	return FineTuningFeatures{
		PositiveRanks:       []float64{0.9, 0.8, 0.51},
		NegativeRanks:       []float64{0.1, 0.75, 0.5},
		Target:              []float64{1, 1, 1},
		PositiveConfidences: []float64{1, 0.5, 0.9},
		NegativeConfidences: []float64{1, 0.4, 0.8},
	}
}

func TestAccumulate_EmptyIsIdentity(t *testing.T) {
	f := sampleFeatures()
	require.Equal(t, f, Accumulate(f, NewEmptyFeatures()))
	require.Equal(t, f, Accumulate(NewEmptyFeatures(), f))
}

func TestAccumulate_CommutativeUpToOrder(t *testing.T) {
	a := sampleFeatures()
	b := FineTuningFeatures{
		PositiveRanks:       []float64{0.3},
		NegativeRanks:       []float64{0.2},
		Target:              []float64{-1},
		PositiveConfidences: []float64{0.7},
		NegativeConfidences: []float64{0.6},
	}
	ab := Accumulate(a, b)
	ba := Accumulate(b, a)
	require.Equal(t, ab.Len(), ba.Len())
	require.ElementsMatch(t, ab.PositiveRanks, ba.PositiveRanks)
	require.ElementsMatch(t, ab.NegativeRanks, ba.NegativeRanks)
	require.ElementsMatch(t, ab.Target, ba.Target)
}

func TestClampDiffIn_RetainsOnlyOpenInterval(t *testing.T) {
	f := sampleFeatures()
	// |pos-neg| per index: 0.8, 0.05, 0.01
	out := ClampDiffIn(f, 0.02, 0.5)
	require.Equal(t, 1, out.Len())
	require.Equal(t, []float64{0.8}, out.PositiveRanks)
	for i := 0; i < out.Len(); i++ {
		diff := out.PositiveRanks[i] - out.NegativeRanks[i]
		if diff < 0 {
			diff = -diff
		}
		require.Greater(t, diff, 0.02)
		require.Less(t, diff, 0.5)
	}
}

func TestTruncate_ClipsAllFiveTensors(t *testing.T) {
	f := sampleFeatures()
	out := f.Truncate(2)
	require.Equal(t, 2, out.Len())
	// Truncating past the end is a copy, not an error.
	require.Equal(t, 3, f.Truncate(10).Len())
}

func TestValidate_DivergingLengths(t *testing.T) {
	f := sampleFeatures()
	f.Target = f.Target[:2]
	require.Error(t, f.Validate())
	require.Equal(t, -1, f.Len())
}
