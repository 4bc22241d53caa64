package loss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

func TestGenericLoss_SanityScenario(t *testing.T) {
	// spec scenario 5: identical positive/negative rank tensors, target=+1,
	// margin=1.0, pairwise=0.2, confidences=1.0 => adjusted = -0.2+1.0 = 0.8,
	// loss = mean(sigmoid(-0.8)) ~= 0.310
	ft := types.FineTuningFeatures{
		PositiveRanks:       []float64{0.7},
		NegativeRanks:       []float64{0.5},
		Target:              []float64{1},
		PositiveConfidences: []float64{1},
		NegativeConfidences: []float64{1},
	}
	l := GenericLoss(1.0)
	value, perPair, grads, err := l.Compute(ft)
	require.NoError(t, err)
	require.Len(t, perPair, 1)
	require.InDelta(t, 0.310, value, 0.001)
	require.Len(t, grads.DPositiveRanks, 1)
	require.Len(t, grads.DNegativeRanks, 1)
}

func TestGenericLoss_SymmetricGradients(t *testing.T) {
	ft := types.FineTuningFeatures{
		PositiveRanks:       []float64{0.9, 0.2},
		NegativeRanks:       []float64{0.1, 0.8},
		Target:              []float64{1, -1},
		PositiveConfidences: []float64{1, 1},
		NegativeConfidences: []float64{1, 1},
	}
	l := GenericLoss(0.5)
	_, _, grads, err := l.Compute(ft)
	require.NoError(t, err)
	for i := range grads.DPositiveRanks {
		require.Equal(t, -grads.DPositiveRanks[i], grads.DNegativeRanks[i])
	}
}

func TestCosineLoss_SteeperThanGeneric(t *testing.T) {
	ft := types.FineTuningFeatures{
		PositiveRanks:       []float64{0.81},
		NegativeRanks:       []float64{0.80},
		Target:              []float64{1},
		PositiveConfidences: []float64{1},
		NegativeConfidences: []float64{1},
	}
	generic, _, _, err := GenericLoss(0).Compute(ft)
	require.NoError(t, err)
	cosine, _, _, err := CosineLoss(0).Compute(ft)
	require.NoError(t, err)
	require.Greater(t, math.Abs(cosine-0.5), math.Abs(generic-0.5))
}

func TestSetMargin(t *testing.T) {
	l := GenericLoss(1.0)
	require.Equal(t, 1.0, l.Margin())
	l.SetMargin(2.5)
	require.Equal(t, 2.5, l.Margin())
}

func TestCompute_EmptyFeaturesFails(t *testing.T) {
	_, _, _, err := GenericLoss(1.0).Compute(types.FineTuningFeatures{})
	require.Error(t, err)
}

func TestCompute_DivergingLengthsFails(t *testing.T) {
	ft := types.FineTuningFeatures{
		PositiveRanks: []float64{0.1, 0.2},
		NegativeRanks: []float64{0.1},
	}
	_, _, _, err := GenericLoss(1.0).Compute(ft)
	require.Error(t, err)
}
