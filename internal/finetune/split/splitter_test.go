package split

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

func sharedResultInputs(n int) []types.FineTuningInput {
	inputs := make([]types.FineTuningInput, n)
	for i := range inputs {
		rank := 0.5
		inputs[i] = types.FineTuningInput{
			Results: []string{"A", "B", "C"},
			Events:  []string{"A"},
			Ranks:   map[string]*float64{"A": &rank, "B": &rank, "C": &rank},
		}
	}
	return inputs
}

func TestSplit_TopUpRule(t *testing.T) {
	inputs := sharedResultInputs(10)
	res, err := Split(inputs, Options{TestRatio: 0.3, Seed: 1})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Test), 3)
	require.LessOrEqual(t, len(res.Train), 7)
	require.Equal(t, 10, len(res.Train)+len(res.Test))
}

func TestSplit_EmptyResultsFails(t *testing.T) {
	_, err := Split(nil, Options{TestRatio: 0.2})
	require.Error(t, err)
}

func TestPaired_CyclesShorterSide(t *testing.T) {
	notIrrelevant := []types.FineTuningInput{{Results: []string{"A"}}, {Results: []string{"B"}}, {Results: []string{"C"}}}
	irrelevant := []types.FineTuningInput{{Results: []string{"X"}, IsIrrelevant: true}}

	all := append(append([]types.FineTuningInput{}, notIrrelevant...), irrelevant...)
	paired := NewPaired(all, PairedOptions{})
	require.Len(t, paired.Pairs, 3)
	for _, p := range paired.Pairs {
		require.NotNil(t, p.NotIrrelevant)
		require.NotNil(t, p.Irrelevant)
	}
}

func TestPaired_OneSidedEmpty(t *testing.T) {
	notIrrelevant := []types.FineTuningInput{{Results: []string{"A"}}}
	paired := NewPaired(notIrrelevant, PairedOptions{})
	require.Len(t, paired.Pairs, 1)
	require.NotNil(t, paired.Pairs[0].NotIrrelevant)
	require.Nil(t, paired.Pairs[0].Irrelevant)
}
