package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validParams() FineTuningParams {
	return FineTuningParams{
		NumFixedLayers:            2,
		QueryLR:                   0.001,
		ItemsLR:                   0.002,
		QueryWeightDecay:          0.01,
		ItemsWeightDecay:          0.02,
		Margin:                    0.5,
		NegativeDownsampling:      0.5,
		MinAbsDifferenceThreshold: 0.01,
		MaxAbsDifferenceThreshold: 0.9,
		ExamplesOrder:             []string{"default"},
	}
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, validParams().Validate())

	bad := validParams()
	bad.QueryLR = 0
	require.Error(t, bad.Validate())

	bad = validParams()
	bad.NegativeDownsampling = 1
	require.Error(t, bad.Validate())

	bad = validParams()
	bad.ExamplesOrder = nil
	require.Error(t, bad.Validate())
}

func TestParamsID_DeterministicAndDistinct(t *testing.T) {
	a, b := validParams(), validParams()
	require.Equal(t, a.ID(), b.ID())
	require.Len(t, a.ID(), 64)

	b.Margin = 0.6
	require.NotEqual(t, a.ID(), b.ID())
}

func TestParamsMapRoundTrip(t *testing.T) {
	p := validParams()
	back, err := ParamsFromMap(p.ToMap())
	require.NoError(t, err)
	require.Equal(t, p, back)
	require.Equal(t, p.ID(), back.ID())
}
