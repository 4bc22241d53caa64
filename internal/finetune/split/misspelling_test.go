package split

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

func TestMisspellingAugmenter_OneVariantPerErrorRate(t *testing.T) {
	aug := NewMisspellingAugmenter([]float64{0.1, 0.2}, rand.New(rand.NewSource(7)))

	input := types.FineTuningInput{
		Query:   types.NewTextQuery("red running shoes", nil),
		Results: []string{"A"},
	}

	variants := aug.Augment(input)
	require.Len(t, variants, 2)
	for _, v := range variants {
		require.Equal(t, types.QueryKindText, v.Query.Kind)
		require.Equal(t, input.Results, v.Results)
	}
}

func TestMisspellingAugmenter_SkipsNonTextQueries(t *testing.T) {
	aug := NewMisspellingAugmenter(nil, rand.New(rand.NewSource(1)))
	input := types.FineTuningInput{Query: types.NewImageQuery([]byte{1, 2, 3})}
	require.Nil(t, aug.Augment(input))
}
