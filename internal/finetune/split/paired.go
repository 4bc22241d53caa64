package split

import (
	"math/rand"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// Pair is one (not_irrelevant, irrelevant) element of a
// PairedFineTuningInputs dataset. Either side is nil when the dataset is
// one-sided (spec §4.4).
type Pair struct {
	NotIrrelevant *types.FineTuningInput
	Irrelevant    *types.FineTuningInput
}

// PairedFineTuningInputs partitions inputs into irrelevant/not_irrelevant,
// cycles the shorter list to align indices, optionally shuffles and caps,
// and yields aligned pairs (spec §4.4).
type PairedFineTuningInputs struct {
	Pairs []Pair
}

// PairedOptions configures NewPaired.
type PairedOptions struct {
	Shuffle     bool
	Seed        int64
	InputsCount int // > 0 truncates both lists to this length
}

// NewPaired builds the dataset shape described in spec §4.4.
func NewPaired(inputs []types.FineTuningInput, opts PairedOptions) PairedFineTuningInputs {
	var irrelevant, notIrrelevant []types.FineTuningInput
	for _, in := range inputs {
		if in.IsIrrelevant {
			irrelevant = append(irrelevant, in)
		} else {
			notIrrelevant = append(notIrrelevant, in)
		}
	}

	if opts.Shuffle {
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(len(irrelevant), func(a, b int) { irrelevant[a], irrelevant[b] = irrelevant[b], irrelevant[a] })
		rng.Shuffle(len(notIrrelevant), func(a, b int) { notIrrelevant[a], notIrrelevant[b] = notIrrelevant[b], notIrrelevant[a] })
	}

	if len(irrelevant) > 0 && len(notIrrelevant) > 0 && len(irrelevant) != len(notIrrelevant) {
		if len(irrelevant) < len(notIrrelevant) {
			irrelevant = cycleTo(irrelevant, len(notIrrelevant))
		} else {
			notIrrelevant = cycleTo(notIrrelevant, len(irrelevant))
		}
	}

	if opts.InputsCount > 0 {
		irrelevant = truncate(irrelevant, opts.InputsCount)
		notIrrelevant = truncate(notIrrelevant, opts.InputsCount)
	}

	n := min(len(irrelevant), len(notIrrelevant))
	if len(irrelevant) == 0 {
		n = len(notIrrelevant)
	}
	if len(notIrrelevant) == 0 {
		n = len(irrelevant)
	}

	pairs := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		p := Pair{}
		if i < len(notIrrelevant) {
			v := notIrrelevant[i]
			p.NotIrrelevant = &v
		}
		if i < len(irrelevant) {
			v := irrelevant[i]
			p.Irrelevant = &v
		}
		pairs = append(pairs, p)
	}
	return PairedFineTuningInputs{Pairs: pairs}
}

func cycleTo(in []types.FineTuningInput, length int) []types.FineTuningInput {
	if len(in) == 0 {
		return in
	}
	out := make([]types.FineTuningInput, length)
	for i := 0; i < length; i++ {
		out[i] = in[i%len(in)]
	}
	return out
}

func truncate(in []types.FineTuningInput, n int) []types.FineTuningInput {
	if n >= len(in) {
		return in
	}
	return in[:n]
}
