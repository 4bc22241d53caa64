// Package split implements C3 (the train/test splitter) and the
// PairedFineTuningInputs dataset shape it produces (spec §4.3, §4.4).
package split

import (
	"math/rand"
	"sort"

	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// QueryAugmenter produces additional inputs from one input with a
// transformed query; results and ranks are left unchanged (spec §4.3
// step 6).
type QueryAugmenter interface {
	Augment(input types.FineTuningInput) []types.FineTuningInput
}

// Options configures Split.
type Options struct {
	TestRatio float64 // default 0.2, must be in (0,1)
	Shuffle   bool
	Seed      int64
	Augmenter QueryAugmenter // optional
}

// Result is the train/test split output.
type Result struct {
	Train []types.FineTuningInput
	Test  []types.FineTuningInput
}

// Split implements spec §4.3's algorithm, steps 1-6.
func Split(inputs []types.FineTuningInput, opts Options) (Result, error) {
	if opts.TestRatio <= 0 {
		opts.TestRatio = 0.2
	}
	if opts.TestRatio >= 1 {
		return Result{}, ferrors.New(ferrors.KindValidation, "test_ratio must be in (0,1)")
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	// Step 1: collect all result ids.
	allIDs := make(map[string]struct{})
	for _, in := range inputs {
		for _, r := range in.Results {
			allIDs[r] = struct{}{}
		}
	}
	if len(allIDs) == 0 {
		return Result{}, ferrors.New(ferrors.KindValidation, "no result ids across inputs")
	}

	// Step 2: sample a deterministic subset of size ceil(test_ratio*|all_ids|).
	idList := make([]string, 0, len(allIDs))
	for id := range allIDs {
		idList = append(idList, id)
	}
	sort.Strings(idList)
	testSize := ceilFrac(float64(len(idList)), opts.TestRatio)
	perm := rng.Perm(len(idList))
	testIDSet := make(map[string]struct{}, testSize)
	for i := 0; i < testSize && i < len(perm); i++ {
		testIDSet[idList[perm[i]]] = struct{}{}
	}

	// Step 3: assign by overlap.
	var train, test []types.FineTuningInput
	inTest := make([]bool, len(inputs))
	assigned := make([]bool, len(inputs))
	for i, in := range inputs {
		if len(in.Results) == 0 {
			continue
		}
		overlap := 0
		for _, r := range in.Results {
			if _, ok := testIDSet[r]; ok {
				overlap++
			}
		}
		ratio := float64(overlap) / float64(len(in.Results))
		assigned[i] = true
		if ratio > 0.5 {
			inTest[i] = true
		}
	}

	// Step 4: top-up rule.
	targetTest := ceilFrac(float64(len(inputs)), opts.TestRatio)
	testCount := 0
	for i := range inputs {
		if assigned[i] && inTest[i] {
			testCount++
		}
	}
	if testCount < targetTest {
		candidates := make([]int, 0, len(inputs))
		for i := range inputs {
			if assigned[i] && !inTest[i] {
				candidates = append(candidates, i)
			}
		}
		rng.Shuffle(len(candidates), func(a, b int) { candidates[a], candidates[b] = candidates[b], candidates[a] })
		need := targetTest - testCount
		for i := 0; i < need && i < len(candidates); i++ {
			inTest[candidates[i]] = true
		}
	}

	// Step 5: book-keeping failure path -> default to train.
	for i := range inputs {
		if !assigned[i] {
			assigned[i] = true
			inTest[i] = false
		}
	}

	for i, in := range inputs {
		if inTest[i] {
			test = append(test, in)
		} else {
			train = append(train, in)
		}
	}

	// Step 6: optional query augmentation.
	if opts.Augmenter != nil {
		train = augment(train, opts.Augmenter)
		test = augment(test, opts.Augmenter)
	}

	if opts.Shuffle {
		shuffleInputs(rng, train)
		shuffleInputs(rng, test)
	}

	return Result{Train: train, Test: test}, nil
}

func augment(inputs []types.FineTuningInput, aug QueryAugmenter) []types.FineTuningInput {
	out := make([]types.FineTuningInput, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, in)
		out = append(out, aug.Augment(in)...)
	}
	return out
}

func shuffleInputs(rng *rand.Rand, inputs []types.FineTuningInput) {
	rng.Shuffle(len(inputs), func(a, b int) { inputs[a], inputs[b] = inputs[b], inputs[a] })
}

// ceilFrac computes ceil(n * frac) as an int, matching the spec's repeated
// ceil(ratio * count) sizing rule.
func ceilFrac(n, frac float64) int {
	v := n * frac
	i := int(v)
	if float64(i) < v {
		i++
	}
	return i
}
