package types

import "github.com/rivermuse/finetune-engine/internal/finetune/ferrors"

// FineTuningFeatures holds the five parallel tensors produced by the
// feature extractor (spec §4.5, §8): positive/negative ranks, the +1/-1
// target, and positive/negative confidences. All five must have equal
// length at all times.
type FineTuningFeatures struct {
	PositiveRanks        []float64
	NegativeRanks        []float64
	Target               []float64
	PositiveConfidences  []float64
	NegativeConfidences  []float64
}

// NewEmptyFeatures returns a zero-length FineTuningFeatures, the identity
// element for Accumulate.
func NewEmptyFeatures() FineTuningFeatures {
	return FineTuningFeatures{}
}

// Len returns the shared tensor length, or -1 if the five tensors have
// diverged (a programming error; callers should never observe this).
func (f FineTuningFeatures) Len() int {
	n := len(f.PositiveRanks)
	if len(f.NegativeRanks) != n || len(f.Target) != n ||
		len(f.PositiveConfidences) != n || len(f.NegativeConfidences) != n {
		return -1
	}
	return n
}

// Validate enforces the all-five-tensors-equal-length invariant (spec §8).
func (f FineTuningFeatures) Validate() error {
	if f.Len() < 0 {
		return ferrors.New(ferrors.KindValidation, "fine-tuning feature tensors have diverging lengths")
	}
	return nil
}

// Accumulate concatenates b's tensors onto a copy of a's, along the batch
// dimension (spec §4.5: "Accumulation concatenates along the batch
// dimension"). It is commutative up to concatenation order (spec §8) and
// a+empty == a.
func Accumulate(a, b FineTuningFeatures) FineTuningFeatures {
	return FineTuningFeatures{
		PositiveRanks:       append(append([]float64{}, a.PositiveRanks...), b.PositiveRanks...),
		NegativeRanks:       append(append([]float64{}, a.NegativeRanks...), b.NegativeRanks...),
		Target:              append(append([]float64{}, a.Target...), b.Target...),
		PositiveConfidences: append(append([]float64{}, a.PositiveConfidences...), b.PositiveConfidences...),
		NegativeConfidences: append(append([]float64{}, a.NegativeConfidences...), b.NegativeConfidences...),
	}
}

// ClampDiffIn filters indices where |positive-negative| falls outside
// (min, max), applied uniformly to all five tensors (spec §4.5, §8).
func ClampDiffIn(f FineTuningFeatures, min, max float64) FineTuningFeatures {
	n := len(f.PositiveRanks)
	out := FineTuningFeatures{
		PositiveRanks:       make([]float64, 0, n),
		NegativeRanks:       make([]float64, 0, n),
		Target:              make([]float64, 0, n),
		PositiveConfidences: make([]float64, 0, n),
		NegativeConfidences: make([]float64, 0, n),
	}
	for i := 0; i < n; i++ {
		diff := f.PositiveRanks[i] - f.NegativeRanks[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > min && diff < max {
			out.PositiveRanks = append(out.PositiveRanks, f.PositiveRanks[i])
			out.NegativeRanks = append(out.NegativeRanks, f.NegativeRanks[i])
			out.Target = append(out.Target, f.Target[i])
			out.PositiveConfidences = append(out.PositiveConfidences, f.PositiveConfidences[i])
			out.NegativeConfidences = append(out.NegativeConfidences, f.NegativeConfidences[i])
		}
	}
	return out
}

// Truncate returns the first n entries of every tensor. Used by
// use_positive_from's sizing rules (spec §4.5).
func (f FineTuningFeatures) Truncate(n int) FineTuningFeatures {
	clip := func(s []float64) []float64 {
		if n >= len(s) {
			return append([]float64{}, s...)
		}
		return append([]float64{}, s[:n]...)
	}
	return FineTuningFeatures{
		PositiveRanks:       clip(f.PositiveRanks),
		NegativeRanks:       clip(f.NegativeRanks),
		Target:              clip(f.Target),
		PositiveConfidences: clip(f.PositiveConfidences),
		NegativeConfidences: clip(f.NegativeConfidences),
	}
}
