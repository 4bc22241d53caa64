package search

import (
	"math"
	"math/rand"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// ParamRange bounds one continuous hyperparameter dimension of the
// user-supplied grid (spec §4.8's "grid").
type ParamRange struct {
	Min, Max float64
}

func (r ParamRange) sample(rng *rand.Rand) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

func (r ParamRange) clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Grid is the initial-iteration search space (spec §4.8 mode 1): ranges
// for the continuous hyperparameters plus small discrete choice sets for
// the rest of FineTuningParams.
type Grid struct {
	NumFixedLayers            []int
	QueryLR                   ParamRange
	ItemsLR                   ParamRange
	QueryWeightDecay          ParamRange
	ItemsWeightDecay          ParamRange
	Margin                    ParamRange
	NegativeDownsampling      ParamRange
	MinAbsDifferenceThreshold ParamRange
	MaxAbsDifferenceThreshold ParamRange
	NotIrrelevantOnly         []bool
	ExamplesOrder             [][]string
}

// Observation is one completed trial's parameters and the quality they
// achieved, fed back into the sampler for the next proposal.
type Observation struct {
	Params  types.FineTuningParams
	Quality float64
}

// Sampler is a light, self-contained TPE-style proposer (spec §4.8: "TPE
// search over a user-supplied grid"). No pack dependency offers a
// Bayesian/TPE optimizer (see DESIGN.md); this is a deliberately small
// approximation: below minObservations it samples uniformly at random
// (cold start), and above that it splits prior observations into a
// "good" and "bad" half by quality, draws candidates around the good
// half's empirical distribution, and keeps the candidate most likely
// under the good distribution relative to the bad one - the same
// good/bad density-ratio idea real TPE uses, without a general
// kernel-density-estimation machinery.
type Sampler struct {
	rng          *rand.Rand
	grid         Grid
	higherBetter bool
	observations []Observation
}

const (
	minObservations = 4
	candidatePool   = 24
)

// NewSampler builds a Sampler over grid, seeded deterministically (the
// caller supplies the seed so an Activity replay stays reproducible).
func NewSampler(grid Grid, higherIsBetter bool, seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed)), grid: grid, higherBetter: higherIsBetter}
}

// Observe records one completed trial's outcome for future proposals.
func (s *Sampler) Observe(obs Observation) {
	s.observations = append(s.observations, obs)
}

// Propose samples the next parameter set to try.
func (s *Sampler) Propose() types.FineTuningParams {
	if len(s.observations) < minObservations {
		return s.randomParams()
	}
	good, bad := s.splitGoodBad()

	best := s.randomParams()
	bestScore := math.Inf(-1)
	for i := 0; i < candidatePool; i++ {
		cand := s.randomNeighbor(good)
		score := densityRatio(cand, good, bad)
		if score > bestScore {
			best, bestScore = cand, score
		}
	}
	return best
}

func (s *Sampler) randomParams() types.FineTuningParams {
	p := types.FineTuningParams{
		NumFixedLayers:            pickInt(s.rng, s.grid.NumFixedLayers, 0),
		QueryLR:                   s.grid.QueryLR.sample(s.rng),
		ItemsLR:                   s.grid.ItemsLR.sample(s.rng),
		QueryWeightDecay:          s.grid.QueryWeightDecay.sample(s.rng),
		ItemsWeightDecay:          s.grid.ItemsWeightDecay.sample(s.rng),
		Margin:                    s.grid.Margin.sample(s.rng),
		NotIrrelevantOnly:         pickBool(s.rng, s.grid.NotIrrelevantOnly),
		NegativeDownsampling:      s.grid.NegativeDownsampling.sample(s.rng),
		MinAbsDifferenceThreshold: s.grid.MinAbsDifferenceThreshold.sample(s.rng),
		MaxAbsDifferenceThreshold: s.grid.MaxAbsDifferenceThreshold.sample(s.rng),
		ExamplesOrder:             pickOrder(s.rng, s.grid.ExamplesOrder),
	}
	return p
}

// randomNeighbor draws a candidate from a gaussian centered on the good
// set's mean for each continuous field, clamped back into the grid.
func (s *Sampler) randomNeighbor(good []Observation) types.FineTuningParams {
	if len(good) == 0 {
		return s.randomParams()
	}
	mean, std := meanStd(good)
	jitter := func(r ParamRange, m, sd float64) float64 {
		if sd <= 0 {
			sd = (r.Max - r.Min) * 0.1
		}
		return r.clamp(m + s.rng.NormFloat64()*sd)
	}
	base := s.randomParams()
	base.QueryLR = jitter(s.grid.QueryLR, mean.QueryLR, std.QueryLR)
	base.ItemsLR = jitter(s.grid.ItemsLR, mean.ItemsLR, std.ItemsLR)
	base.QueryWeightDecay = jitter(s.grid.QueryWeightDecay, mean.QueryWeightDecay, std.QueryWeightDecay)
	base.ItemsWeightDecay = jitter(s.grid.ItemsWeightDecay, mean.ItemsWeightDecay, std.ItemsWeightDecay)
	base.Margin = jitter(s.grid.Margin, mean.Margin, std.Margin)
	base.NegativeDownsampling = jitter(s.grid.NegativeDownsampling, mean.NegativeDownsampling, std.NegativeDownsampling)
	base.MinAbsDifferenceThreshold = jitter(s.grid.MinAbsDifferenceThreshold, mean.MinAbsDifferenceThreshold, std.MinAbsDifferenceThreshold)
	base.MaxAbsDifferenceThreshold = jitter(s.grid.MaxAbsDifferenceThreshold, mean.MaxAbsDifferenceThreshold, std.MaxAbsDifferenceThreshold)
	return base
}

func (s *Sampler) splitGoodBad() (good, bad []Observation) {
	sorted := append([]Observation(nil), s.observations...)
	// simple insertion sort: observation counts stay small (<= a few
	// hundred trials per iteration in practice).
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			lessGood := sorted[j].Quality > sorted[j-1].Quality
			if !s.higherBetter {
				lessGood = sorted[j].Quality < sorted[j-1].Quality
			}
			if lessGood {
				sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			} else {
				break
			}
		}
	}
	cut := len(sorted) / 2
	if cut == 0 {
		cut = 1
	}
	return sorted[:cut], sorted[cut:]
}

// densityRatio scores a candidate by how much more likely it is under
// the good set's gaussian than the bad set's - the TPE acquisition
// function, evaluated only over QueryLR, ItemsLR, Margin and
// NegativeDownsampling (the weight decays and clamp thresholds do not
// enter the score).
func densityRatio(cand types.FineTuningParams, good, bad []Observation) float64 {
	gm, gs := meanStd(good)
	bm, bs := meanStd(bad)
	logGood := gaussianLogPDF(cand, gm, gs)
	logBad := gaussianLogPDF(cand, bm, bs)
	return logGood - logBad
}

func gaussianLogPDF(p types.FineTuningParams, mean, std types.FineTuningParams) float64 {
	term := func(x, m, sd float64) float64 {
		if sd <= 0 {
			sd = 1e-6
		}
		z := (x - m) / sd
		return -0.5*z*z - math.Log(sd)
	}
	return term(p.QueryLR, mean.QueryLR, std.QueryLR) +
		term(p.ItemsLR, mean.ItemsLR, std.ItemsLR) +
		term(p.Margin, mean.Margin, std.Margin) +
		term(p.NegativeDownsampling, mean.NegativeDownsampling, std.NegativeDownsampling)
}

func meanStd(obs []Observation) (mean, std types.FineTuningParams) {
	n := float64(len(obs))
	if n == 0 {
		return
	}
	for _, o := range obs {
		mean.QueryLR += o.Params.QueryLR
		mean.ItemsLR += o.Params.ItemsLR
		mean.QueryWeightDecay += o.Params.QueryWeightDecay
		mean.ItemsWeightDecay += o.Params.ItemsWeightDecay
		mean.Margin += o.Params.Margin
		mean.NegativeDownsampling += o.Params.NegativeDownsampling
		mean.MinAbsDifferenceThreshold += o.Params.MinAbsDifferenceThreshold
		mean.MaxAbsDifferenceThreshold += o.Params.MaxAbsDifferenceThreshold
	}
	mean.QueryLR /= n
	mean.ItemsLR /= n
	mean.QueryWeightDecay /= n
	mean.ItemsWeightDecay /= n
	mean.Margin /= n
	mean.NegativeDownsampling /= n
	mean.MinAbsDifferenceThreshold /= n
	mean.MaxAbsDifferenceThreshold /= n

	sq := func(x float64) float64 { return x * x }
	for _, o := range obs {
		std.QueryLR += sq(o.Params.QueryLR - mean.QueryLR)
		std.ItemsLR += sq(o.Params.ItemsLR - mean.ItemsLR)
		std.QueryWeightDecay += sq(o.Params.QueryWeightDecay - mean.QueryWeightDecay)
		std.ItemsWeightDecay += sq(o.Params.ItemsWeightDecay - mean.ItemsWeightDecay)
		std.Margin += sq(o.Params.Margin - mean.Margin)
		std.NegativeDownsampling += sq(o.Params.NegativeDownsampling - mean.NegativeDownsampling)
		std.MinAbsDifferenceThreshold += sq(o.Params.MinAbsDifferenceThreshold - mean.MinAbsDifferenceThreshold)
		std.MaxAbsDifferenceThreshold += sq(o.Params.MaxAbsDifferenceThreshold - mean.MaxAbsDifferenceThreshold)
	}
	std.QueryLR = math.Sqrt(std.QueryLR / n)
	std.ItemsLR = math.Sqrt(std.ItemsLR / n)
	std.QueryWeightDecay = math.Sqrt(std.QueryWeightDecay / n)
	std.ItemsWeightDecay = math.Sqrt(std.ItemsWeightDecay / n)
	std.Margin = math.Sqrt(std.Margin / n)
	std.NegativeDownsampling = math.Sqrt(std.NegativeDownsampling / n)
	std.MinAbsDifferenceThreshold = math.Sqrt(std.MinAbsDifferenceThreshold / n)
	std.MaxAbsDifferenceThreshold = math.Sqrt(std.MaxAbsDifferenceThreshold / n)
	return
}

func pickInt(rng *rand.Rand, choices []int, fallback int) int {
	if len(choices) == 0 {
		return fallback
	}
	return choices[rng.Intn(len(choices))]
}

func pickBool(rng *rand.Rand, choices []bool) bool {
	if len(choices) == 0 {
		return false
	}
	return choices[rng.Intn(len(choices))]
}

func pickOrder(rng *rand.Rand, choices [][]string) []string {
	if len(choices) == 0 {
		return []string{"default"}
	}
	return choices[rng.Intn(len(choices))]
}
