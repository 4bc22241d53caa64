package features

import "math"

// RanksAggregator collapses a group of subitem ranks into one object-level
// rank (spec §4.5). The differentiable flag selects a soft variant suitable
// for gradient flow through the aggregation itself versus the plain
// arg-style reduction used for bookkeeping-only aggregation (e.g. negative
// downsampling grouping).
type RanksAggregator interface {
	Aggregate(ranks []float64, differentiable bool) float64
}

// ClicksAggregator collapses a group of per-subitem click indicators into
// one object-level click flag (spec §4.5).
type ClicksAggregator interface {
	Aggregate(clicks []float64) float64
}

const softmaxBeta = 50.0

func softmaxWeighted(ranks []float64, sign float64) float64 {
	if len(ranks) == 1 {
		return ranks[0]
	}
	maxVal := ranks[0]
	for _, r := range ranks {
		if sign*r > sign*maxVal {
			maxVal = r
		}
	}
	var denom, numer float64
	for _, r := range ranks {
		w := math.Exp(sign * softmaxBeta * (r - maxVal))
		denom += w
		numer += w * r
	}
	return numer / denom
}

// MaxRanksAggregator takes max(ranks); its differentiable form is a softmax
// with a large beta so the max remains a smooth function of its inputs.
type MaxRanksAggregator struct{}

func (MaxRanksAggregator) Aggregate(ranks []float64, differentiable bool) float64 {
	if len(ranks) == 0 {
		return 0
	}
	if differentiable {
		return softmaxWeighted(ranks, 1)
	}
	m := ranks[0]
	for _, r := range ranks[1:] {
		if r > m {
			m = r
		}
	}
	return m
}

// MinRanksAggregator is MaxRanksAggregator's symmetric counterpart, using a
// negated softmax for its differentiable form.
type MinRanksAggregator struct{}

func (MinRanksAggregator) Aggregate(ranks []float64, differentiable bool) float64 {
	if len(ranks) == 0 {
		return 0
	}
	if differentiable {
		return softmaxWeighted(ranks, -1)
	}
	m := ranks[0]
	for _, r := range ranks[1:] {
		if r < m {
			m = r
		}
	}
	return m
}

// MeanRanksAggregator is the arithmetic mean; its differentiable form is
// the same mean (already smooth).
type MeanRanksAggregator struct{}

func (MeanRanksAggregator) Aggregate(ranks []float64, _ bool) float64 {
	if len(ranks) == 0 {
		return 0
	}
	var sum float64
	for _, r := range ranks {
		sum += r
	}
	return sum / float64(len(ranks))
}

// MaxClicksAggregator returns 1 if any subitem in the group was clicked.
type MaxClicksAggregator struct{}

func (MaxClicksAggregator) Aggregate(clicks []float64) float64 {
	for _, c := range clicks {
		if c != 0 {
			return 1
		}
	}
	return 0
}
