package features

import "math"

// ConfidenceCalculator assigns each scattered (rank, click) pair a
// confidence weight (spec §4.5).
type ConfidenceCalculator interface {
	Calculate(ranks []float64, events []float64) []float64
}

// DummyConfidenceCalculator returns 1.0 for every entry.
type DummyConfidenceCalculator struct{}

func (DummyConfidenceCalculator) Calculate(ranks []float64, _ []float64) []float64 {
	out := make([]float64, len(ranks))
	for i := range out {
		out[i] = 1
	}
	return out
}

// WindowedConfidenceCalculator implements calculate_confidences (spec
// §4.5): a windowed rank-similarity/click-proportion blend, weighted by an
// exponential position bias, then min-max normalized.
type WindowedConfidenceCalculator struct {
	WindowSize int
}

func NewWindowedConfidenceCalculator(windowSize int) WindowedConfidenceCalculator {
	if windowSize <= 0 {
		windowSize = 3
	}
	return WindowedConfidenceCalculator{WindowSize: windowSize}
}

func (c WindowedConfidenceCalculator) Calculate(ranks []float64, events []float64) []float64 {
	n := len(ranks)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	half := c.WindowSize / 2

	for i := 0; i < n; i++ {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi >= n {
			hi = n - 1
		}

		var rankSum, clickSum float64
		count := 0
		for j := lo; j <= hi; j++ {
			rankSum += ranks[j]
			clickSum += events[j]
			count++
		}
		avgRank := rankSum / float64(count)
		clickProportion := clickSum / float64(count)

		var rankSimilarity float64
		if avgRank != 0 {
			rankSimilarity = math.Abs(ranks[i]-avgRank) / math.Abs(avgRank)
		}

		posBias := math.Exp(-3*float64(i+1)/float64(n)-0.3) + 0.25

		var conf float64
		if events[i] != 0 {
			conf = (1-rankSimilarity)*clickProportion + (1-clickProportion)*rankSimilarity
		} else {
			conf = (1-clickProportion)*(1-rankSimilarity) + clickProportion*rankSimilarity
		}
		out[i] = conf * posBias
	}

	minMaxNormalize(out)
	return out
}

func minMaxNormalize(values []float64) {
	if len(values) == 0 {
		return
	}
	minV, maxV := values[0], values[0]
	for _, v := range values {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	spread := maxV - minV
	if spread == 0 {
		for i := range values {
			values[i] = 1
		}
		return
	}
	for i := range values {
		values[i] = (values[i] - minV) / spread
	}
}
