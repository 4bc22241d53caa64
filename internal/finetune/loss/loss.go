// Package loss implements the probabilistic margin ranking loss (spec
// §4.6) over FineTuningFeatures, plus its closed-form gradients with
// respect to positive_ranks/negative_ranks that C6 needs for the backward
// step. No pack dependency offers a ranking-loss primitive, so this is a
// direct, formula-level transcription - standard-library-grounded by
// necessity (see DESIGN.md).
package loss

import (
	"fmt"
	"math"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// Gradients holds d(loss)/d(x) for each of the two rank tensors, parallel
// to the FineTuningFeatures they were computed from.
type Gradients struct {
	DPositiveRanks []float64
	DNegativeRanks []float64
}

// Loss is the C5 collaborator: a scalar margin, a scaling function f, and
// the value/gradient computation over a batch of features.
type Loss interface {
	// Compute returns the scalar loss, the per-pair loss values (needed for
	// the train_loss metric breakdown), and the gradients for backward.
	Compute(f types.FineTuningFeatures) (value float64, perPair []float64, grads Gradients, err error)
	SetMargin(margin float64)
	Margin() float64
}

type scaling struct {
	f  func(x float64) float64
	df func(x float64) float64
}

var genericScaling = scaling{
	f:  func(x float64) float64 { return -x },
	df: func(float64) float64 { return -1 },
}

var cosineScaling = scaling{
	f:  func(x float64) float64 { return -400*x + 6 },
	df: func(float64) float64 { return -400 },
}

type marginLoss struct {
	margin float64
	scale  scaling
}

// GenericLoss is the standard soft-margin scaling f(x) = -x.
func GenericLoss(margin float64) Loss { return &marginLoss{margin: margin, scale: genericScaling} }

// CosineLoss is the cosine-aware scaling f(x) = -400x + 6, tuned so
// differences greater than ~0.01 in cosine similarity are penalized with
// probability > 0.1.
func CosineLoss(margin float64) Loss { return &marginLoss{margin: margin, scale: cosineScaling} }

func (l *marginLoss) SetMargin(margin float64) { l.margin = margin }
func (l *marginLoss) Margin() float64          { return l.margin }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func (l *marginLoss) Compute(ft types.FineTuningFeatures) (float64, []float64, Gradients, error) {
	n := ft.Len()
	if n == 0 {
		return 0, nil, Gradients{}, fmt.Errorf("loss: empty features")
	}
	if err := ft.Validate(); err != nil {
		return 0, nil, Gradients{}, err
	}

	perPair := make([]float64, n)
	dPos := make([]float64, n)
	dNeg := make([]float64, n)

	var sum float64
	for i := 0; i < n; i++ {
		target := ft.Target[i]
		pairwise := ft.PositiveRanks[i] - ft.NegativeRanks[i]
		adjusted := -target*pairwise + l.margin
		fz := l.scale.f(adjusted)
		sig := sigmoid(fz)
		confidence := math.Min(ft.PositiveConfidences[i], ft.NegativeConfidences[i])

		perPair[i] = sig * confidence
		sum += perPair[i]

		// d(loss_i)/d(adjusted) = confidence * sig*(1-sig) * f'(adjusted)
		dAdjusted := confidence * sig * (1 - sig) * l.scale.df(adjusted)
		dPos[i] = dAdjusted * (-target) / float64(n)
		dNeg[i] = dAdjusted * target / float64(n)
	}

	return sum / float64(n), perPair, Gradients{DPositiveRanks: dPos, DNegativeRanks: dNeg}, nil
}
