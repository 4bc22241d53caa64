// Package optim provides the stochastic-gradient-descent optimizer and
// step-decay schedule C6 drives its two submodel optimizers with (spec
// §4.7). No pack dependency supplies tensor optimizers; this is a small,
// literal transcription of plain SGD-with-weight-decay and step-decay,
// standard-library-grounded by necessity (see DESIGN.md).
package optim

// SGD applies param -= lr * (grad + weight_decay*param) to a flat parameter
// vector, the textbook SGD-with-L2-weight-decay update C6 needs for its
// q_opt/i_opt (spec §4.7 step 2). It operates on whatever parameter vector a
// collab.Trainable model exposes; the core never inspects what the vector
// represents.
type SGD struct {
	LR          float64
	WeightDecay float64
	StepSize    int
	Gamma       float64
	stepsTaken  int
}

func NewSGD(lr, weightDecay float64, stepSize int, gamma float64) *SGD {
	return &SGD{LR: lr, WeightDecay: weightDecay, StepSize: stepSize, Gamma: gamma}
}

// Step applies one update in place given the current params and their
// gradients (same length), then advances the step-decay schedule.
func (s *SGD) Step(params, grads []float64) {
	for i := range params {
		g := grads[i] + s.WeightDecay*params[i]
		params[i] -= s.LR * g
	}
	s.stepsTaken++
	if s.StepSize > 0 && s.stepsTaken%s.StepSize == 0 {
		s.LR *= s.Gamma
	}
}

// CurrentLR exposes the post-decay learning rate, mainly for metrics.
func (s *SGD) CurrentLR() float64 { return s.LR }
