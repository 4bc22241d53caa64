package collab

import (
	"context"
	"io"
)

// ModelSerializer is an optional extension a Model may implement to
// produce a byte-stream artifact suitable for the experiment registry's
// save_model (spec §4.9). Only models with local, in-process parameters
// (Trainable ones, typically) can usefully implement this; a model that
// only proxies a remote inference endpoint has nothing local to persist.
type ModelSerializer interface {
	SaveModel(ctx context.Context) (io.ReadCloser, error)
}

// AsModelSerializer is a convenience type assertion helper.
func AsModelSerializer(m Model) (ModelSerializer, bool) {
	s, ok := m.(ModelSerializer)
	return s, ok
}

// Trainable is an optional extension a Model may implement to expose a
// flat parameter vector per submodel and accept an SGD update against it.
// The core treats the model architecture as opaque (spec §1 non-goal); a
// Model that only proxies a remote inference endpoint (EmbeddingModel)
// does not implement this, and the driver then records loss/metrics for a
// run without taking a local gradient step on it.
type Trainable interface {
	QueryParams() []float64
	ItemsParams() []float64
	SetQueryParams(p []float64)
	SetItemsParams(p []float64)
}

// AsTrainable is a convenience type assertion helper.
func AsTrainable(m Model) (Trainable, bool) {
	t, ok := m.(Trainable)
	return t, ok
}
