// Package collab defines the collaborator interfaces the core treats as
// external (spec §6): the model (embed_query/embed_items plus layer
// freezing), the data loader, and the artifact store. Each interface also
// gets one reference/test implementation here, enough to exercise C4-C8
// without a production object-storage loader.
package collab

import (
	"context"
	"io"
	"time"
)

// Model is the opaque neural model collaborator (spec §1, §6): a query
// encoder and an items encoder, plus a parameter-freezing control. The
// core never inspects the architecture behind this interface.
type Model interface {
	// EmbedQuery encodes one query into a vector.
	EmbedQuery(ctx context.Context, query interface{}) ([]float64, error)
	// EmbedItems encodes a batch of item payloads into parallel vectors.
	EmbedItems(ctx context.Context, items []map[string]interface{}) ([][]float64, error)

	FixQueryModel(numLayers int)
	FixItemsModel(numLayers int)
	UnfixQueryModel()
	UnfixItemsModel()

	// SameQueryAndItems reports whether the query and items encoders
	// share parameters, so C6 only builds one optimizer (spec §4.7).
	SameQueryAndItems() bool
}

// Ranker scores a query vector against item vectors: (query_vec,
// item_vecs) -> scores (spec glossary). IsSimilarity controls the
// feature extractor's target sign (spec §4.5 step 5).
type Ranker interface {
	Rank(query []float64, items [][]float64) []float64
	IsSimilarity() bool
}

// DataLoaderItemMeta identifies one item payload to fetch.
type DataLoaderItemMeta struct {
	ID string
}

// DownloadedItem is one fetched item payload keyed by id.
type DownloadedItem struct {
	ID      string
	Payload map[string]interface{}
}

// DataLoader is the external object-storage/SQL loader collaborator (spec
// §1, §6). Production S3/GCS/SQL loaders are out of scope; only the
// interface and a reference in-memory implementation live here.
type DataLoader interface {
	TotalCount(ctx context.Context, sourceParams map[string]interface{}) (*int, error)
	LoadItems(ctx context.Context, metas []DataLoaderItemMeta) ([]DownloadedItem, error)
	// LoadAll streams batches of the given size; iteration stops when the
	// returned channel is closed.
	LoadAll(ctx context.Context, batchSize int, sourceParams map[string]interface{}) (<-chan []DownloadedItem, error)
}

// ArtifactStore is the experiment-registry backend collaborator (spec
// §4.9, §6): iteration/run CRUD, param/metric logging, and model artifact
// upload/download/delete.
type ArtifactStore interface {
	CreateIteration(ctx context.Context, name string) error
	RenameIteration(ctx context.Context, name, newName string) error
	DeleteIteration(ctx context.Context, name string) error

	CreateRun(ctx context.Context, iteration, runName string) error
	RunStatus(ctx context.Context, iteration, runName string) (string, bool, error)
	FinishRun(ctx context.Context, iteration, runName string, failed bool) error

	LogParam(ctx context.Context, iteration, runName, key, value string) error
	LogMetric(ctx context.Context, iteration, runName, key string, value float64, step int) error

	LogModel(ctx context.Context, iteration, runName string, r io.Reader) error
	LoadModel(ctx context.Context, iteration, runName string) (io.ReadCloser, error)
	DeleteModel(ctx context.Context, iteration, runName string) error

	SearchRuns(ctx context.Context, iteration string, filter RunFilter) ([]RunRecord, error)
	GetExperiment(ctx context.Context, name string) (ExperimentRecord, error)
	RenameExperiment(ctx context.Context, name, newName string) error
}

// RunFilter narrows SearchRuns to finished runs with a model uploaded.
type RunFilter struct {
	Status         string // "" = any
	ModelUploaded  *bool
}

// RunRecord is one run as known to the artifact store.
type RunRecord struct {
	Name       string
	Status     string
	Params     map[string]string
	Metrics    map[string]float64
	UploadedAt *time.Time
}

// ExperimentRecord describes one iteration/experiment entry.
type ExperimentRecord struct {
	Name      string
	Archived  bool
	CreatedAt time.Time
}
