package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Clickstream store metrics
	SessionsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finetune_sessions_registered_total",
			Help: "Total number of clickstream sessions registered",
		},
	)

	SessionsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finetune_sessions_updated_total",
			Help: "Total number of clickstream sessions updated in place",
		},
	)

	EventsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_events_pushed_total",
			Help: "Total number of clickstream events accepted",
		},
		[]string{"event_type", "result"}, // result: inserted/duplicate
	)

	BatchesReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finetune_batches_released_total",
			Help: "Total number of clickstream batches released",
		},
	)

	BatchReleaseLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finetune_batch_release_latency_seconds",
			Help:    "Latency of the release_batch transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	CollectingBatchSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "finetune_collecting_batch_session_count",
			Help: "Session count of the currently collecting batch",
		},
	)

	// Feature extraction / loss metrics
	FeaturePairsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finetune_feature_pairs_extracted_total",
			Help: "Total number of (positive, negative) pairs retained after clamping",
		},
	)

	FeaturePairsClamped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finetune_feature_pairs_clamped_total",
			Help: "Total number of pairs dropped by clamp_diff_in",
		},
	)

	LossValue = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finetune_loss_value",
			Help:    "Per-batch loss value observed during a run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 0.7, 1.0},
		},
		[]string{"phase", "scaling"}, // phase: train/test, scaling: generic/cosine
	)

	// Driver / search metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_runs_started_total",
			Help: "Total number of fine-tuning runs started",
		},
		[]string{"plugin"},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_runs_finished_total",
			Help: "Total number of fine-tuning runs finished",
		},
		[]string{"plugin", "status"}, // status: finished/failed
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finetune_run_duration_seconds",
			Help:    "Wall-clock duration of a fine-tuning run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin"},
	)

	EpochsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_epochs_completed_total",
			Help: "Total number of training epochs completed",
		},
		[]string{"plugin"},
	)

	// Registry metrics
	ModelsUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_models_uploaded_total",
			Help: "Total number of model artifacts uploaded as a new best",
		},
		[]string{"iteration"},
	)

	ModelsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_models_deleted_total",
			Help: "Total number of superseded model artifacts deleted",
		},
		[]string{"iteration"},
	)

	RegistryRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_registry_retry_attempts_total",
			Help: "Total number of retry attempts against the registry backend",
		},
		[]string{"operation"},
	)

	RegistryMaxAttemptsReached = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_registry_max_attempts_reached_total",
			Help: "Total number of registry calls that exhausted their retry budget",
		},
		[]string{"operation"},
	)

	// Vector DB metrics (recorded by vectordb.Client's similarity search only;
	// point-id lookups and scrolls are not counted)
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finetune_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Driver loss metrics (current train/test loss per run, spec §4.7)
	FineTuningTrainLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finetune_train_loss",
			Help: "Most recently reported train_loss for a run",
		},
		[]string{"iteration", "run"},
	)

	FineTuningTestLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finetune_test_loss",
			Help: "Most recently reported test_loss for a run",
		},
		[]string{"iteration", "run"},
	)

	// Embedding metrics (model.embed_query / model.embed_items collaborator calls)
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finetune_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
)

// RecordVectorSearchMetrics records vector search metrics.
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics.
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordRunFinished records the terminal status of a fine-tuning run.
func RecordRunFinished(plugin, status string, durationSeconds float64) {
	RunsFinished.WithLabelValues(plugin, status).Inc()
	RunDuration.WithLabelValues(plugin).Observe(durationSeconds)
}
