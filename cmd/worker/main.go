package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/rivermuse/finetune-engine/internal/config"
	"github.com/rivermuse/finetune-engine/internal/embeddings"
	"github.com/rivermuse/finetune-engine/internal/finetune/collab"
	"github.com/rivermuse/finetune-engine/internal/finetune/driver"
	"github.com/rivermuse/finetune-engine/internal/finetune/features"
	"github.com/rivermuse/finetune-engine/internal/finetune/retry"
	"github.com/rivermuse/finetune-engine/internal/finetune/search"
	"github.com/rivermuse/finetune-engine/internal/registry"
	temporaladapter "github.com/rivermuse/finetune-engine/internal/temporal"
	"github.com/rivermuse/finetune-engine/internal/vectordb"
)

// main wires the Temporal worker that runs C6 (the fine-tuning driver)
// and C7 (hyperparameter search): a Postgres-backed experiment registry,
// an HTTP-backed embedding model, and the driver/search workflows and
// activities, registered directly against worker.Worker the way
// cmd/gateway/main.go wires its own collaborators - no wrapper registry
// type, since routing registration through internal/registry would
// reintroduce the import cycle that package now avoids (see
// internal/registry/registry.go's doc comment).
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	rawDB, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer rawDB.Close()
	rawDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	rawDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rawDB.PingContext(pingCtx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	artifactBaseDir := os.Getenv("MODEL_ARTIFACT_DIR")
	if artifactBaseDir == "" {
		artifactBaseDir = "/var/lib/finetune-engine/models"
	}
	artifacts := collab.NewPostgresArtifactStore(rawDB, logger, artifactBaseDir)

	policy := retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		WaitTimeSeconds: cfg.Retry.InitialDelay,
	}
	expRegistry := registry.NewExperimentRegistry(artifacts, policy, logger)

	embeddings.Initialize(embeddings.Config{
		BaseURL: os.Getenv("EMBEDDINGS_BASE_URL"),
	}, nil)
	model := collab.NewEmbeddingModel(embeddings.Get())

	// The item catalog backing both train and test batches (spec §1's
	// loader non-goal leaves the item store's own backend unspecified; the
	// extractor only needs one DataLoader to resolve item payloads by id,
	// shared across both splits). When a Qdrant host is configured, fetch
	// payloads from the same items collection the online similarity index
	// serves; otherwise fall back to the in-process reference loader.
	var itemLoader collab.DataLoader
	if vdbHost := os.Getenv("VECTORDB_HOST"); vdbHost != "" {
		vectordb.Initialize(vectordb.Config{
			Enabled: true,
			Host:    vdbHost,
			Items:   os.Getenv("VECTORDB_ITEMS_COLLECTION"),
		})
		itemLoader = collab.NewVectorDBLoader(vectordb.Get())
	} else {
		itemLoader = collab.NewMemoryLoader()
	}

	driver.Configure(driver.Dependencies{
		Model:      model,
		Ranker:     collab.CosineRanker{},
		TrainItems: itemLoader,
		TestItems:  itemLoader,
		Artifacts:  artifacts,
		Registry:   expRegistry,
		RanksAgg:   features.MaxRanksAggregator{},
		ClicksAgg:  features.MaxClicksAggregator{},
		Confidence: features.NewWindowedConfidenceCalculator(3),
	})
	search.Configure(search.Dependencies{
		Registry: expRegistry,
		Logger:   logger,
	})

	// Resolve the default plugin through the explicit name->factory
	// registry (spec §9) rather than reaching for the collaborators
	// directly, so a future second plugin only needs its own
	// registry.RegisterPlugin call, not a change to this wiring.
	plugin, err := registry.BuildPlugin("embedding-ranker", registry.PluginDeps{
		DatabaseDSN:      cfg.Database.DSN,
		ArtifactStoreURL: artifactBaseDir,
		ModelHostURL:     os.Getenv("EMBEDDINGS_BASE_URL"),
	})
	if err != nil {
		logger.Fatal("failed to build default plugin", zap.Error(err))
	}
	logger.Info("default fine-tuning plugin ready",
		zap.String("plugin", plugin.Name),
		zap.Int("default_max_epochs", plugin.DefaultMaxEpochs),
		zap.Float64("default_learn_rate", plugin.DefaultLearnRate))

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporaladapter.NewZapAdapter(logger),
	})
	if err != nil {
		logger.Fatal("failed to dial temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(driver.FineTuningDriverWorkflow)
	w.RegisterActivity(driver.RunEpochActivity)
	w.RegisterActivity(driver.RunTestPassActivity)
	w.RegisterActivity(driver.ElectBestModelActivity)

	w.RegisterWorkflow(search.HyperparameterSearchWorkflow)
	w.RegisterActivity(search.SetIterationActivity)
	w.RegisterActivity(search.SetRunActivity)
	w.RegisterActivity(search.FinishRunActivity)
	w.RegisterActivity(search.GetTopParamsActivity)
	w.RegisterActivity(search.ArchivePreviousIterationActivity)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics listening", zap.String("addr", cfg.HTTP.MetricsAddr))
		if err := http.ListenAndServe(cfg.HTTP.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("starting fine-tuning worker", zap.String("task_queue", cfg.Temporal.TaskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}
}
