package driver

import (
	"sync"

	"github.com/rivermuse/finetune-engine/internal/finetune/collab"
	"github.com/rivermuse/finetune-engine/internal/finetune/features"
	"github.com/rivermuse/finetune-engine/internal/registry"
)

// Dependencies bundles the collaborators a training run needs. Temporal
// activities are plain package-level functions (driver.RunEpochActivity
// etc., registered directly against the worker in cmd/worker/main.go), so
// they resolve these through a package-level singleton set once at worker
// start - the same lazily-initialized-singleton shape
// internal/embeddings.Get() uses for its HTTP client, per the ambient
// stack's carve-out for collaborator accessors.
type Dependencies struct {
	Model      collab.Model
	Ranker     collab.Ranker
	TrainItems collab.DataLoader
	TestItems  collab.DataLoader
	Artifacts  collab.ArtifactStore
	Registry   *registry.ExperimentRegistry
	RanksAgg   features.RanksAggregator
	ClicksAgg  features.ClicksAggregator
	Confidence features.ConfidenceCalculator
}

var (
	depsMu sync.RWMutex
	deps   Dependencies
)

// Configure installs the process-wide collaborator bundle. Called once
// from cmd/worker/main.go before starting the Temporal worker.
func Configure(d Dependencies) {
	depsMu.Lock()
	defer depsMu.Unlock()
	deps = d
}

func current() Dependencies {
	depsMu.RLock()
	defer depsMu.RUnlock()
	return deps
}
