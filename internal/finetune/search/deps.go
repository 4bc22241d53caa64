package search

import (
	"sync"

	"go.uber.org/zap"

	"github.com/rivermuse/finetune-engine/internal/registry"
)

// Dependencies bundles the collaborators HyperparameterSearchWorkflow's
// activities need, resolved through the same package-level singleton
// shape internal/finetune/driver.Dependencies uses.
type Dependencies struct {
	Registry *registry.ExperimentRegistry
	Logger   *zap.Logger
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
