// Package registry holds the two collaborator-discovery tables this
// codebase needs in place of the source's metaclass-driven plugin
// discovery (spec §9 design note): a named fine-tuning plugin registry,
// and (in experiment.go) the C8 experiment registry state machine. Worker
// wiring (which Temporal workflows/activities get registered) lives in
// cmd/worker/main.go directly against go.temporal.io/sdk/worker, since
// routing that through a wrapper here would import internal/finetune/driver
// and internal/finetune/search, both of which need to depend on this
// package for the experiment registry - an import cycle this package must
// stay free of.
package registry

import (
	"fmt"
	"sync"
)

// pluginRegistry holds the explicit name -> factory mapping used instead of
// metaclass-style plugin discovery. Each plugin factory returns the
// collaborator bundle (loader, model, trainer defaults; see Plugin) that
// single plugin needs.
type pluginRegistry struct {
	mu        sync.RWMutex
	factories map[string]PluginFactory
}

var defaultPlugins = &pluginRegistry{factories: map[string]PluginFactory{}}

// RegisterPlugin adds a named plugin factory to the default registry. It is
// meant to be called from each plugin's package init, mirroring how the
// driver/search workflows look plugins up purely by name.
func RegisterPlugin(name string, factory PluginFactory) {
	defaultPlugins.mu.Lock()
	defer defaultPlugins.mu.Unlock()
	defaultPlugins.factories[name] = factory
}

// BuildPlugin resolves a named plugin and constructs it against the given
// collaborator dependencies.
func BuildPlugin(name string, deps PluginDeps) (Plugin, error) {
	defaultPlugins.mu.RLock()
	factory, ok := defaultPlugins.factories[name]
	defaultPlugins.mu.RUnlock()
	if !ok {
		return Plugin{}, fmt.Errorf("registry: no plugin registered under name %q", name)
	}
	return factory(deps)
}

// RegisteredPluginNames returns the names of all currently registered
// plugins, primarily for diagnostics and the top-level CLI.
func RegisteredPluginNames() []string {
	defaultPlugins.mu.RLock()
	defer defaultPlugins.mu.RUnlock()
	names := make([]string, 0, len(defaultPlugins.factories))
	for name := range defaultPlugins.factories {
		names = append(names, name)
	}
	return names
}
