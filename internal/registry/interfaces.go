package registry

// PluginFactory builds the collaborator bundle a single named fine-tuning
// plugin needs: its data loader, model loader and trainer defaults (max
// epochs, learning rate). The bundle carries no preprocessor, splitter or
// selector. Replaces reflection-based plugin discovery with an explicit
// name lookup.
type PluginFactory func(deps PluginDeps) (Plugin, error)

// PluginDeps carries the shared collaborators every plugin factory is handed
// so it can assemble its own Plugin without reaching for global state.
type PluginDeps struct {
	DatabaseDSN    string
	ArtifactStoreURL string
	ModelHostURL   string
}

// Plugin is the bundle of capabilities a registered fine-tuning plugin
// exposes to the driver and search workflows.
type Plugin struct {
	Name              string
	NewDataLoader     func() (interface{}, error)
	NewModel          func() (interface{}, error)
	DefaultMaxEpochs  int
	DefaultLearnRate  float64
}
