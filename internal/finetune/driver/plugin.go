package driver

import (
	"github.com/rivermuse/finetune-engine/internal/registry"
)

// pluginName is the default fine-tuning plugin this binary registers under
// the explicit name->factory registry (spec §9's reflection/dynamic
// dispatch design note): a single embedding ranker plugin whose
// collaborators are whatever Configure installed.
const pluginName = "embedding-ranker"

func init() {
	registry.RegisterPlugin(pluginName, func(registry.PluginDeps) (registry.Plugin, error) {
		d := current()
		return registry.Plugin{
			Name: pluginName,
			NewDataLoader: func() (interface{}, error) {
				return d.TrainItems, nil
			},
			NewModel: func() (interface{}, error) {
				return d.Model, nil
			},
			DefaultMaxEpochs: 10,
			DefaultLearnRate: 0.001,
		}, nil
	})
}
