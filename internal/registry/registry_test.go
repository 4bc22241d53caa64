package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndBuildPlugin(t *testing.T) {
	RegisterPlugin("test-plugin", func(deps PluginDeps) (Plugin, error) {
		return Plugin{
			Name:             "test-plugin",
			DefaultMaxEpochs: 5,
			DefaultLearnRate: 0.01,
		}, nil
	})

	require.Contains(t, RegisteredPluginNames(), "test-plugin")

	p, err := BuildPlugin("test-plugin", PluginDeps{DatabaseDSN: "postgres://test"})
	require.NoError(t, err)
	require.Equal(t, "test-plugin", p.Name)
	require.Equal(t, 5, p.DefaultMaxEpochs)
}

func TestBuildPluginUnknownName(t *testing.T) {
	_, err := BuildPlugin("does-not-exist", PluginDeps{})
	require.Error(t, err)
}
