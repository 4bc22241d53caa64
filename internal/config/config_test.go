package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "database:\n  dsn: postgres://localhost/ft\nlogging:\n  level: debug\n")
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/ft", cfg.Database.DSN)
	require.Equal(t, "debug", cfg.Logging.Level)
	// Unset fields fall back to defaults.
	require.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "database:\n  dsn: postgres://file/ft\n")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DATABASE_DSN", "postgres://env/ft")
	t.Setenv("RETRY_MAX_ATTEMPTS", "9")
	t.Setenv("INFERENCE_HOST", "model-host")
	t.Setenv("INFERENCE_PORT", "8500")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://env/ft", cfg.Database.DSN)
	require.Equal(t, 9, cfg.Retry.MaxAttempts)
	require.Equal(t, "model-host", cfg.Inference.Host)
	require.Equal(t, 8500, cfg.Inference.Port)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "logging:\n  level: info\n")
	t.Setenv("CONFIG_PATH", path)

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond

	reloaded := make(chan *Config, 1)
	w.OnChange(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writeConfig(t, dir, "logging:\n  level: warn\n")

	select {
	case cfg := <-reloaded:
		require.Equal(t, "warn", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload not observed")
	}
}

func TestParseBool(t *testing.T) {
	require.True(t, ParseBool("true"))
	require.True(t, ParseBool("1"))
	require.True(t, ParseBool("Yes"))
	require.False(t, ParseBool("off"))
	require.False(t, ParseBool(""))
	require.True(t, ParseBool("2"))
}
