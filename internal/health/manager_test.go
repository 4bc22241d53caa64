package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func healthyChecker(name string, critical bool) *CustomHealthChecker {
	return NewCustomHealthChecker(name, critical, time.Second, func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
}

func unhealthyChecker(name string, critical bool) *CustomHealthChecker {
	return NewCustomHealthChecker(name, critical, time.Second, func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy, Error: "boom"}
	})
}

func TestManager_NewManagerConfiguresFourKnownCheckers(t *testing.T) {
	m := NewManager(zap.NewNop())
	cfg := m.GetConfiguration()

	require.True(t, cfg.Checks["database"].Critical)
	require.True(t, cfg.Checks["model_host"].Critical)
	require.False(t, cfg.Checks["artifact_store"].Critical)
}

func TestManager_ArtifactStoreDegradedDoesNotAffectReadiness(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterChecker(healthyChecker("database", true)))
	require.NoError(t, m.RegisterChecker(unhealthyChecker("artifact_store", false)))

	ctx := context.Background()
	require.True(t, m.IsReady(ctx))
	require.True(t, m.ArtifactStoreDegraded(ctx))
}

func TestManager_CriticalFailureBlocksReadiness(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterChecker(unhealthyChecker("database", true)))

	ctx := context.Background()
	require.False(t, m.IsReady(ctx))
	require.True(t, m.IsLive(ctx))
}

func TestManager_ArtifactStoreDegradedFalseWhenNotRegistered(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.False(t, m.ArtifactStoreDegraded(context.Background()))
}
