package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-player-cache/logger"
	"github.com/saiset-co/sai-player-cache/types"
)

func staticChecker(status types.HealthStatus) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: status}
	}
}

func TestManager_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("no checkers is healthy", func(t *testing.T) {
		m := NewManager(logger.NewNopLogger())
		report := m.Check(ctx)
		assert.Equal(t, types.StatusHealthy, report.Status)
		assert.Empty(t, report.Checks)
	})

	t.Run("all healthy", func(t *testing.T) {
		m := NewManager(logger.NewNopLogger())
		m.RegisterChecker("primary_store", staticChecker(types.StatusHealthy))
		m.RegisterChecker("fallback_store", staticChecker(types.StatusHealthy))

		report := m.Check(ctx)
		assert.Equal(t, types.StatusHealthy, report.Status)
		assert.Len(t, report.Checks, 2)
	})

	t.Run("one unhealthy tier degrades the report", func(t *testing.T) {
		m := NewManager(logger.NewNopLogger())
		m.RegisterChecker("primary_store", staticChecker(types.StatusHealthy))
		m.RegisterChecker("remote_source", staticChecker(types.StatusUnhealthy))

		report := m.Check(ctx)
		assert.Equal(t, types.StatusUnhealthy, report.Status)
		assert.Equal(t, types.StatusUnhealthy, report.Checks["remote_source"].Status)
	})

	t.Run("unknown does not degrade", func(t *testing.T) {
		m := NewManager(logger.NewNopLogger())
		m.RegisterChecker("remote_source", staticChecker(types.StatusUnknown))

		report := m.Check(ctx)
		assert.Equal(t, types.StatusHealthy, report.Status)
	})

	t.Run("ignores empty registrations", func(t *testing.T) {
		m := NewManager(logger.NewNopLogger())
		m.RegisterChecker("", staticChecker(types.StatusHealthy))
		m.RegisterChecker("nil_checker", nil)

		report := m.Check(ctx)
		assert.Empty(t, report.Checks)
	})
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(logger.NewNopLogger())

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrManagerAlreadyRunning)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Stop(), types.ErrManagerNotRunning)
}
