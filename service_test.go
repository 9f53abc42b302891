package saiplayercache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-player-cache/config"
	"github.com/saiset-co/sai-player-cache/types"
)

func testServiceConfig(t *testing.T) *types.CacheServiceConfig {
	t.Helper()

	cfg := config.NewLoader().Defaults()
	cfg.Logger.Level = "error"
	cfg.Primary.Path = filepath.Join(t.TempDir(), "players.db")
	cfg.Sweep.Enabled = false
	return cfg
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()

	svc, err := NewWithConfig(ctx, testServiceConfig(t))
	require.NoError(t, err)

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())
	assert.ErrorIs(t, svc.Start(), types.ErrManagerAlreadyRunning)

	c := svc.Cache()
	require.NotNil(t, c)

	require.True(t, c.SetAll(ctx, types.RecordSet{
		"p1": {ID: "p1", Category: "QB", Group: "BUF", DisplayName: "Josh Allen"},
		"p2": {ID: "p2", Category: "WR", Group: "KC", DisplayName: "Joseph Smith"},
	}, time.Hour))

	set, err := c.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, set, 2)

	out, err := c.SearchPrefix(ctx, types.IndexDisplayName, "Jo")
	require.NoError(t, err)
	assert.Len(t, out, 2)

	report := svc.Health(ctx)
	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Contains(t, report.Checks, "primary_store")
	assert.Contains(t, report.Checks, "fallback_store")

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
}

func TestService_DataSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testServiceConfig(t)

	svc, err := NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	require.True(t, svc.Cache().SetAll(ctx, types.RecordSet{
		"p1": {ID: "p1", DisplayName: "Josh Allen"},
	}, time.Hour))
	require.NoError(t, svc.Stop())

	svc2, err := NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, svc2.Start())
	defer svc2.Stop()

	set, err := svc2.Cache().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, set, 1, "the primary tier persists across service restarts")
}

func TestService_MetricsRecorded(t *testing.T) {
	ctx := context.Background()

	svc, err := NewWithConfig(ctx, testServiceConfig(t))
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	_, err = svc.Cache().GetAll(ctx)
	require.NoError(t, err)

	require.NotNil(t, svc.Metrics())
	snapshot, err := svc.Metrics().GetMetrics()
	require.NoError(t, err)
	assert.Contains(t, string(snapshot), "cache_operations_total")
}

func TestNew_FromConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	raw := `
name: player-directory
version: 1.0.0
logger:
  level: error
primary:
  path: ` + filepath.Join(dir, "players.db") + `
sweep:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	svc, err := New(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop())
}

func TestNew_NullPrimarySection(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.yml")

	raw := `
name: player-directory
version: 1.0.0
logger:
  level: error
primary: null
sweep:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	svc, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.True(t, svc.Cache().SetAll(ctx, types.RecordSet{
		"p1": {ID: "p1", DisplayName: "Josh Allen"},
	}, time.Hour))

	set, err := svc.Cache().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, set, 1, "a nulled primary section runs on an in-memory database")
}

func TestNew_MissingConfig(t *testing.T) {
	_, err := New(context.Background(), filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, types.ErrConfigNotFound)
}
