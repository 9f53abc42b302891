package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-player-cache/types"
)

func TestLoader_Defaults(t *testing.T) {
	cfg := NewLoader().Defaults()

	assert.Equal(t, "sai-player-cache", cfg.Name)
	assert.Equal(t, types.DefaultCacheName, cfg.CacheName)
	assert.Equal(t, "data/players.db", cfg.Primary.Path)
	assert.Equal(t, "memory", cfg.Fallback.Type)
	assert.True(t, cfg.Fallback.Enabled)
	assert.Equal(t, types.Duration(types.DefaultTTL), cfg.Cache.DefaultTTL)
	assert.Equal(t, types.SchemaVersion, cfg.Cache.SchemaVersion)
	assert.Equal(t, "@every 1h", cfg.Sweep.Schedule)

	require.NoError(t, NewLoader().Validate(cfg), "defaults must validate on their own")
}

func TestLoader_Load(t *testing.T) {
	loader := NewLoader()

	t.Run("overrides merge onto defaults", func(t *testing.T) {
		cfg, err := loader.Load([]byte(`
name: custom-cache
version: 2.0.0
cache_name: rosters
primary:
  path: /tmp/rosters.db
  max_bytes: 1048576
cache:
  default_ttl: 1h
  schema_version: "4"
remote:
  base_url: http://upstream:9090
  retries: 5
`))
		require.NoError(t, err)
		assert.Equal(t, "custom-cache", cfg.Name)
		assert.Equal(t, "rosters", cfg.CacheName)
		assert.Equal(t, int64(1048576), cfg.Primary.MaxBytes)
		assert.Equal(t, types.Duration(time.Hour), cfg.Cache.DefaultTTL)
		assert.Equal(t, "4", cfg.Cache.SchemaVersion)
		assert.Equal(t, "http://upstream:9090", cfg.Remote.BaseURL)
		assert.Equal(t, 5, cfg.Remote.Retries)

		// Untouched sections keep their defaults.
		assert.Equal(t, "memory", cfg.Fallback.Type)
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := loader.Load([]byte("name: [unclosed"))
		assert.ErrorIs(t, err, types.ErrConfigParseFailed)
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := loader.Load([]byte(`
name: ""
version: 1.0.0
`))
		assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
	})

	t.Run("enabled fallback needs a type", func(t *testing.T) {
		_, err := loader.Load([]byte(`
name: cache
version: 1.0.0
fallback:
  enabled: true
  type: ""
`))
		assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
	})
}

func TestLoader_LoadFromFile(t *testing.T) {
	loader := NewLoader()

	t.Run("reads a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yml")
		require.NoError(t, os.WriteFile(path, []byte("name: from-file\nversion: 1.2.3\n"), 0o644))

		cfg, err := loader.LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "from-file", cfg.Name)
		assert.Equal(t, "1.2.3", cfg.Version)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loader.LoadFromFile(filepath.Join(t.TempDir(), "nope.yml"))
		assert.ErrorIs(t, err, types.ErrConfigNotFound)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := loader.LoadFromFile("")
		assert.ErrorIs(t, err, types.ErrConfigNotFound)
	})
}

func TestLoader_Validate_Nil(t *testing.T) {
	err := NewLoader().Validate(nil)
	assert.ErrorIs(t, err, types.ErrConfigIsNil)
}
