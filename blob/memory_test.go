package blob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-player-cache/logger"
	"github.com/saiset-co/sai-player-cache/types"
)

func newTestMemoryStore(t *testing.T, maxBytes int64) *MemoryStore {
	t.Helper()

	cfg := &types.FallbackConfig{
		Enabled: true,
		Type:    "memory",
	}
	if maxBytes > 0 {
		cfg.Config = map[string]interface{}{"max_bytes": maxBytes}
	}

	store, err := NewMemoryStore(context.Background(), logger.NewNopLogger(), cfg,
		newKeyspace("playercache", "players", "global", "3"))
	require.NoError(t, err)
	require.NoError(t, store.Start())

	mem, ok := store.(*MemoryStore)
	require.True(t, ok)

	t.Cleanup(func() {
		_ = mem.Stop()
	})

	return mem
}

func blobTestSet() types.RecordSet {
	return types.RecordSet{
		"p1": {ID: "p1", Category: "QB", Group: "BUF", DisplayName: "Josh Allen"},
		"p2": {ID: "p2", Category: "WR", Group: "KC", DisplayName: "Joseph Smith"},
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, 0)

	in := blobTestSet()
	require.True(t, m.Set(ctx, in, time.Hour))

	out, env, ok := m.Get(ctx)
	require.True(t, ok)
	require.NotNil(t, env)
	assert.Equal(t, "3", env.Version)
	assert.Equal(t, time.Hour.Milliseconds(), env.TTL)
	require.Len(t, out, len(in))
	assert.Equal(t, "Josh Allen", out["p1"].DisplayName)
	assert.Equal(t, "KC", out["p2"].Group)
}

func TestMemoryStore_Get_Empty(t *testing.T) {
	m := newTestMemoryStore(t, 0)

	_, _, ok := m.Get(context.Background())
	assert.False(t, ok)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, 0)

	require.True(t, m.Set(ctx, blobTestSet(), 0))
	time.Sleep(5 * time.Millisecond)

	_, _, ok := m.Get(ctx)
	assert.False(t, ok)

	// Expired entries are deleted on read, not just skipped.
	m.mu.RLock()
	_, exists := m.data[m.keys.Entry()]
	m.mu.RUnlock()
	assert.False(t, exists)
}

func TestMemoryStore_CorruptEntryDropped(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, 0)

	m.mu.Lock()
	m.data[m.keys.Entry()] = []byte("{not an envelope")
	m.mu.Unlock()

	_, _, ok := m.Get(ctx)
	assert.False(t, ok)

	m.mu.RLock()
	_, exists := m.data[m.keys.Entry()]
	m.mu.RUnlock()
	assert.False(t, exists, "garbage must not survive a read")
}

func TestMemoryStore_VersionMismatchReadAsMiss(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, 0)

	stale, err := encodeEnvelope(blobTestSet(), time.Hour, "2")
	require.NoError(t, err)

	m.mu.Lock()
	m.data[m.keys.Entry()] = stale
	m.mu.Unlock()

	_, _, ok := m.Get(ctx)
	assert.False(t, ok)
}

func TestMemoryStore_QuotaRecovery(t *testing.T) {
	ctx := context.Background()

	raw, err := encodeEnvelope(blobTestSet(), time.Hour, "3")
	require.NoError(t, err)

	t.Run("clear and retry succeeds once", func(t *testing.T) {
		m := newTestMemoryStore(t, int64(len(raw))+16)

		require.True(t, m.Set(ctx, blobTestSet(), time.Hour))
		// A second write projects past the budget until the namespace is
		// cleared; the internal retry must land it.
		require.True(t, m.Set(ctx, blobTestSet(), time.Hour))

		_, _, ok := m.Get(ctx)
		assert.True(t, ok)
	})

	t.Run("payload over budget degrades softly", func(t *testing.T) {
		m := newTestMemoryStore(t, 8)

		assert.False(t, m.Set(ctx, blobTestSet(), time.Hour))

		_, _, ok := m.Get(ctx)
		assert.False(t, ok)
	})
}

func TestMemoryStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, 0)

	require.True(t, m.Set(ctx, blobTestSet(), time.Hour))
	require.NoError(t, m.Invalidate(ctx))

	_, _, ok := m.Get(ctx)
	assert.False(t, ok)
}

func TestMemoryStore_Clear_ScopedToPrefix(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, 0)

	require.True(t, m.Set(ctx, blobTestSet(), time.Hour))

	m.mu.Lock()
	m.data["othersvc_sessions_global_1"] = []byte("foreign")
	m.mu.Unlock()

	require.NoError(t, m.Clear(ctx))

	m.mu.RLock()
	_, foreignKept := m.data["othersvc_sessions_global_1"]
	_, entryKept := m.data[m.keys.Entry()]
	m.mu.RUnlock()

	assert.True(t, foreignKept, "keys outside the cache prefix are untouched")
	assert.False(t, entryKept)
}

func TestMemoryStore_SweepExpired(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryStore(t, 0)

	expired, err := encodeEnvelope(blobTestSet(), 0, "3")
	require.NoError(t, err)

	prefix := m.keys.CachePrefix()
	m.mu.Lock()
	m.data[prefix+"global_2"] = []byte("{corrupt")
	m.data[prefix+"session_3"] = expired
	m.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	require.True(t, m.Set(ctx, blobTestSet(), time.Hour))

	removed := m.SweepExpired(ctx)
	assert.Equal(t, 2, removed)

	_, _, ok := m.Get(ctx)
	assert.True(t, ok, "the live entry survives a sweep")
}

func TestMemoryStore_IsAvailable(t *testing.T) {
	m := newTestMemoryStore(t, 0)
	assert.True(t, m.IsAvailable())
}

func TestKeyspace(t *testing.T) {
	t.Run("layout", func(t *testing.T) {
		k := newKeyspace("playercache", "players", "global", "3")
		assert.Equal(t, "playercache_players_global_3", k.Entry())
		assert.Equal(t, "playercache_players_", k.CachePrefix())
		assert.Equal(t, "playercache__probe", k.Probe())
	})

	t.Run("defaults", func(t *testing.T) {
		k := newKeyspace("", "", "", "")
		assert.Equal(t, "playercache_players_global_"+types.SchemaVersion, k.Entry())
	})

	t.Run("version bump changes the entry key", func(t *testing.T) {
		v3 := newKeyspace("playercache", "players", "global", "3")
		v4 := newKeyspace("playercache", "players", "global", "4")
		assert.NotEqual(t, v3.Entry(), v4.Entry())
		assert.Equal(t, v3.CachePrefix(), v4.CachePrefix())
	})
}
