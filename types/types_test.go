package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStale(t *testing.T) {
	base := time.Now().UnixMilli()

	assert.False(t, Stale(base, 1000, base+999))
	assert.False(t, Stale(base, 1000, base+1000))
	assert.True(t, Stale(base, 1000, base+1001))

	// Zero TTL is stale as soon as any time has passed.
	assert.False(t, Stale(base, 0, base))
	assert.True(t, Stale(base, 0, base+1))
}

func TestIsExpired(t *testing.T) {
	now := time.Now()

	assert.True(t, IsExpired(nil, now))

	fresh := &CacheMetadata{LastUpdated: now.UnixMilli(), TTL: time.Hour.Milliseconds()}
	assert.False(t, IsExpired(fresh, now))

	old := &CacheMetadata{LastUpdated: now.Add(-2 * time.Hour).UnixMilli(), TTL: time.Hour.Milliseconds()}
	assert.True(t, IsExpired(old, now))
}

func TestCacheEnvelope_Expired(t *testing.T) {
	now := time.Now()

	var nilEnv *CacheEnvelope
	assert.True(t, nilEnv.Expired(now))

	live := &CacheEnvelope{Timestamp: now.UnixMilli(), TTL: time.Hour.Milliseconds()}
	assert.False(t, live.Expired(now))
	assert.True(t, live.Expired(now.Add(2*time.Hour)))
}

func TestIndexField_Valid(t *testing.T) {
	assert.True(t, IndexCategory.Valid())
	assert.True(t, IndexGroup.Valid())
	assert.True(t, IndexDisplayName.Valid())
	assert.False(t, IndexField("height").Valid())
	assert.False(t, IndexField("").Valid())
}

func TestDuration_YAML(t *testing.T) {
	t.Run("string form", func(t *testing.T) {
		var out struct {
			TTL Duration `yaml:"ttl"`
		}
		require.NoError(t, yaml.Unmarshal([]byte("ttl: 24h"), &out))
		assert.Equal(t, 24*time.Hour, out.TTL.Std())
	})

	t.Run("integer nanoseconds", func(t *testing.T) {
		var out struct {
			TTL Duration `yaml:"ttl"`
		}
		require.NoError(t, yaml.Unmarshal([]byte("ttl: 1000000000"), &out))
		assert.Equal(t, time.Second, out.TTL.Std())
	})

	t.Run("garbage", func(t *testing.T) {
		var out struct {
			TTL Duration `yaml:"ttl"`
		}
		err := yaml.Unmarshal([]byte("ttl: soon"), &out)
		assert.Error(t, err)
	})

	t.Run("round trip", func(t *testing.T) {
		in := struct {
			TTL Duration `yaml:"ttl"`
		}{TTL: Duration(90 * time.Second)}

		raw, err := yaml.Marshal(in)
		require.NoError(t, err)

		var out struct {
			TTL Duration `yaml:"ttl"`
		}
		require.NoError(t, yaml.Unmarshal(raw, &out))
		assert.Equal(t, in.TTL, out.TTL)
	})
}

func TestDuration_JSON(t *testing.T) {
	var out struct {
		TTL Duration `json:"ttl"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"ttl":"30s"}`), &out))
	assert.Equal(t, 30*time.Second, out.TTL.Std())

	require.NoError(t, json.Unmarshal([]byte(`{"ttl":1000000000}`), &out))
	assert.Equal(t, time.Second, out.TTL.Std())
}

func TestRecordSet_Records(t *testing.T) {
	set := RecordSet{
		"p1": {ID: "p1", DisplayName: "Josh Allen"},
		"p2": {ID: "p2", DisplayName: "Joseph Smith"},
	}

	records := set.Records()
	require.Len(t, records, 2)

	ids := []string{records[0].ID, records[1].ID}
	assert.ElementsMatch(t, []string{"p1", "p2"}, ids)

	assert.Empty(t, RecordSet{}.Records())
}
