package types

import (
	"encoding/json"
	"time"
)

const (
	// DefaultTTL bounds how long a cached player directory is served
	// before the next read goes back to the remote source.
	DefaultTTL = 24 * time.Hour

	// SchemaVersion is compared on every read. A mismatch invalidates
	// the whole entry, never individual fields.
	SchemaVersion = "3"

	DefaultCacheName = "players"
)

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// Record is one player directory entry. Category, Group and DisplayName
// are the three secondary index fields (position, team and player name in
// the NFL dataset); everything else rides along opaquely in Attributes.
type Record struct {
	ID          string                 `json:"id"`
	Category    string                 `json:"category"`
	Group       string                 `json:"group"`
	DisplayName string                 `json:"display_name"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// RecordSet is a full directory snapshot keyed by record ID.
type RecordSet map[string]Record

func (rs RecordSet) Records() []Record {
	out := make([]Record, 0, len(rs))
	for _, r := range rs {
		out = append(out, r)
	}
	return out
}

// IndexField names one of the secondary index dimensions.
type IndexField string

const (
	IndexCategory    IndexField = "category"
	IndexGroup       IndexField = "group"
	IndexDisplayName IndexField = "display_name"
)

func (f IndexField) Valid() bool {
	switch f {
	case IndexCategory, IndexGroup, IndexDisplayName:
		return true
	}
	return false
}

// CacheMetadata describes one committed record set. It is written in the
// same transaction as the records it describes, so it never refers to a
// batch that did not fully commit. Timestamps are milliseconds since epoch.
type CacheMetadata struct {
	Key           string `json:"key"`
	LastUpdated   int64  `json:"last_updated"`
	SchemaVersion string `json:"schema_version"`
	RecordCount   int    `json:"record_count"`
	SizeBytes     int64  `json:"approximate_size_bytes"`
	TTL           int64  `json:"ttl_ms"`
}

// Stale is the single staleness oracle. Every read path in every tier
// decides expiry through this function, never through ad hoc arithmetic.
func Stale(lastUpdated, ttlMS, nowMS int64) bool {
	return nowMS-lastUpdated > ttlMS
}

// IsExpired reports whether metadata describes data past its TTL.
// Nil metadata counts as expired.
func IsExpired(meta *CacheMetadata, now time.Time) bool {
	if meta == nil {
		return true
	}
	return Stale(meta.LastUpdated, meta.TTL, now.UnixMilli())
}

// CacheEnvelope is the self-contained wrapper the fallback tier stores.
// The fallback store has no metadata table, so expiry and versioning
// travel with the payload itself.
type CacheEnvelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
	Version   string          `json:"version"`
}

func (e *CacheEnvelope) Expired(now time.Time) bool {
	if e == nil {
		return true
	}
	return Stale(e.Timestamp, e.TTL, now.UnixMilli())
}

// DiagnosticEvent is emitted on cache-internal transitions (tier miss,
// fallback, quota recovery, migration) when a Diagnostics port is injected.
type DiagnosticEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Tier      string                 `json:"tier,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

type Diagnostics interface {
	Emit(event DiagnosticEvent)
}
