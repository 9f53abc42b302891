package types

import (
	"context"
	"time"
)

// RecordStore is the persistent, transactional, indexed tier. Read errors
// are returned for observability but callers treat any error the same as
// a miss, and write failures surface as false: a consumer can always fall
// through to the next tier, never needing to handle a fatal store error.
type RecordStore interface {
	LifecycleManager

	// Open is idempotent and safe to call concurrently; simultaneous
	// callers share one in-flight schema initialization.
	Open(ctx context.Context) error

	// GetAll returns the last committed record set, or nil when there is
	// no entry, the entry is expired, or its schema version mismatches.
	// Metadata is consulted before any record row is touched.
	GetAll(ctx context.Context) (RecordSet, error)

	// GetOne returns nil for an absent id, not an error.
	GetOne(ctx context.Context, id string) (*Record, error)

	// PutAll replaces the whole set plus metadata in one transaction.
	// On quota exhaustion it clears and retries exactly once; the second
	// failure is reported as false.
	PutAll(ctx context.Context, records RecordSet, ttl time.Duration) bool

	// QueryByIndex is an index-backed equality lookup, never a full scan.
	QueryByIndex(ctx context.Context, field IndexField, value string) ([]Record, error)

	// SearchPrefix is a case-insensitive ordered range scan on the
	// display-name index.
	SearchPrefix(ctx context.Context, field IndexField, query string) ([]Record, error)

	Metadata(ctx context.Context) (*CacheMetadata, error)

	// Clear empties records and metadata atomically, keeping the schema.
	Clear(ctx context.Context) error
}

// BlobStore is the session-scoped fallback tier. It holds the whole
// record set as one enveloped blob with no secondary indexes.
type BlobStore interface {
	LifecycleManager

	// IsAvailable probes with a throwaway write+delete rather than
	// trusting that the backend merely exists.
	IsAvailable() bool

	// Get returns the cached set with its envelope. Absent, corrupt,
	// version-mismatched and expired entries all read as a miss, and the
	// offending entry is deleted so the next read skips the parse.
	Get(ctx context.Context) (RecordSet, *CacheEnvelope, bool)

	// Set writes an envelope; clears the namespace and retries once on
	// quota exhaustion, then degrades to false.
	Set(ctx context.Context, records RecordSet, ttl time.Duration) bool

	Invalidate(ctx context.Context) error

	// Clear removes every entry under this cache's namespace, current
	// and stale-versioned alike.
	Clear(ctx context.Context) error

	// SweepExpired deletes expired and stale-versioned entries under the
	// namespace and reports how many were removed.
	SweepExpired(ctx context.Context) int
}

type BlobStoreCreator func(config interface{}) (BlobStore, error)

// RemoteSource is the upstream of last resort: the network service that
// owns the player directory.
type RemoteSource interface {
	FetchAll(ctx context.Context) ([]Record, error)
}

// PlayerCache is the tiered facade consumers call. It never propagates a
// storage failure: the worst a caller observes is a slower read that went
// all the way to the remote source.
type PlayerCache interface {
	LifecycleManager

	GetAll(ctx context.Context) (RecordSet, error)
	GetOne(ctx context.Context, id string) (*Record, error)
	SetAll(ctx context.Context, records RecordSet, ttl time.Duration) bool
	QueryByIndex(ctx context.Context, field IndexField, value string) ([]Record, error)
	SearchPrefix(ctx context.Context, field IndexField, query string) ([]Record, error)
	Metadata(ctx context.Context) *CacheMetadata
	IsAvailable() bool

	// Invalidate clears data in every tier without dropping schema, so
	// the next GetAll is guaranteed to refetch.
	Invalidate(ctx context.Context) error
	Clear(ctx context.Context) error
}
