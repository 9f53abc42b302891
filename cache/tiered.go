package cache

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-player-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// TieredCache is the facade consumers call: primary store, then fallback
// store, then the remote source, writing a fresh fetch through to every
// tier that will take it. Failures inside the tiers never escape as
// errors; the worst outcome of a broken tier is a slower read.
type TieredCache struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	primary    types.RecordStore
	fallback   types.BlobStore
	remote     types.RemoteSource
	diag       types.Diagnostics
	defaultTTL time.Duration
	version    string
	fetchGroup singleflight.Group
	state      atomic.Value
}

func NewTieredCache(ctx context.Context, logger types.Logger, config *types.TieredConfig, primary types.RecordStore, fallback types.BlobStore, source types.RemoteSource) (*TieredCache, error) {
	if primary == nil {
		return nil, types.ErrStorageUnavailable
	}

	defaultTTL := types.DefaultTTL
	version := types.SchemaVersion
	if config != nil {
		if config.DefaultTTL > 0 {
			defaultTTL = config.DefaultTTL.Std()
		}
		if config.SchemaVersion != "" {
			version = config.SchemaVersion
		}
	}

	cacheCtx, cancel := context.WithCancel(ctx)

	t := &TieredCache{
		ctx:        cacheCtx,
		cancel:     cancel,
		logger:     logger,
		primary:    primary,
		fallback:   fallback,
		remote:     source,
		defaultTTL: defaultTTL,
		version:    version,
	}

	t.state.Store(StateStopped)
	return t, nil
}

// SetDiagnostics injects an optional diagnostics sink. Core logic never
// depends on it being present.
func (t *TieredCache) SetDiagnostics(d types.Diagnostics) {
	t.diag = d
}

// GetAll returns the current record set from the freshest usable tier.
// On a full miss it fetches from the remote source (one shared in-flight
// fetch regardless of how many callers arrive cold), writes through to
// every available tier, and returns the fetched set. A nil set with a nil
// error is a cold cache with no remote configured.
func (t *TieredCache) GetAll(ctx context.Context) (types.RecordSet, error) {
	if set, err := t.primary.GetAll(ctx); err == nil && set != nil {
		t.emit("tier_hit", "primary", "served from primary store", nil)
		return set, nil
	}

	if t.fallback != nil {
		if set, _, ok := t.fallback.Get(ctx); ok {
			t.emit("tier_hit", "fallback", "served from fallback store", nil)
			return set, nil
		}
	}

	return t.fetchAndPopulate(ctx)
}

func (t *TieredCache) fetchAndPopulate(ctx context.Context) (types.RecordSet, error) {
	if t.remote == nil {
		t.emit("tier_miss", "", "all tiers empty, no remote source configured", nil)
		return nil, nil
	}

	v, err, shared := t.fetchGroup.Do("fetch", func() (interface{}, error) {
		records, err := t.remote.FetchAll(ctx)
		if err != nil {
			// An aborted or failed fetch writes nothing anywhere.
			return nil, err
		}

		set := make(types.RecordSet, len(records))
		for _, rec := range records {
			if rec.ID == "" {
				continue
			}
			set[rec.ID] = rec
		}

		t.writeThrough(ctx, set, t.defaultTTL)
		return set, nil
	})

	if err != nil {
		t.emit("remote_error", "remote", err.Error(), nil)
		return nil, err
	}

	set := v.(types.RecordSet)
	t.emit("remote_fetch", "remote", "refetched from remote source",
		map[string]interface{}{"records": len(set), "shared": shared})

	return set, nil
}

// writeThrough lands a freshly fetched set in every tier that will take
// it. Both tiers are stamped from the same refresh, so their TTLs share
// one origin; the tiers only diverge when one of them was unavailable
// during a refresh.
func (t *TieredCache) writeThrough(ctx context.Context, records types.RecordSet, ttl time.Duration) bool {
	stored := false

	if t.primary.PutAll(ctx, records, ttl) {
		stored = true
	} else {
		t.emit("write_degraded", "primary", "primary write-through failed", nil)
	}

	if t.fallback != nil && t.fallback.IsAvailable() {
		if t.fallback.Set(ctx, records, ttl) {
			stored = true
		} else {
			t.emit("write_degraded", "fallback", "fallback write-through failed", nil)
		}
	}

	return stored
}

// GetOne serves a point lookup from the primary index when a valid set is
// committed there, otherwise filters a full GetAll in memory. Slower, but
// correct with the index tier down.
func (t *TieredCache) GetOne(ctx context.Context, id string) (*types.Record, error) {
	if t.primaryUsable(ctx) {
		return t.primary.GetOne(ctx, id)
	}

	set, err := t.GetAll(ctx)
	if err != nil || set == nil {
		return nil, err
	}

	if rec, ok := set[id]; ok {
		return &rec, nil
	}
	return nil, nil
}

// SetAll writes a record set through every tier. A negative ttl selects
// the configured default; zero is honored as an immediately stale write.
// True means at least one tier holds the data.
func (t *TieredCache) SetAll(ctx context.Context, records types.RecordSet, ttl time.Duration) bool {
	if ttl < 0 {
		ttl = t.defaultTTL
	}
	return t.writeThrough(ctx, records, ttl)
}

func (t *TieredCache) QueryByIndex(ctx context.Context, field types.IndexField, value string) ([]types.Record, error) {
	if !field.Valid() {
		return nil, types.Errorf(types.ErrInvalidIndexField, "field: %s", field)
	}

	if t.primaryUsable(ctx) {
		return t.primary.QueryByIndex(ctx, field, value)
	}

	set, err := t.GetAll(ctx)
	if err != nil || set == nil {
		return nil, err
	}

	var out []types.Record
	for _, rec := range set {
		if matchesIndex(rec, field, value) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matchesIndex(rec types.Record, field types.IndexField, value string) bool {
	switch field {
	case types.IndexCategory:
		return rec.Category == value
	case types.IndexGroup:
		return rec.Group == value
	case types.IndexDisplayName:
		return strings.EqualFold(rec.DisplayName, value)
	}
	return false
}

func (t *TieredCache) SearchPrefix(ctx context.Context, field types.IndexField, query string) ([]types.Record, error) {
	if field != types.IndexDisplayName {
		return nil, types.Errorf(types.ErrInvalidIndexField, "prefix search only supports %s", types.IndexDisplayName)
	}

	if t.primaryUsable(ctx) {
		return t.primary.SearchPrefix(ctx, field, query)
	}

	set, err := t.GetAll(ctx)
	if err != nil || set == nil {
		return nil, err
	}

	lower := strings.ToLower(query)
	var out []types.Record
	for _, rec := range set {
		if strings.HasPrefix(strings.ToLower(rec.DisplayName), lower) {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName) < strings.ToLower(out[j].DisplayName)
	})

	return out, nil
}

// Metadata reports the primary tier's committed metadata, synthesizing an
// equivalent view from the fallback envelope when the primary has none.
func (t *TieredCache) Metadata(ctx context.Context) *types.CacheMetadata {
	if meta, err := t.primary.Metadata(ctx); err == nil && meta != nil {
		return meta
	}

	if t.fallback != nil {
		if set, env, ok := t.fallback.Get(ctx); ok {
			return &types.CacheMetadata{
				LastUpdated:   env.Timestamp,
				SchemaVersion: env.Version,
				RecordCount:   len(set),
				SizeBytes:     int64(len(env.Data)),
				TTL:           env.TTL,
			}
		}
	}

	return nil
}

func (t *TieredCache) IsAvailable() bool {
	if _, err := t.primary.Metadata(t.ctx); err == nil {
		return true
	}
	return t.fallback != nil && t.fallback.IsAvailable()
}

// Invalidate empties data in every tier while keeping schema, forcing the
// next GetAll to refetch.
func (t *TieredCache) Invalidate(ctx context.Context) error {
	err := t.primary.Clear(ctx)

	if t.fallback != nil {
		if ferr := t.fallback.Invalidate(ctx); ferr != nil && err == nil {
			err = ferr
		}
	}

	t.emit("invalidated", "", "all tiers invalidated", nil)
	return err
}

func (t *TieredCache) Clear(ctx context.Context) error {
	err := t.primary.Clear(ctx)

	if t.fallback != nil {
		if ferr := t.fallback.Clear(ctx); ferr != nil && err == nil {
			err = ferr
		}
	}

	return err
}

// primaryUsable gates index delegation: the primary must hold a live,
// schema-compatible committed set.
func (t *TieredCache) primaryUsable(ctx context.Context) bool {
	meta, err := t.primary.Metadata(ctx)
	if err != nil {
		return false
	}
	return !types.IsExpired(meta, time.Now()) && meta.SchemaVersion == t.version
}

func (t *TieredCache) emit(eventType, tier, message string, fields map[string]interface{}) {
	if t.diag == nil {
		return
	}

	t.diag.Emit(types.DiagnosticEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Tier:      tier,
		Message:   message,
		Fields:    fields,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (t *TieredCache) Start() error {
	if !t.transitionState(StateStopped, StateStarting) {
		return types.ErrManagerAlreadyRunning
	}

	defer func() {
		if t.getState() == StateStarting {
			t.setState(StateRunning)
		}
	}()

	if err := t.primary.Start(); err != nil && !types.IsError(err, types.ErrManagerAlreadyRunning) {
		// A dead primary engine is a degraded mode, not a startup failure.
		t.logger.Warn("Primary store unavailable, operating on fallback and remote tiers",
			zap.Error(err))
	}

	if t.fallback != nil {
		if err := t.fallback.Start(); err != nil && !types.IsError(err, types.ErrManagerAlreadyRunning) {
			t.logger.Warn("Fallback store unavailable", zap.Error(err))
		}
	}

	t.logger.Info("Tiered cache started",
		zap.Duration("default_ttl", t.defaultTTL),
		zap.String("schema_version", t.version))

	return nil
}

func (t *TieredCache) Stop() error {
	if !t.transitionState(StateRunning, StateStopping) {
		return types.ErrManagerNotRunning
	}

	defer func() {
		t.setState(StateStopped)
	}()

	t.cancel()

	g := new(errgroup.Group)

	g.Go(func() error {
		if err := t.primary.Stop(); err != nil && !types.IsError(err, types.ErrManagerNotRunning) {
			return err
		}
		return nil
	})

	if t.fallback != nil {
		g.Go(func() error {
			if err := t.fallback.Stop(); err != nil && !types.IsError(err, types.ErrManagerNotRunning) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.logger.Error("Error during tiered cache shutdown", zap.Error(err))
		return err
	}

	t.logger.Info("Tiered cache stopped gracefully")
	return nil
}

func (t *TieredCache) IsRunning() bool {
	return t.getState() == StateRunning
}

func (t *TieredCache) getState() State {
	return t.state.Load().(State)
}

func (t *TieredCache) setState(newState State) bool {
	currentState := t.getState()
	return t.state.CompareAndSwap(currentState, newState)
}

func (t *TieredCache) transitionState(from, to State) bool {
	return t.state.CompareAndSwap(from, to)
}
