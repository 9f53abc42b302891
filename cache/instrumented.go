package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-player-cache/types"
)

// NewInstrumentedCache wraps a PlayerCache with per-operation counters and
// latency histograms. Passing a nil metrics manager returns the impl
// unwrapped.
func NewInstrumentedCache(metrics types.MetricsManager, impl types.PlayerCache) types.PlayerCache {
	if metrics == nil {
		return impl
	}

	return &instrumentedCache{
		impl:    impl,
		metrics: metrics,
	}
}

type instrumentedCache struct {
	impl    types.PlayerCache
	metrics types.MetricsManager
}

func (ic *instrumentedCache) GetAll(ctx context.Context) (types.RecordSet, error) {
	start := time.Now()
	set, err := ic.impl.GetAll(ctx)
	ic.record("get_all", hitOrMiss(set != nil, err), start)
	return set, err
}

func (ic *instrumentedCache) GetOne(ctx context.Context, id string) (*types.Record, error) {
	start := time.Now()
	rec, err := ic.impl.GetOne(ctx, id)
	ic.record("get_one", hitOrMiss(rec != nil, err), start)
	return rec, err
}

func (ic *instrumentedCache) SetAll(ctx context.Context, records types.RecordSet, ttl time.Duration) bool {
	start := time.Now()
	ok := ic.impl.SetAll(ctx, records, ttl)

	result := "success"
	if !ok {
		result = "error"
	}

	ic.record("set_all", result, start)
	return ok
}

func (ic *instrumentedCache) QueryByIndex(ctx context.Context, field types.IndexField, value string) ([]types.Record, error) {
	start := time.Now()
	out, err := ic.impl.QueryByIndex(ctx, field, value)
	ic.record("query_by_index", hitOrMiss(len(out) > 0, err), start)
	return out, err
}

func (ic *instrumentedCache) SearchPrefix(ctx context.Context, field types.IndexField, query string) ([]types.Record, error) {
	start := time.Now()
	out, err := ic.impl.SearchPrefix(ctx, field, query)
	ic.record("search_prefix", hitOrMiss(len(out) > 0, err), start)
	return out, err
}

func (ic *instrumentedCache) Metadata(ctx context.Context) *types.CacheMetadata {
	return ic.impl.Metadata(ctx)
}

func (ic *instrumentedCache) IsAvailable() bool {
	return ic.impl.IsAvailable()
}

func (ic *instrumentedCache) Invalidate(ctx context.Context) error {
	start := time.Now()
	err := ic.impl.Invalidate(ctx)
	ic.record("invalidate", successOrError(err), start)
	return err
}

func (ic *instrumentedCache) Clear(ctx context.Context) error {
	start := time.Now()
	err := ic.impl.Clear(ctx)
	ic.record("clear", successOrError(err), start)
	return err
}

func (ic *instrumentedCache) Start() error {
	start := time.Now()
	err := ic.impl.Start()
	ic.record("start", successOrError(err), start)
	return err
}

func (ic *instrumentedCache) Stop() error {
	return ic.impl.Stop()
}

func (ic *instrumentedCache) IsRunning() bool {
	return ic.impl.IsRunning()
}

func (ic *instrumentedCache) record(operation, result string, start time.Time) {
	opCounter := ic.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := ic.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.ObserveDuration(start)
}

func hitOrMiss(hit bool, err error) string {
	if err != nil {
		return "error"
	}
	if hit {
		return "hit"
	}
	return "miss"
}

func successOrError(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
