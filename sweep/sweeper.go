package sweep

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-player-cache/types"
)

// Sweeper periodically removes expired and stale-versioned envelopes from
// the fallback tier and publishes how fresh the primary tier's committed
// set is. Expiry is lazy on the read path either way; sweeping just keeps
// abandoned entries from occupying quota until the next write.
type Sweeper struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	config   *types.SweepConfig
	primary  types.RecordStore
	fallback types.BlobStore
	metrics  types.MetricsManager
	cron     *cron.Cron
	running  int32
}

func NewSweeper(ctx context.Context, logger types.Logger, config *types.SweepConfig, primary types.RecordStore, fallback types.BlobStore, metrics types.MetricsManager) (*Sweeper, error) {
	if config == nil {
		config = &types.SweepConfig{Enabled: false}
	}

	sweepCtx, cancel := context.WithCancel(ctx)

	s := &Sweeper{
		ctx:      sweepCtx,
		cancel:   cancel,
		logger:   logger,
		config:   config,
		primary:  primary,
		fallback: fallback,
		metrics:  metrics,
	}

	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{logger: logger})))

	if config.Enabled {
		if _, err := s.cron.AddFunc(config.Schedule, s.run); err != nil {
			cancel()
			return nil, types.Errorf(types.ErrSweepScheduleInvalid, "schedule: %s", config.Schedule)
		}
	}

	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	removed := 0
	if s.fallback != nil {
		removed = s.fallback.SweepExpired(ctx)
	}

	if removed > 0 {
		s.logger.Info("Fallback sweep removed stale entries", zap.Int("removed", removed))
	} else {
		s.logger.Debug("Fallback sweep found nothing to remove")
	}

	if s.metrics == nil {
		return
	}

	s.metrics.Counter("fallback_swept_entries_total", nil).Add(float64(removed))

	if meta, err := s.primary.Metadata(ctx); err == nil && meta != nil {
		age := time.Since(time.UnixMilli(meta.LastUpdated)).Seconds()
		s.metrics.Gauge("primary_entry_age_seconds", nil).Set(age)
		s.metrics.Gauge("primary_record_count", nil).Set(float64(meta.RecordCount))
	}
}

// RunOnce triggers a sweep outside the schedule, for maintenance hooks
// and tests.
func (s *Sweeper) RunOnce() {
	s.run()
}

func (s *Sweeper) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return types.ErrManagerAlreadyRunning
	}

	if !s.config.Enabled {
		s.logger.Debug("Sweeper disabled by config")
		return nil
	}

	s.cron.Start()
	s.logger.Info("Sweeper started", zap.String("schedule", s.config.Schedule))
	return nil
}

func (s *Sweeper) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return types.ErrManagerNotRunning
	}

	s.cancel()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("Sweeper stop timeout, a sweep may still be in flight")
	}

	s.logger.Info("Sweeper stopped gracefully")
	return nil
}

func (s *Sweeper) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

type cronLogger struct {
	logger types.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
