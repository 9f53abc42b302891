package saiplayercache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-player-cache/blob"
	"github.com/saiset-co/sai-player-cache/cache"
	"github.com/saiset-co/sai-player-cache/config"
	"github.com/saiset-co/sai-player-cache/health"
	"github.com/saiset-co/sai-player-cache/logger"
	"github.com/saiset-co/sai-player-cache/metrics"
	"github.com/saiset-co/sai-player-cache/migration"
	"github.com/saiset-co/sai-player-cache/remote"
	"github.com/saiset-co/sai-player-cache/store"
	"github.com/saiset-co/sai-player-cache/sweep"
	"github.com/saiset-co/sai-player-cache/types"
)

// Service assembles the whole tiered cache from one config: logger,
// metrics, health, both storage tiers, the remote source, the migration
// coordinator, the orchestrator and the sweeper, with one Start/Stop
// lifecycle around all of it.
type Service struct {
	ctx      context.Context
	cancel   context.CancelFunc
	config   *types.CacheServiceConfig
	logger   types.Logger
	metrics  types.MetricsManager
	health   types.HealthManager
	primary  *store.SQLiteStore
	fallback types.BlobStore
	source   types.RemoteSource
	migrator *migration.Coordinator
	cache    types.PlayerCache
	sweeper  *sweep.Sweeper
	running  int32
}

func New(ctx context.Context, configPath string) (*Service, error) {
	cfg, err := config.NewLoader().LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}

	return NewWithConfig(ctx, cfg)
}

func NewWithConfig(ctx context.Context, cfg *types.CacheServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, types.ErrConfigIsNil
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	svc := &Service{
		ctx:    serviceCtx,
		cancel: cancel,
		config: cfg,
	}

	if err := svc.build(); err != nil {
		cancel()
		return nil, err
	}

	return svc, nil
}

func (s *Service) build() error {
	log, err := logger.NewDefaultLogger(s.config.Logger)
	if err != nil {
		return types.WrapError(err, "failed to build logger")
	}
	s.logger = log

	if s.config.Metrics != nil && s.config.Metrics.Enabled {
		mm, err := metrics.NewPrometheusMetrics(log, s.config.Metrics)
		if err != nil {
			return types.WrapError(err, "failed to build metrics manager")
		}
		s.metrics = mm
	}

	s.health = health.NewManager(log)

	cacheName := s.config.CacheName
	if cacheName == "" {
		cacheName = types.DefaultCacheName
	}

	schemaVersion := types.SchemaVersion
	if s.config.Cache != nil && s.config.Cache.SchemaVersion != "" {
		schemaVersion = s.config.Cache.SchemaVersion
	}

	primary, err := store.NewSQLiteStore(s.ctx, log, s.config.Primary, cacheName, schemaVersion)
	if err != nil {
		return types.WrapError(err, "failed to build primary store")
	}
	s.primary = primary
	s.health.RegisterChecker("primary_store", primary.HealthChecker())

	if s.config.Fallback != nil && s.config.Fallback.Enabled {
		fb, err := blob.NewBlobStore(s.ctx, log, s.config.Fallback, cacheName, schemaVersion)
		if err != nil {
			return types.WrapError(err, "failed to build fallback store")
		}
		s.fallback = fb
		s.health.RegisterChecker("fallback_store", fallbackChecker(fb))
	}

	if s.config.Remote != nil && s.config.Remote.BaseURL != "" {
		src, err := remote.NewHTTPSource(log, s.config.Remote)
		if err != nil {
			return types.WrapError(err, "failed to build remote source")
		}
		s.source = src
		s.health.RegisterChecker("remote_source", src.BreakerHealthChecker())
	}

	s.migrator = migration.NewCoordinator(log, primary, s.fallback, schemaVersion)

	tiered, err := cache.NewTieredCache(s.ctx, log, s.config.Cache, primary, s.fallback, s.source)
	if err != nil {
		return types.WrapError(err, "failed to build tiered cache")
	}
	s.cache = cache.NewInstrumentedCache(s.metrics, tiered)

	sweeper, err := sweep.NewSweeper(s.ctx, log, s.config.Sweep, primary, s.fallback, s.metrics)
	if err != nil {
		return types.WrapError(err, "failed to build sweeper")
	}
	s.sweeper = sweeper

	return nil
}

func (s *Service) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return types.ErrManagerAlreadyRunning
	}

	if s.metrics != nil {
		if err := s.metrics.Start(); err != nil {
			return err
		}
	}

	if err := s.health.Start(); err != nil {
		return err
	}

	if err := s.cache.Start(); err != nil {
		return err
	}

	// One-shot, idempotent: lift any session-cached data into the primary
	// tier now that it is open. A count mismatch is reported, not fatal.
	if s.migrator.NeedsMigration(s.ctx) {
		migrated, err := s.migrator.Migrate(s.ctx)
		if err != nil {
			s.logger.Warn("Migration finished with warnings", zap.Error(err))
		}
		if migrated {
			s.logger.Info("Fallback data migrated into primary store")
		}
	}

	if err := s.sweeper.Start(); err != nil {
		return err
	}

	s.logger.Info("Player cache service started",
		zap.String("name", s.config.Name),
		zap.String("version", s.config.Version))

	return nil
}

func (s *Service) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return types.ErrManagerNotRunning
	}

	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.sweeper.Stop(); err != nil && !types.IsError(err, types.ErrManagerNotRunning) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := s.cache.Stop(); err != nil && !types.IsError(err, types.ErrManagerNotRunning) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
		return err
	}

	s.health.Stop()
	if s.metrics != nil {
		s.metrics.Stop()
	}

	s.logger.Info("Player cache service stopped gracefully")
	return nil
}

func (s *Service) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// Cache is the tiered facade consumers work with.
func (s *Service) Cache() types.PlayerCache {
	return s.cache
}

// Migrator exposes the coordinator for operator-driven rollback.
func (s *Service) Migrator() *migration.Coordinator {
	return s.migrator
}

func (s *Service) Health(ctx context.Context) types.HealthReport {
	return s.health.Check(ctx)
}

func (s *Service) Metrics() types.MetricsManager {
	return s.metrics
}

func (s *Service) Logger() types.Logger {
	return s.logger
}

func fallbackChecker(fb types.BlobStore) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		check := types.HealthCheck{
			Name:      "fallback_store",
			Status:    types.StatusHealthy,
			LastCheck: time.Now(),
		}

		if !fb.IsAvailable() {
			check.Status = types.StatusUnhealthy
			check.Message = "availability probe failed"
		}

		return check
	}
}
