package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-player-cache/types"
)

// Manager aggregates per-tier checkers into one report. Checkers are
// registered by the components that know how to probe themselves.
type Manager struct {
	logger   types.Logger
	checkers map[string]types.HealthChecker
	mu       sync.RWMutex
	running  int32
}

func NewManager(logger types.Logger) types.HealthManager {
	return &Manager{
		logger:   logger,
		checkers: make(map[string]types.HealthChecker),
	}
}

func (m *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	if name == "" || checker == nil {
		return
	}

	m.mu.Lock()
	m.checkers[name] = checker
	m.mu.Unlock()
}

func (m *Manager) Check(ctx context.Context) types.HealthReport {
	m.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(m.checkers))
	for name, checker := range m.checkers {
		checkers[name] = checker
	}
	m.mu.RUnlock()

	report := types.HealthReport{
		Status:    types.StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]types.HealthCheck, len(checkers)),
	}

	for name, checker := range checkers {
		check := checker(ctx)
		check.Name = name
		report.Checks[name] = check

		if check.Status == types.StatusUnhealthy {
			report.Status = types.StatusUnhealthy
		}
	}

	return report
}

func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrManagerAlreadyRunning
	}
	return nil
}

func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrManagerNotRunning
	}
	return nil
}

func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}
