package blob

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-player-cache/types"
	"github.com/saiset-co/sai-player-cache/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type MemoryConfig struct {
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`
}

// MemoryStore is the default fallback tier: session-scoped, no secondary
// indexes, the whole record set as one enveloped blob. It exists for the
// time before the primary tier is opened and for sessions where the
// primary engine is unavailable outright.
type MemoryStore struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	config *MemoryConfig
	keys   keyspace
	data   map[string][]byte
	mu     sync.RWMutex
	state  atomic.Value
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.FallbackConfig, keys keyspace) (types.BlobStore, error) {
	memConfig := &MemoryConfig{
		MaxBytes: 0,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory blob store config")
		}
	}

	storeCtx, cancel := context.WithCancel(ctx)

	store := &MemoryStore{
		ctx:    storeCtx,
		cancel: cancel,
		logger: logger,
		config: memConfig,
		keys:   keys,
		data:   make(map[string][]byte),
	}

	store.state.Store(StateStopped)
	return store, nil
}

// IsAvailable exercises a real write+delete instead of assuming the
// backend works because it exists. Storage can be full or disabled even
// where the API is present.
func (m *MemoryStore) IsAvailable() bool {
	probe := m.keys.Probe()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[probe] = []byte("1")
	_, ok := m.data[probe]
	delete(m.data, probe)

	return ok
}

// Get parses the stored envelope. Absent key, parse failure, version
// mismatch and expiry all read as a miss, and the offending entry is
// deleted so the next read does not repeat the parse.
func (m *MemoryStore) Get(ctx context.Context) (types.RecordSet, *types.CacheEnvelope, bool) {
	key := m.keys.Entry()

	m.mu.RLock()
	raw, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		return nil, nil, false
	}

	env, set, err := decodeEnvelope(raw, m.keys.version, time.Now())
	if err != nil {
		m.logger.Debug("Fallback entry dropped", zap.String("key", key), zap.Error(err))
		m.deleteKey(key)
		return nil, nil, false
	}

	return set, env, true
}

func (m *MemoryStore) Set(ctx context.Context, records types.RecordSet, ttl time.Duration) bool {
	if ttl < 0 {
		ttl = types.DefaultTTL
	}

	raw, err := encodeEnvelope(records, ttl, m.keys.version)
	if err != nil {
		m.logger.Error("Failed to encode fallback envelope", zap.Error(err))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxBytes > 0 && m.usedBytesUnsafe()+int64(len(raw)) > m.config.MaxBytes {
		cleared := m.clearPrefixUnsafe(m.keys.CachePrefix())
		m.logger.Warn("Fallback store quota exceeded, cleared namespace and retrying once",
			zap.Int("cleared_entries", cleared),
			zap.Int("incoming_bytes", len(raw)),
			zap.Int64("max_bytes", m.config.MaxBytes))

		if m.usedBytesUnsafe()+int64(len(raw)) > m.config.MaxBytes {
			m.logger.Warn("Fallback write failed after quota recovery, caching disabled")
			return false
		}
	}

	m.data[m.keys.Entry()] = raw
	return true
}

func (m *MemoryStore) Invalidate(ctx context.Context) error {
	m.deleteKey(m.keys.Entry())
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearPrefixUnsafe(m.keys.CachePrefix())
	return nil
}

// SweepExpired removes expired and stale-versioned envelopes under the
// cache prefix. Stale versions are never read (their key changed), so this
// is housekeeping, not correctness.
func (m *MemoryStore) SweepExpired(ctx context.Context) int {
	now := time.Now()
	prefix := m.keys.CachePrefix()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, raw := range m.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, _, err := decodeEnvelope(raw, m.keys.version, now); err != nil {
			delete(m.data, key)
			removed++
		}
	}

	return removed
}

func (m *MemoryStore) usedBytesUnsafe() int64 {
	var used int64
	for _, raw := range m.data {
		used += int64(len(raw))
	}
	return used
}

func (m *MemoryStore) clearPrefixUnsafe(prefix string) int {
	cleared := 0
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
			cleared++
		}
	}
	return cleared
}

func (m *MemoryStore) deleteKey(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrManagerAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	m.logger.Info("Memory fallback store started", zap.String("entry_key", m.keys.Entry()))
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrManagerNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	m.cancel()

	m.mu.Lock()
	entries := len(m.data)
	m.data = make(map[string][]byte)
	m.mu.Unlock()

	m.logger.Info("Memory fallback store stopped", zap.Int("cleared_entries", entries))
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *MemoryStore) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryStore) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}
