package blob

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-player-cache/types"
	"github.com/saiset-co/sai-player-cache/utils"
)

type RedisConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// RedisStore is the fallback tier backed by redis, for deployments where
// the session cache should outlive the process. Same envelope, same key
// layout as the memory backend; redis expiry is set alongside the
// envelope TTL so stale entries also age out physically.
type RedisStore struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	config  *RedisConfig
	keys    keyspace
	client  *redis.Client
	started int32
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.FallbackConfig, keys keyspace) (types.BlobStore, error) {
	redisConfig := &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis blob store config")
		}
	}

	storeCtx, cancel := context.WithCancel(ctx)

	store := &RedisStore{
		ctx:    storeCtx,
		cancel: cancel,
		logger: logger,
		config: redisConfig,
		keys:   keys,
	}

	store.client = redis.NewClient(&redis.Options{
		Addr:         redisAddr(redisConfig),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	return store, nil
}

func redisAddr(config *RedisConfig) string {
	return config.Host + ":" + strconv.Itoa(config.Port)
}

func (r *RedisStore) IsAvailable() bool {
	probe := r.keys.Probe()

	if err := r.client.Set(r.ctx, probe, "1", time.Minute).Err(); err != nil {
		return false
	}
	r.client.Del(r.ctx, probe)

	return true
}

func (r *RedisStore) Get(ctx context.Context) (types.RecordSet, *types.CacheEnvelope, bool) {
	key := r.keys.Entry()

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Warn("Fallback redis read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, nil, false
	}

	env, set, err := decodeEnvelope(raw, r.keys.version, time.Now())
	if err != nil {
		r.logger.Debug("Fallback entry dropped", zap.String("key", key), zap.Error(err))
		r.client.Del(ctx, key)
		return nil, nil, false
	}

	return set, env, true
}

func (r *RedisStore) Set(ctx context.Context, records types.RecordSet, ttl time.Duration) bool {
	if ttl < 0 {
		ttl = types.DefaultTTL
	}

	raw, err := encodeEnvelope(records, ttl, r.keys.version)
	if err != nil {
		r.logger.Error("Failed to encode fallback envelope", zap.Error(err))
		return false
	}

	err = r.client.Set(ctx, r.keys.Entry(), raw, ttl).Err()
	if err == nil {
		return true
	}

	if !isRedisQuotaError(err) {
		r.logger.Warn("Fallback redis write failed", zap.Error(err))
		return false
	}

	r.logger.Warn("Fallback store quota exceeded, clearing namespace and retrying once",
		zap.Int("incoming_bytes", len(raw)))

	if clearErr := r.Clear(ctx); clearErr != nil {
		r.logger.Warn("Fallback clear after quota failure failed", zap.Error(clearErr))
		return false
	}

	if err := r.client.Set(ctx, r.keys.Entry(), raw, ttl).Err(); err != nil {
		r.logger.Warn("Fallback write failed after quota recovery, caching disabled", zap.Error(err))
		return false
	}

	return true
}

// isRedisQuotaError matches maxmemory rejections ("OOM command not
// allowed when used memory > 'maxmemory'").
func isRedisQuotaError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "OOM")
}

func (r *RedisStore) Invalidate(ctx context.Context) error {
	return r.client.Del(ctx, r.keys.Entry()).Err()
}

func (r *RedisStore) Clear(ctx context.Context) error {
	keys, err := r.scanPrefix(ctx, r.keys.CachePrefix())
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) SweepExpired(ctx context.Context) int {
	keys, err := r.scanPrefix(ctx, r.keys.CachePrefix())
	if err != nil {
		r.logger.Warn("Fallback sweep scan failed", zap.Error(err))
		return 0
	}

	now := time.Now()
	removed := 0

	for _, key := range keys {
		raw, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		if _, _, err := decodeEnvelope(raw, r.keys.version, now); err != nil {
			if r.client.Del(ctx, key).Err() == nil {
				removed++
			}
		}
	}

	return removed
}

func (r *RedisStore) scanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, types.WrapError(err, "redis scan failed")
		}

		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

func (r *RedisStore) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrManagerAlreadyRunning
	}

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		atomic.StoreInt32(&r.started, 0)
		return types.WrapError(types.ErrStorageUnavailable, err.Error())
	}

	r.logger.Info("Redis fallback store started",
		zap.String("addr", redisAddr(r.config)),
		zap.String("entry_key", r.keys.Entry()))
	return nil
}

func (r *RedisStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrManagerNotRunning
	}

	r.cancel()

	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis fallback store stopped gracefully")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}
