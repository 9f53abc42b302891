package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-player-cache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.CacheServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.WrapError(types.ErrConfigNotFound, configPath)
		}
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.Load(data)
}

func (l *Loader) Load(data []byte) (*types.CacheServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(types.ErrConfigParseFailed, err.Error())
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.CacheServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.WrapError(types.ErrConfigValidateFailed, err.Error())
	}

	return nil
}

func (l *Loader) Defaults() *types.CacheServiceConfig {
	return &types.CacheServiceConfig{
		Name:      "sai-player-cache",
		Version:   "1.0.0",
		CacheName: types.DefaultCacheName,
		Logger: &types.LoggerConfig{
			Type:  "zap",
			Level: "info",
		},
		Primary: &types.PrimaryConfig{
			Path:        "data/players.db",
			MaxBytes:    0,
			BusyTimeout: types.Duration(5 * time.Second),
		},
		Fallback: &types.FallbackConfig{
			Enabled:   true,
			Type:      "memory",
			Namespace: "playercache",
			Scope:     "global",
		},
		Remote: &types.RemoteConfig{
			Path:    "/api/players",
			Timeout: types.Duration(30 * time.Second),
			Retries: 2,
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  types.Duration(30 * time.Second),
				HalfOpenRequests: 2,
			},
		},
		Cache: &types.TieredConfig{
			DefaultTTL:    types.Duration(types.DefaultTTL),
			SchemaVersion: types.SchemaVersion,
		},
		Sweep: &types.SweepConfig{
			Enabled:  true,
			Schedule: "@every 1h",
		},
		Metrics: &types.MetricsConfig{
			Enabled:   true,
			Namespace: "player_cache",
		},
	}
}
