package types

type CacheServiceConfig struct {
	Name      string          `yaml:"name" json:"name" validate:"required"`
	Version   string          `yaml:"version" json:"version" validate:"required"`
	CacheName string          `yaml:"cache_name" json:"cache_name"`
	Logger    *LoggerConfig   `yaml:"logger" json:"logger"`
	Primary   *PrimaryConfig  `yaml:"primary" json:"primary"`
	Fallback  *FallbackConfig `yaml:"fallback" json:"fallback"`
	Remote    *RemoteConfig   `yaml:"remote" json:"remote"`
	Cache     *TieredConfig   `yaml:"cache" json:"cache"`
	Sweep     *SweepConfig    `yaml:"sweep" json:"sweep"`
	Metrics   *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

// PrimaryConfig configures the persistent indexed tier. MaxBytes is the
// storage quota budget; zero means unbounded.
type PrimaryConfig struct {
	Path        string   `yaml:"path" json:"path"`
	MaxBytes    int64    `yaml:"max_bytes" json:"max_bytes" validate:"min=0"`
	BusyTimeout Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

// FallbackConfig configures the session-scoped tier. Type selects the
// backend ("memory" or "redis"); backend-specific settings live in Config.
type FallbackConfig struct {
	Enabled   bool        `yaml:"enabled" json:"enabled"`
	Type      string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Namespace string      `yaml:"namespace" json:"namespace"`
	Scope     string      `yaml:"scope" json:"scope"`
	Config    interface{} `yaml:"config" json:"config"`
}

type RemoteConfig struct {
	BaseURL        string                `yaml:"base_url" json:"base_url"`
	Path           string                `yaml:"path" json:"path"`
	Timeout        Duration              `yaml:"timeout" json:"timeout"`
	Retries        int                   `yaml:"retries" json:"retries" validate:"min=0"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	FailureThreshold int      `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int      `yaml:"half_open_requests" json:"half_open_requests"`
}

type TieredConfig struct {
	DefaultTTL    Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	SchemaVersion string   `yaml:"schema_version" json:"schema_version"`
}

type SweepConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Schedule string `yaml:"schedule" json:"schedule" validate:"required_if=Enabled true"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}
