package types

import (
	"time"
)

type ConfigManager interface {
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger"`
	Backend     *BackendConfig     `yaml:"backend" json:"backend" validate:"required"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache"`
	Staleness   *StalenessConfig   `yaml:"staleness" json:"staleness"`
	Push        *PushConfig        `yaml:"push" json:"push"`
	Persistence *PersistenceConfig `yaml:"persistence" json:"persistence"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Prefetch    *PrefetchConfig    `yaml:"prefetch" json:"prefetch"`
}

type LoggerConfig struct {
	Level  string      `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Config interface{} `yaml:"config" json:"config"`
}

type BackendConfig struct {
	BaseURL        string                `yaml:"base_url" json:"base_url" validate:"required,url"`
	Timeout        time.Duration         `yaml:"timeout" json:"timeout" validate:"min=0"`
	Retries        int                   `yaml:"retries" json:"retries" validate:"min=0"`
	InitialBackoff time.Duration         `yaml:"initial_backoff" json:"initial_backoff" validate:"min=0"`
	MaxBackoff     time.Duration         `yaml:"max_backoff" json:"max_backoff" validate:"min=0"`
	Headers        map[string]string     `yaml:"headers" json:"headers"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"min=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests"`
}

type CacheConfig struct {
	GCSchedule  string   `yaml:"gc_schedule" json:"gc_schedule"`
	DefaultTier TierName `yaml:"default_tier" json:"default_tier" validate:"omitempty,oneof=volatile normal low-priority static"`
}

type StalenessConfig struct {
	Tiers map[TierName]TierConfig `yaml:"tiers" json:"tiers"`
	Kinds map[EntityKind]TierName `yaml:"kinds" json:"kinds"`
}

// TierConfig overrides tier horizons. A zero value keeps the default,
// a negative value means forever.
type TierConfig struct {
	StaleTime time.Duration `yaml:"stale_time" json:"stale_time"`
	GCTime    time.Duration `yaml:"gc_time" json:"gc_time"`
}

type PushConfig struct {
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	URL            string            `yaml:"url" json:"url" validate:"required_if=Enabled true"`
	Headers        map[string]string `yaml:"headers" json:"headers"`
	ReconnectDelay time.Duration     `yaml:"reconnect_delay" json:"reconnect_delay"`
	MaxRetries     int               `yaml:"max_retries" json:"max_retries" validate:"min=0"`
	PingInterval   time.Duration     `yaml:"ping_interval" json:"ping_interval"`
	PongWait       time.Duration     `yaml:"pong_wait" json:"pong_wait"`
	WriteWait      time.Duration     `yaml:"write_wait" json:"write_wait"`
}

type PersistenceConfig struct {
	Enabled       bool        `yaml:"enabled" json:"enabled"`
	Type          string      `yaml:"type" json:"type" validate:"omitempty,oneof=memory clover redis sqlite"`
	FlushSchedule string      `yaml:"flush_schedule" json:"flush_schedule"`
	Config        interface{} `yaml:"config" json:"config"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"omitempty,oneof=prometheus noop"`
	Config  interface{} `yaml:"config" json:"config"`
}

type PrefetchConfig struct {
	Workers   int           `yaml:"workers" json:"workers" validate:"min=0"`
	QueueSize int           `yaml:"queue_size" json:"queue_size" validate:"min=0"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
}
