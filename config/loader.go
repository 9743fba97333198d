package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/giro-sync/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, types.Errorf(types.ErrConfigInvalidPath, "file not found: %s", configPath)
	}
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.Load(data)
}

// Load parses YAML over Defaults and validates the result.
func (l *Loader) Load(data []byte) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}
	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}
	if config.Persistence != nil && config.Persistence.Enabled && config.Persistence.Type == "" {
		return types.Errorf(types.ErrConfigValidateFailed, "persistence.type is required when persistence is enabled")
	}
	if config.Backend.MaxBackoff > 0 && config.Backend.InitialBackoff > config.Backend.MaxBackoff {
		return types.Errorf(types.ErrConfigValidateFailed, "backend.initial_backoff exceeds backend.max_backoff")
	}
	return nil
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Backend: &types.BackendConfig{
			Timeout:        30 * time.Second,
			Retries:        3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Cache: &types.CacheConfig{
			GCSchedule:  "@every 1m",
			DefaultTier: types.TierNormal,
		},
		Staleness: &types.StalenessConfig{},
		Push: &types.PushConfig{
			Enabled:        false,
			ReconnectDelay: 5 * time.Second,
			MaxRetries:     10,
			PingInterval:   54 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
		},
		Persistence: &types.PersistenceConfig{
			Enabled:       false,
			FlushSchedule: "@every 30s",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "noop",
		},
		Prefetch: &types.PrefetchConfig{
			Workers:   4,
			QueueSize: 64,
			Timeout:   30 * time.Second,
		},
	}
}
