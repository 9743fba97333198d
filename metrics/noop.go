package metrics

import (
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/types"
)

type NoopMetrics struct{}

func NewNoop() types.MetricsManager {
	return NoopMetrics{}
}

func (NoopMetrics) Counter(string, map[string]string) types.Counter {
	return noopCounter{}
}

func (NoopMetrics) Gauge(string, map[string]string) types.Gauge {
	return noopGauge{}
}

func (NoopMetrics) Histogram(string, []float64, map[string]string) types.Histogram {
	return noopHistogram{}
}

type noopCounter struct{}

func (noopCounter) Inc()         {}
func (noopCounter) Add(float64)  {}
func (noopCounter) Get() float64 { return 0 }

type noopGauge struct{}

func (noopGauge) Set(float64)  {}
func (noopGauge) Add(float64)  {}
func (noopGauge) Get() float64 { return 0 }

type noopHistogram struct{}

func (noopHistogram) Observe(float64)        {}
func (noopHistogram) ObserveSince(time.Time) {}
func (noopHistogram) Count() uint64          { return 0 }
func (noopHistogram) Sum() float64           { return 0 }

// NewMetrics builds the configured metrics backend; disabled metrics yield a no-op manager.
func NewMetrics(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	if config == nil || !config.Enabled {
		return NewNoop(), nil
	}

	switch config.Type {
	case "prometheus":
		return NewPrometheusMetrics(logger, config)
	case "noop", "":
		logger.Debug("Metrics disabled by type", zap.String("type", config.Type))
		return NewNoop(), nil
	default:
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", config.Type)
	}
}
