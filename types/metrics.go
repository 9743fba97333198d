package types

import (
	"time"
)

// MetricsManager hands out labelled instruments. Asking twice for the same
// name and labels returns the same underlying series.
type MetricsManager interface {
	Counter(name string, labels map[string]string) Counter
	Gauge(name string, labels map[string]string) Gauge
	Histogram(name string, buckets []float64, labels map[string]string) Histogram
}

type Counter interface {
	Inc()
	Add(value float64)
	Get() float64
}

// Gauge tracks sizes such as live cache entries or queued prefetches.
type Gauge interface {
	Set(value float64)
	Add(value float64)
	Get() float64
}

type Histogram interface {
	Observe(value float64)
	ObserveSince(start time.Time)
	Count() uint64
	Sum() float64
}
