package gpu

import "github.com/drewdorris/xv6-d00m/internal/metrics"

// Metrics and MetricsSnapshot mirror the internal atomic counters at the
// package boundary.
type (
	Metrics         = metrics.Counters
	MetricsSnapshot = metrics.Snapshot
)

// NewMetrics returns a fresh, zeroed Metrics suitable for Config.Observer.
func NewMetrics() *Metrics {
	return metrics.New()
}
