package domain

import "time"

// Well-known telemetry metric names.
const (
	MetricLoad             = "load"
	MetricMemory           = "memory"
	MetricErrorRate        = "error_rate"
	MetricPerformanceScore = "performance_score"
)

// Telemetry is a snapshot of live system metrics.
type Telemetry struct {
	Metrics     map[string]float64
	Available   []string
	CollectedAt time.Time
}

// Metric returns the named metric and whether it was reported.
func (t Telemetry) Metric(name string) (float64, bool) {
	v, ok := t.Metrics[name]
	return v, ok
}

// IsAvailable reports whether name is listed as available.
func (t Telemetry) IsAvailable(name string) bool {
	for _, a := range t.Available {
		if a == name {
			return true
		}
	}
	return false
}

// WithAvailable returns a copy of t with extra names appended to Available.
func (t Telemetry) WithAvailable(names ...string) Telemetry {
	out := t
	out.Available = make([]string, 0, len(t.Available)+len(names))
	out.Available = append(out.Available, t.Available...)
	out.Available = append(out.Available, names...)
	return out
}
