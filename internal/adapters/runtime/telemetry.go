// Package runtime derives telemetry from the current process.
package runtime

import (
	"context"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

const (
	// DefaultGoroutinesPerCPU is the goroutine count per CPU treated as full load.
	DefaultGoroutinesPerCPU = 10

	// DefaultErrorWindow is the trailing window the error rate covers.
	DefaultErrorWindow = 5 * time.Minute
)

type outcome struct {
	at time.Time
	ok bool
}

// Provider implements ports.TelemetryProvider with process heuristics:
// goroutine count as a proxy for load, heap usage for memory, and the
// outcomes fed to ObserveRequest within a trailing window for the error
// rate.
type Provider struct {
	mu sync.Mutex

	goroutinesPerCPU int
	clock            clock.Clock
	static           map[string]float64

	window   time.Duration
	outcomes []outcome

	// overridable for tests
	numGoroutine func() int
	numCPU       func() int
	memStats     func(*goruntime.MemStats)
}

// Option configures a Provider.
type Option func(*Provider)

// WithGoroutinesPerCPU sets the goroutine count per CPU treated as full load.
func WithGoroutinesPerCPU(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.goroutinesPerCPU = n
		}
	}
}

// WithStaticMetric reports a fixed value for name in every snapshot.
// Static metrics override derived ones.
func WithStaticMetric(name string, value float64) Option {
	return func(p *Provider) { p.static[name] = value }
}

// WithErrorWindow sets the trailing window the error rate covers.
func WithErrorWindow(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.window = d
		}
	}
}

// WithClock sets the clock used for CollectedAt and the error window.
func WithClock(c clock.Clock) Option {
	return func(p *Provider) { p.clock = c }
}

// New creates a provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		goroutinesPerCPU: DefaultGoroutinesPerCPU,
		window:           DefaultErrorWindow,
		clock:            clock.WallClock,
		static:           make(map[string]float64),
		numGoroutine:     goruntime.NumGoroutine,
		numCPU:           goruntime.NumCPU,
		memStats:         goruntime.ReadMemStats,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ObserveRequest records the outcome of one unit of work for the error rate.
func (p *Provider) ObserveRequest(ok bool) {
	now := p.clock.Now()
	p.mu.Lock()
	p.prune(now)
	p.outcomes = append(p.outcomes, outcome{at: now, ok: ok})
	p.mu.Unlock()
}

// prune drops outcomes older than the window. Outcomes are appended in
// clock order. Callers hold p.mu.
func (p *Provider) prune(now time.Time) {
	cutoff := now.Add(-p.window)
	i := 0
	for i < len(p.outcomes) && !p.outcomes[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		p.outcomes = append(p.outcomes[:0], p.outcomes[i:]...)
	}
}

// Snapshot implements ports.TelemetryProvider. The error rate covers the
// requests observed within the trailing window and is omitted when there
// were none. Reading does not consume observations.
func (p *Provider) Snapshot(ctx context.Context) (domain.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return domain.Telemetry{}, err
	}

	capacity := p.numCPU() * p.goroutinesPerCPU
	load := float64(p.numGoroutine()) / float64(capacity)
	if load > 1 {
		load = 1
	}

	var ms goruntime.MemStats
	p.memStats(&ms)
	memory := 0.0
	if ms.Sys > 0 {
		memory = float64(ms.HeapAlloc) / float64(ms.Sys)
	}

	metrics := map[string]float64{
		domain.MetricLoad:             load,
		domain.MetricMemory:           memory,
		domain.MetricPerformanceScore: 1 - load,
	}

	now := p.clock.Now()
	p.mu.Lock()
	p.prune(now)
	if n := len(p.outcomes); n > 0 {
		failures := 0
		for _, o := range p.outcomes {
			if !o.ok {
				failures++
			}
		}
		metrics[domain.MetricErrorRate] = float64(failures) / float64(n)
	}
	for name, v := range p.static {
		metrics[name] = v
	}
	p.mu.Unlock()

	return domain.Telemetry{Metrics: metrics, CollectedAt: now}, nil
}

var _ ports.TelemetryProvider = (*Provider)(nil)
