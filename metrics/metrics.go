// Package metrics provides counters and latency histograms.
// Counters live in github.com/codahale/metrics, which publishes
// them through expvar. Latency histograms are published in the
// expvar map "latency" (name -> {"count", "p50", "p90", "p99", "max"}
// in nanoseconds) and cover the last five minutes.
package metrics

import (
	"expvar"
	"fmt"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/codahale/metrics"
)

const (
	latencyWindows = 5
	latencyPeriod  = time.Minute
)

var (
	latencyExpvar = expvar.NewMap("latency")

	latencyMu sync.Mutex
	latencies = map[string]*RotatingLatency{}
)

// Inc adds one to the named counter.
func Inc(name string) {
	metrics.Counter(name).Add()
}

// Count returns the current value of the named counter.
func Count(name string) int64 {
	counters, _ := metrics.Snapshot()
	return int64(counters[name])
}

// Latency returns the published histogram for name,
// creating it on first use. Its oldest window is dropped
// every minute.
func Latency(name string) *RotatingLatency {
	latencyMu.Lock()
	defer latencyMu.Unlock()
	if l := latencies[name]; l != nil {
		return l
	}
	l := NewRotatingLatency(latencyWindows, time.Second)
	latencies[name] = l
	latencyExpvar.Set(name, l)
	go rotateEvery(l, latencyPeriod, nil)
	return l
}

// rotateEvery rotates l each period until stop is closed.
// A nil stop never closes.
func rotateEvery(l *RotatingLatency, period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.Rotate()
		}
	}
}

// RotatingLatency is a latency histogram over the last n
// rotation periods. Values above max are recorded as max.
type RotatingLatency struct {
	max time.Duration

	mu sync.Mutex // protects h
	h  *hdrhistogram.WindowedHistogram
}

// NewRotatingLatency returns a histogram of n windows
// tracking durations up to max with three significant figures.
func NewRotatingLatency(n int, max time.Duration) *RotatingLatency {
	return &RotatingLatency{
		max: max,
		h:   hdrhistogram.NewWindowed(n, 1, int64(max), 3),
	}
}

// Record adds d to the current window.
func (l *RotatingLatency) Record(d time.Duration) {
	if d > l.max {
		d = l.max
	}
	if d < 1 {
		d = 1
	}
	l.mu.Lock()
	l.h.Current.RecordValue(int64(d)) // in range by construction
	l.mu.Unlock()
}

// RecordSince records the time elapsed since t0.
func (l *RotatingLatency) RecordSince(t0 time.Time) {
	l.Record(time.Since(t0))
}

// Rotate starts a new window, discarding the oldest one.
func (l *RotatingLatency) Rotate() {
	l.mu.Lock()
	l.h.Rotate()
	l.mu.Unlock()
}

// Snapshot summarizes the merged windows.
type Snapshot struct {
	Count         int64
	P50, P90, P99 time.Duration
	Max           time.Duration
}

// Snapshot merges all windows and reports quantiles.
func (l *RotatingLatency) Snapshot() Snapshot {
	l.mu.Lock()
	h := l.h.Merge()
	l.mu.Unlock()
	return Snapshot{
		Count: h.TotalCount(),
		P50:   time.Duration(h.ValueAtQuantile(50)),
		P90:   time.Duration(h.ValueAtQuantile(90)),
		P99:   time.Duration(h.ValueAtQuantile(99)),
		Max:   time.Duration(h.Max()),
	}
}

// String satisfies expvar.Var by formatting a JSON object.
func (l *RotatingLatency) String() string {
	s := l.Snapshot()
	return fmt.Sprintf(`{"count":%d,"p50":%d,"p90":%d,"p99":%d,"max":%d}`,
		s.Count, int64(s.P50), int64(s.P90), int64(s.P99), int64(s.Max))
}
