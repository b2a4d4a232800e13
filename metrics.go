package slabpool

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    exhausted prometheus.Counter
//	    misuse    prometheus.Counter
//	}
//
//	func (p *PrometheusCollector) RecordAllocate(duration time.Duration, ok bool) {
//	    if !ok {
//	        p.exhausted.Inc()
//	    }
//	}
//
// Pools skip timing entirely when the collector is NoopMetricsCollector.
type MetricsCollector interface {
	// RecordAllocate is called after each Allocate. ok is false on exhaustion.
	RecordAllocate(duration time.Duration, ok bool)

	// RecordRelease is called after each Release. err is non-nil on misuse.
	RecordRelease(duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot write or restore.
	// bytes is the encoded snapshot size.
	RecordSnapshot(bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAllocate(time.Duration, bool)         {}
func (NoopMetricsCollector) RecordRelease(time.Duration, error)         {}
func (NoopMetricsCollector) RecordSnapshot(int64, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocateCount      atomic.Int64
	AllocateExhausted  atomic.Int64
	AllocateTotalNanos atomic.Int64
	ReleaseCount       atomic.Int64
	ReleaseErrors      atomic.Int64
	ReleaseTotalNanos  atomic.Int64
	SnapshotCount      atomic.Int64
	SnapshotErrors     atomic.Int64
	SnapshotBytes      atomic.Int64
}

// RecordAllocate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAllocate(duration time.Duration, ok bool) {
	b.AllocateCount.Add(1)
	b.AllocateTotalNanos.Add(duration.Nanoseconds())
	if !ok {
		b.AllocateExhausted.Add(1)
	}
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(duration time.Duration, err error) {
	b.ReleaseCount.Add(1)
	b.ReleaseTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ReleaseErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(bytes int64, _ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
		return
	}
	b.SnapshotBytes.Add(bytes)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AllocateCount:     b.AllocateCount.Load(),
		AllocateExhausted: b.AllocateExhausted.Load(),
		AllocateAvgNanos:  avg(b.AllocateTotalNanos.Load(), b.AllocateCount.Load()),
		ReleaseCount:      b.ReleaseCount.Load(),
		ReleaseErrors:     b.ReleaseErrors.Load(),
		ReleaseAvgNanos:   avg(b.ReleaseTotalNanos.Load(), b.ReleaseCount.Load()),
		SnapshotCount:     b.SnapshotCount.Load(),
		SnapshotErrors:    b.SnapshotErrors.Load(),
		SnapshotBytes:     b.SnapshotBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AllocateCount     int64
	AllocateExhausted int64
	AllocateAvgNanos  int64
	ReleaseCount      int64
	ReleaseErrors     int64
	ReleaseAvgNanos   int64
	SnapshotCount     int64
	SnapshotErrors    int64
	SnapshotBytes     int64
}
