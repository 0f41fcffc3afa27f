package catid

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordRegister is called after each register operation.
	// added and duplicates count the samples stored and skipped.
	RecordRegister(added, duplicates int, duration time.Duration, err error)

	// RecordIdentify is called after each identification.
	RecordIdentify(matched bool, duration time.Duration, err error)

	// RecordSync is called after each sync from remote storage.
	RecordSync(processed, skipped, failedCats int, duration time.Duration)

	// RecordResolve is called for every track resolution. cached is true when
	// the track identity was already locked.
	RecordResolve(cached bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRegister(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordIdentify(bool, time.Duration, error)     {}
func (NoopMetricsCollector) RecordSync(int, int, int, time.Duration)       {}
func (NoopMetricsCollector) RecordResolve(bool)                            {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	RegisterCount      atomic.Int64
	RegisterErrors     atomic.Int64
	RegisterAdded      atomic.Int64
	RegisterDuplicates atomic.Int64
	IdentifyCount      atomic.Int64
	IdentifyMatched    atomic.Int64
	IdentifyErrors     atomic.Int64
	IdentifyTotalNanos atomic.Int64
	SyncCount          atomic.Int64
	SyncProcessed      atomic.Int64
	SyncSkipped        atomic.Int64
	SyncFailedCats     atomic.Int64
	ResolveCount       atomic.Int64
	ResolveCached      atomic.Int64
}

// RecordRegister implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRegister(added, duplicates int, _ time.Duration, err error) {
	b.RegisterCount.Add(1)
	if err != nil {
		b.RegisterErrors.Add(1)
		return
	}
	b.RegisterAdded.Add(int64(added))
	b.RegisterDuplicates.Add(int64(duplicates))
}

// RecordIdentify implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIdentify(matched bool, duration time.Duration, err error) {
	b.IdentifyCount.Add(1)
	b.IdentifyTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.IdentifyErrors.Add(1)
	}
	if matched {
		b.IdentifyMatched.Add(1)
	}
}

// RecordSync implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSync(processed, skipped, failedCats int, _ time.Duration) {
	b.SyncCount.Add(1)
	b.SyncProcessed.Add(int64(processed))
	b.SyncSkipped.Add(int64(skipped))
	b.SyncFailedCats.Add(int64(failedCats))
}

// RecordResolve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordResolve(cached bool) {
	b.ResolveCount.Add(1)
	if cached {
		b.ResolveCached.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RegisterCount:      b.RegisterCount.Load(),
		RegisterErrors:     b.RegisterErrors.Load(),
		RegisterAdded:      b.RegisterAdded.Load(),
		RegisterDuplicates: b.RegisterDuplicates.Load(),
		IdentifyCount:      b.IdentifyCount.Load(),
		IdentifyMatched:    b.IdentifyMatched.Load(),
		IdentifyErrors:     b.IdentifyErrors.Load(),
		IdentifyAvgNanos:   b.getAvgIdentifyNanos(),
		SyncCount:          b.SyncCount.Load(),
		SyncProcessed:      b.SyncProcessed.Load(),
		SyncSkipped:        b.SyncSkipped.Load(),
		SyncFailedCats:     b.SyncFailedCats.Load(),
		ResolveCount:       b.ResolveCount.Load(),
		ResolveCached:      b.ResolveCached.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgIdentifyNanos() int64 {
	count := b.IdentifyCount.Load()
	if count == 0 {
		return 0
	}
	return b.IdentifyTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RegisterCount      int64
	RegisterErrors     int64
	RegisterAdded      int64
	RegisterDuplicates int64
	IdentifyCount      int64
	IdentifyMatched    int64
	IdentifyErrors     int64
	IdentifyAvgNanos   int64
	SyncCount          int64
	SyncProcessed      int64
	SyncSkipped        int64
	SyncFailedCats     int64
	ResolveCount       int64
	ResolveCached      int64
}
