package catalog

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics. Implement it to integrate
// with monitoring systems; pass NoopMetricsCollector to disable collection.
type MetricsCollector interface {
	// RecordCreateItem is called after each item creation attempt.
	RecordCreateItem(duration time.Duration, err error)

	// RecordMutation is called after update/sale/delete operations.
	RecordMutation(duration time.Duration, err error)

	// RecordSearch is called after each search with the result count.
	RecordSearch(results int, duration time.Duration, err error)

	// RecordStructural is called after structural capacity operations
	// (chunk allocation, shard creation, range split/initialize).
	RecordStructural(duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCreateItem(time.Duration, error)  {}
func (NoopMetricsCollector) RecordMutation(time.Duration, error)    {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordStructural(time.Duration, error)  {}

// BasicMetricsCollector provides simple in-memory counters for debugging and
// basic monitoring.
type BasicMetricsCollector struct {
	CreateCount      atomic.Int64
	CreateErrors     atomic.Int64
	CreateTotalNanos atomic.Int64
	MutationCount    atomic.Int64
	MutationErrors   atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchResults    atomic.Int64
	SearchTotalNanos atomic.Int64
	StructuralCount  atomic.Int64
	StructuralErrors atomic.Int64
}

// RecordCreateItem implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCreateItem(duration time.Duration, err error) {
	b.CreateCount.Add(1)
	b.CreateTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CreateErrors.Add(1)
	}
}

// RecordMutation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMutation(duration time.Duration, err error) {
	b.MutationCount.Add(1)
	if err != nil {
		b.MutationErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(results int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchResults.Add(int64(results))
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordStructural implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStructural(duration time.Duration, err error) {
	b.StructuralCount.Add(1)
	if err != nil {
		b.StructuralErrors.Add(1)
	}
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	CreateCount      int64
	CreateErrors     int64
	CreateAvgNanos   int64
	MutationCount    int64
	MutationErrors   int64
	SearchCount      int64
	SearchErrors     int64
	SearchResults    int64
	SearchAvgNanos   int64
	StructuralCount  int64
	StructuralErrors int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		CreateCount:      b.CreateCount.Load(),
		CreateErrors:     b.CreateErrors.Load(),
		MutationCount:    b.MutationCount.Load(),
		MutationErrors:   b.MutationErrors.Load(),
		SearchCount:      b.SearchCount.Load(),
		SearchErrors:     b.SearchErrors.Load(),
		SearchResults:    b.SearchResults.Load(),
		StructuralCount:  b.StructuralCount.Load(),
		StructuralErrors: b.StructuralErrors.Load(),
	}
	if s.CreateCount > 0 {
		s.CreateAvgNanos = b.CreateTotalNanos.Load() / s.CreateCount
	}
	if s.SearchCount > 0 {
		s.SearchAvgNanos = b.SearchTotalNanos.Load() / s.SearchCount
	}
	return s
}
