package catalog

import (
	"fmt"
	"log/slog"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

// Config holds the engine's recognized configuration surface. The values are
// persisted in the GlobalRoot record on first bootstrap; opening an existing
// ledger adopts the stored values.
type Config struct {
	// ChunkSize is the id block width per tenant.
	ChunkSize uint32

	// MaxKeywordsPerItem caps the keywords attached to one item.
	MaxKeywordsPerItem uint8

	// MaxMembersPerShard caps the ids held by one keyword shard.
	MaxMembersPerShard uint32

	// FilterBits is the width of each shard's membership pre-filter.
	FilterBits uint32

	// CacheTTL is the advisory staleness hint, in seconds, for read-side
	// caching. Zero disables the read cache. Not enforced internally.
	CacheTTL uint32

	// RangeNodeCapacity caps the members held by one range index node.
	RangeNodeCapacity uint32
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:          1000,
		MaxKeywordsPerItem: 10,
		MaxMembersPerShard: 100,
		FilterBits:         2048,
		CacheTTL:           300,
		RangeNodeCapacity:  100,
	}
}

// Validate rejects non-positive values before any record is touched.
// CacheTTL may be zero (caching disabled).
func (c Config) Validate() error {
	if c.ChunkSize == 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidInput)
	}
	if c.MaxKeywordsPerItem == 0 {
		return fmt.Errorf("%w: max_keywords_per_item must be positive", ErrInvalidInput)
	}
	if c.MaxMembersPerShard == 0 {
		return fmt.Errorf("%w: max_members_per_shard must be positive", ErrInvalidInput)
	}
	if c.FilterBits == 0 {
		return fmt.Errorf("%w: filter_bits must be positive", ErrInvalidInput)
	}
	if c.RangeNodeCapacity == 0 {
		return fmt.Errorf("%w: range_node_capacity must be positive", ErrInvalidInput)
	}
	return nil
}

type options struct {
	logger    *Logger
	metrics   MetricsCollector
	snapStore ledger.SnapshotStore
	snapName  string
}

// Option configures Catalog construction.
type Option func(*options)

// WithLogger configures structured logging. Pass nil to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel installs a text logger at the given level. Convenience
// wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metrics = mc
		}
	}
}

// WithSnapshotStore configures where SaveSnapshot/RestoreSnapshot read and
// write the ledger snapshot blob named name.
func WithSnapshotStore(store ledger.SnapshotStore, name string) Option {
	return func(o *options) {
		o.snapStore = store
		o.snapName = name
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:   NoopLogger(),
		metrics:  NoopMetricsCollector{},
		snapName: "catalog.snap",
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
