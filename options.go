package segdb

import (
	"log/slog"

	"github.com/hupe1980/segdb/analysis"
	"github.com/hupe1980/segdb/codec"
	"github.com/hupe1980/segdb/internal/column"
	"github.com/hupe1980/segdb/internal/resource"
	"github.com/hupe1980/segdb/model"
)

// Compression selects the block codec of segment stores.
type Compression = column.Compression

const (
	CompressionNone = column.CompressionNone
	CompressionLZ4  = column.CompressionLZ4
	CompressionZSTD = column.CompressionZSTD
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) { return column.ParseCompression(s) }

// ResourceConfig limits background work and ingest memory.
type ResourceConfig = resource.Config

// keepManifests is the number of manifest versions retained after a commit.
const keepManifests = 8

type options struct {
	codec            codec.Codec
	compression      column.Compression
	blockSize        int
	analyzers        *analysis.Registry
	resources        resource.Config
	keyGen           func() model.Key
	cacheBytes       int64
	cacheBlockSize   int64
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the codec used for segment metadata.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression selects the block compression of newly written segments.
// Existing segments pick it up when they are merged or rewritten.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithBlockSize sets the target uncompressed block size of segment stores.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithAnalyzers sets the registry used to resolve field analyzers.
func WithAnalyzers(r *analysis.Registry) Option {
	return func(o *options) {
		o.analyzers = r
	}
}

// WithResourceConfig configures memory, concurrency and IO limits.
//
// Example:
//
//	db, _ := segdb.Open(ctx, store, s, segdb.WithResourceConfig(segdb.ResourceConfig{
//	    MaxBackgroundWorkers: 2,
//	    IOLimitBytesPerSec:   64 << 20,
//	}))
func WithResourceConfig(cfg ResourceConfig) Option {
	return func(o *options) {
		o.resources = cfg
	}
}

// WithKeyGenerator sets the generator of keys for objects ingested without one.
func WithKeyGenerator(fn func() model.Key) Option {
	return func(o *options) {
		o.keyGen = fn
	}
}

// WithBlockCache caches segment blocks read from the store in memory.
// Useful for remote stores; maxBytes <= 0 disables the cache.
func WithBlockCache(maxBytes, blockSize int64) Option {
	return func(o *options) {
		o.cacheBytes = maxBytes
		o.cacheBlockSize = blockSize
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &segdb.BasicMetricsCollector{}
//	db, _ := segdb.Open(ctx, store, s, segdb.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Merges: %d, rows: %d\n", stats.MergeCount, stats.MergeRows)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		compression:      column.CompressionZSTD,
		blockSize:        column.DefaultBlockSize,
		analyzers:        analysis.DefaultRegistry(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.blockSize <= 0 {
		o.blockSize = column.DefaultBlockSize
	}
	return o
}

func (o *options) columnOptions() column.Options {
	return column.Options{Compression: o.compression, BlockSize: o.blockSize}
}
