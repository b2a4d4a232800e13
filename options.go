package slabpool

import (
	"log/slog"

	"github.com/hupe1980/slabpool/internal/compress"
	"github.com/hupe1980/slabpool/internal/slab"
	"github.com/hupe1980/slabpool/resource"
)

const (
	// DefaultCapacity is the number of slots when WithCapacity is not given.
	DefaultCapacity = 8192
	// DefaultBlockSize is the number of slots per block when WithBlockSize is not given.
	DefaultBlockSize = 224
	// WordBits is the number of slots tracked by one occupancy word.
	WordBits = slab.WordBits
	// MaxBlockSize is the largest block an 8-bit block counter can describe.
	MaxBlockSize = slab.MaxBlockSize
	// MaxCapacity is the largest supported number of slots.
	MaxCapacity = slab.MaxCapacity
	// MaxRecordStorage is the largest record storage a RecordPool will allocate.
	MaxRecordStorage = 1 << 40
)

// Compression selects the block compression used in snapshots.
type Compression uint8

const (
	// CompressionNone stores snapshot payloads uncompressed.
	CompressionNone = Compression(compress.None)
	// CompressionLZ4 uses LZ4 (fast).
	CompressionLZ4 = Compression(compress.LZ4)
	// CompressionZSTD uses Zstandard (better ratio).
	CompressionZSTD = Compression(compress.ZSTD)
)

func (c Compression) String() string {
	return compress.Type(c).String()
}

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(name string) (Compression, error) {
	t, err := compress.ParseType(name)
	if err != nil {
		return CompressionNone, &ErrInvalidConfig{Field: "compression", Value: name, cause: err}
	}
	return Compression(t), nil
}

type options struct {
	capacity         int
	blockSize        int
	name             string
	logger           *Logger
	metricsCollector MetricsCollector
	reporter         Reporter
	reportRate       float64
	reportBurst      int
	rc               *resource.Controller
	heapStorage      bool
	compression      Compression
}

// Option configures pool construction.
//
// All configuration is fixed at construction; pools never resize.
type Option func(*options)

// WithCapacity sets the number of slots N.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithBlockSize sets the number of slots per block B.
// B must be a positive multiple of WordBits no larger than MaxBlockSize.
func WithBlockSize(b int) Option {
	return func(o *options) {
		o.blockSize = b
	}
}

// WithName labels the pool in log output.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &slabpool.BasicMetricsCollector{}
//	pool, _ := slabpool.New[Session](slabpool.WithMetricsCollector(metrics))
//	// ... use pool ...
//	stats := metrics.GetStats()
//	fmt.Printf("Allocs: %d, exhausted: %d\n", stats.AllocateCount, stats.AllocateExhausted)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for pool events.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := slabpool.NewJSONLogger(slog.LevelInfo)
//	pool, _ := slabpool.New[Session](slabpool.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
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

// WithReporter replaces the default logging reporter for misuse reports.
// The rate limit from WithMisuseReportLimit does not apply to custom reporters.
func WithReporter(r Reporter) Option {
	return func(o *options) {
		o.reporter = r
	}
}

// WithMisuseReportLimit limits how many misuse reports the default reporter logs.
// perSecond <= 0 disables the limit.
func WithMisuseReportLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.reportRate = perSecond
		o.reportBurst = burst
	}
}

// WithResourceController charges the pool's storage against rc's memory budget and
// throttles snapshot IO through rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithHeapStorage keeps RecordPool records on the Go heap instead of an anonymous mapping.
func WithHeapStorage() Option {
	return func(o *options) {
		o.heapStorage = true
	}
}

// WithSnapshotCompression sets the compression used by WriteSnapshot.
func WithSnapshotCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		capacity:         DefaultCapacity,
		blockSize:        DefaultBlockSize,
		name:             "slabpool",
		metricsCollector: NoopMetricsCollector{},
		logger:           NewTextLogger(slog.LevelWarn),
		reportRate:       DefaultMisuseReportsPerSecond,
		reportBurst:      DefaultMisuseReportBurst,
		compression:      CompressionLZ4,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func (o *options) validate() error {
	if !compress.Type(o.compression).Valid() {
		return &ErrInvalidConfig{Field: "compression", Value: o.compression}
	}
	return nil
}
