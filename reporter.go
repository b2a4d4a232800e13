package slabpool

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// MisuseKind classifies a rejected release.
type MisuseKind uint8

const (
	// MisuseInvalidHandle is a release of a handle outside [0, Cap()).
	MisuseInvalidHandle MisuseKind = iota + 1
	// MisuseDoubleRelease is a release of a slot that is not held.
	MisuseDoubleRelease
)

func (k MisuseKind) String() string {
	switch k {
	case MisuseInvalidHandle:
		return "invalid_handle"
	case MisuseDoubleRelease:
		return "double_release"
	default:
		return "unknown"
	}
}

// Misuse describes a rejected release. The pool state is unchanged when one is reported.
type Misuse struct {
	Kind     MisuseKind
	Handle   Handle
	Block    int // -1 when the handle maps to no block
	Capacity int
	Err      error
}

// Reporter receives misuse reports. Implementations must not call back into the pool.
type Reporter interface {
	ReportMisuse(ctx context.Context, m Misuse)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, m Misuse)

// ReportMisuse implements Reporter.
func (f ReporterFunc) ReportMisuse(ctx context.Context, m Misuse) { f(ctx, m) }

const (
	// DefaultMisuseReportsPerSecond is the steady rate of misuse log lines.
	DefaultMisuseReportsPerSecond = 10
	// DefaultMisuseReportBurst is the number of misuse log lines allowed back to back.
	DefaultMisuseReportBurst = 20
)

// logReporter logs misuse through a Logger, dropping reports above the limit and
// attaching the dropped count to the next report that gets through.
type logReporter struct {
	logger     *Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

func newLogReporter(logger *Logger, perSecond float64, burst int) *logReporter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &logReporter{
		logger:  logger,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (r *logReporter) ReportMisuse(ctx context.Context, m Misuse) {
	if !r.limiter.Allow() {
		r.suppressed.Add(1)
		return
	}
	r.logger.LogMisuse(ctx, m, r.suppressed.Swap(0))
}

// misuseOf builds the report for a translated release error.
func misuseOf(err error, capacity int) (Misuse, bool) {
	var ih *ErrInvalidHandle
	if errors.As(err, &ih) {
		return Misuse{Kind: MisuseInvalidHandle, Handle: ih.Handle, Block: -1, Capacity: capacity, Err: err}, true
	}
	var dr *ErrDoubleRelease
	if errors.As(err, &dr) {
		return Misuse{Kind: MisuseDoubleRelease, Handle: dr.Handle, Block: dr.Block, Capacity: capacity, Err: err}, true
	}
	return Misuse{}, false
}
