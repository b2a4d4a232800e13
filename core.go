package slabpool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/slabpool/internal/conv"
	"github.com/hupe1980/slabpool/internal/slab"
)

// Stats is a point-in-time view of a pool.
type Stats struct {
	Capacity     int
	Live         int
	Available    int
	BlockSize    int
	Blocks       int
	FullBlocks   int
	IndexBytes   int
	StorageBytes int64
	Exhausted    uint64
	Misuses      uint64
}

// core is the free-space index plus the ambient plumbing shared by every pool flavor.
// It is not safe for concurrent use.
type core struct {
	idx          *slab.Index
	opts         options
	logger       *Logger
	reporter     Reporter
	metrics      MetricsCollector
	timed        bool
	storageBytes int64
	reserved     int64
	closed       bool
	exhausted    uint64
	misuses      uint64
}

func newCore(o options, elemSize int64) (core, error) {
	if err := o.validate(); err != nil {
		return core{}, err
	}

	idx, err := slab.New(o.capacity, o.blockSize)
	if err != nil {
		err = translateError(err)
		var ic *ErrInvalidConfig
		if errors.As(err, &ic) {
			if ic.Field == "capacity" {
				ic.Value = o.capacity
			} else {
				ic.Value = o.blockSize
			}
		}
		return core{}, err
	}

	if elemSize > 0 && int64(o.capacity) > math.MaxInt64/elemSize {
		return core{}, &ErrInvalidConfig{Field: "capacity", Value: o.capacity, cause: conv.ErrOverflow}
	}
	storage := int64(o.capacity) * elemSize
	reserve := storage + int64(idx.Footprint())
	if err := o.rc.AcquireMemory(reserve); err != nil {
		return core{}, fmt.Errorf("reserve %d bytes for %d slots: %w", reserve, o.capacity, err)
	}

	logger := o.logger.WithPool(o.name)
	reporter := o.reporter
	if reporter == nil {
		reporter = newLogReporter(logger, o.reportRate, o.reportBurst)
	}
	_, noop := o.metricsCollector.(NoopMetricsCollector)

	return core{
		idx:          idx,
		opts:         o,
		logger:       logger,
		reporter:     reporter,
		metrics:      o.metricsCollector,
		timed:        !noop,
		storageBytes: storage,
		reserved:     reserve,
	}, nil
}

func (c *core) acquire() (int, bool) {
	if c.closed {
		return -1, false
	}
	var start time.Time
	if c.timed {
		start = time.Now()
	}

	i, ok := c.idx.Acquire()
	if !ok {
		c.exhausted++
		c.logger.LogExhausted(context.Background(), c.idx.Cap())
	}

	if c.timed {
		c.metrics.RecordAllocate(time.Since(start), ok)
	}
	return i, ok
}

// release validates h and frees its slot. Misuse is reported and returned; the index
// is left untouched.
func (c *core) release(h Handle) (int, error) {
	if c.closed {
		return -1, ErrClosed
	}
	var start time.Time
	if c.timed {
		start = time.Now()
	}

	i, err := c.index(h)
	if err == nil {
		err = translateError(c.idx.Release(i))
	}
	if err != nil {
		c.misuses++
		if m, ok := misuseOf(err, c.idx.Cap()); ok {
			c.reporter.ReportMisuse(context.Background(), m)
		}
	}

	if c.timed {
		c.metrics.RecordRelease(time.Since(start), err)
	}
	return i, err
}

func (c *core) index(h Handle) (int, error) {
	i, err := conv.Uint32ToInt(uint32(h))
	if err != nil {
		return -1, &ErrInvalidHandle{Handle: h, Capacity: c.idx.Cap(), cause: err}
	}
	return i, nil
}

// lookup resolves a held handle for accessors. It does not report misuse.
func (c *core) lookup(h Handle) (int, error) {
	if c.closed {
		return -1, ErrClosed
	}
	i, err := c.index(h)
	if err != nil {
		return -1, err
	}
	if i >= c.idx.Cap() {
		return -1, &ErrInvalidHandle{Handle: h, Capacity: c.idx.Cap()}
	}
	if !c.idx.IsSet(i) {
		return -1, fmt.Errorf("handle %s: %w", h, ErrNotAllocated)
	}
	return i, nil
}

// Cap returns the number of slots.
func (c *core) Cap() int { return c.idx.Cap() }

// Len returns the number of held slots.
func (c *core) Len() int { return c.idx.Len() }

// Available returns the number of free slots.
func (c *core) Available() int { return c.idx.Cap() - c.idx.Len() }

// BlockSize returns the number of slots per block.
func (c *core) BlockSize() int { return c.idx.BlockSize() }

// Stats returns counters describing the pool.
func (c *core) Stats() Stats {
	return Stats{
		Capacity:     c.idx.Cap(),
		Live:         c.idx.Len(),
		Available:    c.Available(),
		BlockSize:    c.idx.BlockSize(),
		Blocks:       c.idx.Blocks(),
		FullBlocks:   c.idx.FullBlocks(),
		IndexBytes:   c.idx.Footprint(),
		StorageBytes: c.storageBytes,
		Exhausted:    c.exhausted,
		Misuses:      c.misuses,
	}
}

// BlockUsage describes the occupancy of one block.
type BlockUsage struct {
	Block int `json:"block"`
	First int `json:"first"`
	Slots int `json:"slots"`
	Used  int `json:"used"`
}

// BlockUsage returns the occupancy of every block in index order.
func (c *core) BlockUsage() []BlockUsage {
	out := make([]BlockUsage, c.idx.Blocks())
	for k := range out {
		out[k] = BlockUsage{
			Block: k,
			First: k * c.idx.BlockSize(),
			Slots: c.idx.BlockCap(k),
			Used:  c.idx.Counter(k),
		}
	}
	return out
}

// Allocated returns the set of held slot indexes.
func (c *core) Allocated() *roaring.Bitmap {
	return c.idx.Allocated()
}

// IsAllocated reports whether h is currently held.
func (c *core) IsAllocated(h Handle) bool {
	i, err := c.index(h)
	return err == nil && c.idx.IsSet(i)
}

func (c *core) verify() error {
	return translateError(c.idx.Verify())
}

func (c *core) close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.opts.rc.ReleaseMemory(c.reserved)
	c.reserved = 0
	return nil
}
