package slabpool

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/slabpool/internal/conv"
	"github.com/hupe1980/slabpool/internal/mmap"
)

// RecordPool is a fixed-capacity pool of opaque, fixed-size byte records.
//
// Records live in an anonymous memory mapping outside the Go heap unless
// WithHeapStorage is given or the platform cannot map memory. Slot i occupies
// bytes [i*RecordSize(), (i+1)*RecordSize()).
//
// A RecordPool is not safe for concurrent use.
type RecordPool struct {
	core
	recordSize int
	data       []byte
	mapping    *mmap.Mapping
}

// NewRecordPool creates a pool of records of recordSize bytes with all slots free.
func NewRecordPool(recordSize int, optFns ...Option) (*RecordPool, error) {
	if recordSize <= 0 || recordSize > math.MaxInt32 {
		return nil, &ErrInvalidConfig{Field: "record size", Value: recordSize}
	}
	o := applyOptions(optFns)
	c, err := newCore(o, int64(recordSize))
	if err != nil {
		return nil, err
	}

	p := &RecordPool{core: c, recordSize: recordSize}
	if c.storageBytes > MaxRecordStorage {
		_ = p.close()
		return nil, &ErrInvalidConfig{Field: "capacity", Value: o.capacity,
			cause: fmt.Errorf("%d bytes of records exceed %d", c.storageBytes, int64(MaxRecordStorage))}
	}
	size, err := conv.Uint64ToInt(uint64(c.storageBytes)) //nolint:gosec // storageBytes >= 0
	if err != nil {
		_ = p.close()
		return nil, &ErrInvalidConfig{Field: "capacity", Value: o.capacity, cause: err}
	}

	if !o.heapStorage {
		m, err := mmap.MapAnon(size)
		switch {
		case err == nil:
			_ = m.Advise(mmap.AccessRandom)
			p.mapping = m
			p.data = m.Bytes()
		case errors.Is(err, errors.ErrUnsupported):
			p.logger.Debug("anonymous mappings unsupported, using heap storage")
		default:
			_ = p.close()
			return nil, fmt.Errorf("map record storage: %w", err)
		}
	}
	if p.data == nil {
		p.data = make([]byte, size)
	}
	return p, nil
}

// RecordSize returns the size of one record in bytes.
func (p *RecordPool) RecordSize() int {
	return p.recordSize
}

// OffHeap reports whether records live in an anonymous mapping.
func (p *RecordPool) OffHeap() bool {
	return p.mapping != nil
}

// Allocate claims a free slot. It returns (InvalidHandle, false) when every slot is
// held or the pool is closed.
func (p *RecordPool) Allocate() (Handle, bool) {
	i, ok := p.acquire()
	if !ok {
		return InvalidHandle, false
	}
	return Handle(i), true //nolint:gosec // i < capacity <= MaxCapacity
}

// Record returns the bytes of the slot held by h. The slice aliases pool storage
// and is valid until h is released or the pool is closed.
func (p *RecordPool) Record(h Handle) ([]byte, error) {
	i, err := p.lookup(h)
	if err != nil {
		return nil, err
	}
	return p.slot(i), nil
}

func (p *RecordPool) slot(i int) []byte {
	off := i * p.recordSize
	return p.data[off : off+p.recordSize : off+p.recordSize]
}

// Release frees the slot held by h and zeroes its bytes.
// Misuse is handled as in Pool.Release.
func (p *RecordPool) Release(h Handle) error {
	i, err := p.release(h)
	if err != nil {
		return err
	}
	clear(p.slot(i))
	return nil
}

// Verify checks the free-space index invariants and that every free record is zeroed.
func (p *RecordPool) Verify() error {
	if err := p.verify(); err != nil {
		return err
	}
	if p.closed {
		return nil
	}
	for i := range p.Cap() {
		if !p.idx.IsSet(i) && !isZero(p.slot(i)) {
			return fmt.Errorf("%w: free slot %d holds data", ErrCorrupt, i)
		}
	}
	return nil
}

// Reset frees every slot and zeroes storage.
func (p *RecordPool) Reset() {
	p.idx.Reset()
	clear(p.data)
}

// Close unmaps record storage and returns the memory reservation.
// Further calls return ErrClosed.
func (p *RecordPool) Close() error {
	if err := p.close(); err != nil {
		return err
	}
	p.data = nil
	if p.mapping != nil {
		return p.mapping.Close()
	}
	return nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
