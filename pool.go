package slabpool

import "unsafe"

// Pool is a fixed-capacity pool of T values stored in one contiguous slice.
//
// Allocate hands out the lowest free slot of the first block that has one. Slots
// are zero-valued when handed out and are zeroed again on Release.
//
// A Pool is not safe for concurrent use; see SyncPool.
type Pool[T any] struct {
	core
	items []T
}

// New creates a pool with all slots free.
func New[T any](optFns ...Option) (*Pool[T], error) {
	var zero T
	c, err := newCore(applyOptions(optFns), int64(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return &Pool[T]{
		core:  c,
		items: make([]T, c.idx.Cap()),
	}, nil
}

// Allocate claims a free slot. It returns (InvalidHandle, false) when every slot is
// held or the pool is closed.
func (p *Pool[T]) Allocate() (Handle, bool) {
	i, ok := p.acquire()
	if !ok {
		return InvalidHandle, false
	}
	return Handle(i), true //nolint:gosec // i < capacity <= MaxCapacity
}

// Get returns a pointer to the slot held by h. The pointer is valid until h is released.
func (p *Pool[T]) Get(h Handle) (*T, error) {
	i, err := p.lookup(h)
	if err != nil {
		return nil, err
	}
	return &p.items[i], nil
}

// Release frees the slot held by h and zeroes it.
//
// Releasing a handle outside [0, Cap()) or a slot that is not held is misuse: it is
// reported to the configured Reporter, returned as an error matching ErrMisuse, and
// leaves the pool unchanged.
func (p *Pool[T]) Release(h Handle) error {
	i, err := p.release(h)
	if err != nil {
		return err
	}
	var zero T
	p.items[i] = zero
	return nil
}

// Verify checks the free-space index invariants.
func (p *Pool[T]) Verify() error {
	return p.verify()
}

// Reset frees every slot and zeroes storage.
func (p *Pool[T]) Reset() {
	p.idx.Reset()
	clear(p.items)
}

// Close returns the pool's memory reservation. Further calls return ErrClosed.
func (p *Pool[T]) Close() error {
	if err := p.close(); err != nil {
		return err
	}
	p.items = nil
	return nil
}
