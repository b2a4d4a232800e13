package slabpool

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// SyncPool is a Pool guarded by a single mutex.
type SyncPool[T any] struct {
	mu sync.Mutex
	p  *Pool[T]
}

// NewSync creates a SyncPool with all slots free.
func NewSync[T any](optFns ...Option) (*SyncPool[T], error) {
	p, err := New[T](optFns...)
	if err != nil {
		return nil, err
	}
	return &SyncPool[T]{p: p}, nil
}

// Allocate claims a free slot.
func (s *SyncPool[T]) Allocate() (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Allocate()
}

// Release frees the slot held by h and zeroes it.
func (s *SyncPool[T]) Release(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Release(h)
}

// Get returns a pointer to the slot held by h. Access through the pointer is not
// synchronized; only the holder of h may use it.
func (s *SyncPool[T]) Get(h Handle) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Get(h)
}

// Update calls fn with the slot held by h while holding the pool lock.
func (s *SyncPool[T]) Update(h Handle, fn func(*T)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.p.Get(h)
	if err != nil {
		return err
	}
	fn(v)
	return nil
}

// Cap returns the number of slots.
func (s *SyncPool[T]) Cap() int {
	return s.p.Cap()
}

// Len returns the number of held slots.
func (s *SyncPool[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Len()
}

// Available returns the number of free slots.
func (s *SyncPool[T]) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Available()
}

// BlockUsage returns the occupancy of every block.
func (s *SyncPool[T]) BlockUsage() []BlockUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.BlockUsage()
}

// IsAllocated reports whether h is currently held.
func (s *SyncPool[T]) IsAllocated(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.IsAllocated(h)
}

// Stats returns counters describing the pool.
func (s *SyncPool[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Stats()
}

// Verify checks the free-space index invariants.
func (s *SyncPool[T]) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Verify()
}

// Allocated returns the set of held slot indexes.
func (s *SyncPool[T]) Allocated() *roaring.Bitmap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Allocated()
}

// Reset frees every slot and zeroes storage.
func (s *SyncPool[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.Reset()
}

// Close returns the pool's memory reservation.
func (s *SyncPool[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Close()
}
