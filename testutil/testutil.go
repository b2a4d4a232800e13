package testutil

import (
	"math/rand"
	"sort"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// FillBytes fills dst with random bytes.
// Locks only once per call.
func (r *RNG) FillBytes(dst []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.rand.Read(dst)
}

// Perm returns a pseudo-random permutation of [0,n).
func (r *RNG) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Perm(n)
}

// Fork returns an independent RNG seeded from this one, for per-goroutine use.
func (r *RNG) Fork() *RNG {
	r.mu.Lock()
	seed := r.rand.Int63()
	r.mu.Unlock()
	return NewRNG(seed)
}

// LiveSet models the handles a pool has handed out.
// It is not thread-safe; give each goroutine its own.
type LiveSet struct {
	order []uint32
	pos   map[uint32]int
}

// NewLiveSet returns an empty LiveSet.
func NewLiveSet() *LiveSet {
	return &LiveSet{pos: make(map[uint32]int)}
}

// Add records h as live. It reports false if h was already live.
func (s *LiveSet) Add(h uint32) bool {
	if _, ok := s.pos[h]; ok {
		return false
	}
	s.pos[h] = len(s.order)
	s.order = append(s.order, h)
	return true
}

// Remove forgets h. It reports false if h was not live.
func (s *LiveSet) Remove(h uint32) bool {
	i, ok := s.pos[h]
	if !ok {
		return false
	}
	last := len(s.order) - 1
	s.order[i] = s.order[last]
	s.pos[s.order[i]] = i
	s.order = s.order[:last]
	delete(s.pos, h)
	return true
}

// Contains reports whether h is live.
func (s *LiveSet) Contains(h uint32) bool {
	_, ok := s.pos[h]
	return ok
}

// Len returns the number of live handles.
func (s *LiveSet) Len() int {
	return len(s.order)
}

// Pick returns a random live handle. It panics on an empty set.
func (s *LiveSet) Pick(rng *RNG) uint32 {
	return s.order[rng.Intn(len(s.order))]
}

// Sorted returns the live handles in ascending order.
func (s *LiveSet) Sorted() []uint32 {
	out := append([]uint32(nil), s.order...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
