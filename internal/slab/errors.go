package slab

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCapacity is returned when the requested capacity is not in (0, MaxCapacity].
	ErrInvalidCapacity = errors.New("slab: invalid capacity")
	// ErrInvalidBlockSize is returned when the block size is not a positive multiple of
	// WordBits that fits a block counter.
	ErrInvalidBlockSize = errors.New("slab: invalid block size")
	// ErrCorrupt is returned when persisted index state cannot be decoded.
	ErrCorrupt = errors.New("slab: corrupt index data")
)

// RangeError reports an index outside [0, Capacity).
type RangeError struct {
	Index    int
	Capacity int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("slab: index %d out of range [0, %d)", e.Index, e.Capacity)
}

// EmptyBlockError reports a release into a block whose counter is already zero.
type EmptyBlockError struct {
	Index int
	Block int
}

func (e *EmptyBlockError) Error() string {
	return fmt.Sprintf("slab: release of index %d in empty block %d", e.Index, e.Block)
}

// NotAllocatedError reports a release of a slot whose occupancy bit is clear while
// other slots of the same block are still held.
type NotAllocatedError struct {
	Index int
	Block int
}

func (e *NotAllocatedError) Error() string {
	return fmt.Sprintf("slab: release of free index %d in block %d", e.Index, e.Block)
}

// CorruptionError reports a violated index invariant.
type CorruptionError struct {
	Block  int
	Reason string
}

func (e *CorruptionError) Error() string {
	if e.Block < 0 {
		return "slab: corrupt index: " + e.Reason
	}
	return fmt.Sprintf("slab: corrupt index at block %d: %s", e.Block, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupt }
