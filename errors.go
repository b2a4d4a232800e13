package slabpool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/slabpool/internal/compress"
	"github.com/hupe1980/slabpool/internal/slab"
)

var (
	// ErrMisuse matches every release misuse (invalid handle, double release).
	ErrMisuse = errors.New("pool misuse")

	// ErrNotAllocated is returned by accessors for a handle whose slot is free.
	ErrNotAllocated = errors.New("slot not allocated")

	// ErrClosed is returned by operations on a closed pool.
	ErrClosed = errors.New("pool closed")

	// ErrCorrupt is returned by Verify when the free-space index is inconsistent.
	ErrCorrupt = errors.New("pool state corrupt")

	// ErrSnapshotCorrupt is returned when a snapshot fails validation.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
)

// ErrInvalidHandle indicates a handle outside [0, Capacity).
//
// It matches errors.Is(err, ErrMisuse). The underlying error (if any) can be
// accessed via errors.Unwrap.
type ErrInvalidHandle struct {
	Handle   Handle
	Capacity int
	cause    error
}

func (e *ErrInvalidHandle) Error() string {
	return fmt.Sprintf("invalid handle %s: capacity is %d", e.Handle, e.Capacity)
}

func (e *ErrInvalidHandle) Unwrap() error { return e.cause }

// Is reports whether target is ErrMisuse.
func (e *ErrInvalidHandle) Is(target error) bool { return target == ErrMisuse }

// ErrDoubleRelease indicates a release of a slot that is not held.
//
// It matches errors.Is(err, ErrMisuse). The underlying error (if any) can be
// accessed via errors.Unwrap.
type ErrDoubleRelease struct {
	Handle Handle
	Block  int
	cause  error
}

func (e *ErrDoubleRelease) Error() string {
	return fmt.Sprintf("double release of handle %s in block %d", e.Handle, e.Block)
}

func (e *ErrDoubleRelease) Unwrap() error { return e.cause }

// Is reports whether target is ErrMisuse.
func (e *ErrDoubleRelease) Is(target error) bool { return target == ErrMisuse }

// ErrInvalidConfig indicates an option value the pool cannot be built with.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidConfig struct {
	Field string
	Value any
	cause error
}

func (e *ErrInvalidConfig) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("invalid %s %v: %v", e.Field, e.Value, e.cause)
	}
	return fmt.Sprintf("invalid %s %v", e.Field, e.Value)
}

func (e *ErrInvalidConfig) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Release misuse.
	var re *slab.RangeError
	if errors.As(err, &re) {
		return &ErrInvalidHandle{Handle: Handle(re.Index), Capacity: re.Capacity, cause: err} //nolint:gosec // reported as-is
	}
	var eb *slab.EmptyBlockError
	if errors.As(err, &eb) {
		return &ErrDoubleRelease{Handle: Handle(eb.Index), Block: eb.Block, cause: err} //nolint:gosec // index < capacity
	}
	var na *slab.NotAllocatedError
	if errors.As(err, &na) {
		return &ErrDoubleRelease{Handle: Handle(na.Index), Block: na.Block, cause: err} //nolint:gosec // index < capacity
	}

	// Construction.
	if errors.Is(err, slab.ErrInvalidCapacity) {
		return &ErrInvalidConfig{Field: "capacity", cause: err}
	}
	if errors.Is(err, slab.ErrInvalidBlockSize) {
		return &ErrInvalidConfig{Field: "block size", cause: err}
	}

	// State and snapshot integrity.
	if errors.Is(err, slab.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if errors.Is(err, compress.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}

	return err
}
