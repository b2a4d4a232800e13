package slabpool

import "strconv"

// Handle identifies a slot by its index in [0, Cap()).
type Handle uint32

// InvalidHandle is returned by Allocate when the pool is exhausted or closed.
const InvalidHandle = ^Handle(0)

// Add returns h offset by n slots. It does not validate the result.
func (h Handle) Add(n int) Handle {
	return Handle(int64(h) + int64(n)) //nolint:gosec // wrapping is the documented behavior
}

// Index returns the slot index as an int.
func (h Handle) Index() int {
	return int(h)
}

func (h Handle) String() string {
	if h == InvalidHandle {
		return "invalid"
	}
	return strconv.FormatUint(uint64(h), 10)
}
