package slab

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	// WordBits is the width of one occupancy word.
	WordBits = 32
	// MaxBlockSize is the largest block a uint8 counter can describe.
	MaxBlockSize = math.MaxUint8
	// MaxCapacity keeps every valid index representable as a non-negative int32.
	MaxCapacity = math.MaxInt32

	fullWord = ^uint32(0)
)

// Index is the occupancy bitmap plus per-block counters for a fixed number of slots.
type Index struct {
	capacity      int
	blockSize     int
	wordsPerBlock int
	lastBlockCap  int
	tailMask      uint32 // in-range bits of the final word
	used          int

	words    []uint32
	counters []uint8
}

// New creates an empty index for capacity slots grouped into blocks of blockSize slots.
func New(capacity, blockSize int) (*Index, error) {
	nWords, nBlocks, err := layout(capacity, blockSize)
	if err != nil {
		return nil, err
	}

	x := &Index{
		capacity:      capacity,
		blockSize:     blockSize,
		wordsPerBlock: blockSize / WordBits,
		lastBlockCap:  capacity - blockSize*(nBlocks-1),
		tailMask:      fullWord,
		words:         make([]uint32, nWords),
		counters:      make([]uint8, nBlocks),
	}
	if rem := capacity % WordBits; rem != 0 {
		x.tailMask = uint32(1)<<rem - 1
	}
	return x, nil
}

// layout validates the geometry and returns the word and block counts.
func layout(capacity, blockSize int) (nWords, nBlocks int, err error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if blockSize <= 0 || blockSize%WordBits != 0 || blockSize > MaxBlockSize {
		return 0, 0, fmt.Errorf("%w: %d (must be a multiple of %d, at most %d)", ErrInvalidBlockSize, blockSize, WordBits, MaxBlockSize)
	}
	return (capacity + WordBits - 1) / WordBits, (capacity + blockSize - 1) / blockSize, nil
}

// Cap returns the number of slots.
func (x *Index) Cap() int { return x.capacity }

// Len returns the number of held slots.
func (x *Index) Len() int { return x.used }

// BlockSize returns the configured number of slots per block.
func (x *Index) BlockSize() int { return x.blockSize }

// Blocks returns the number of blocks.
func (x *Index) Blocks() int { return len(x.counters) }

// BlockCap returns the number of slots in block k. Only the last block can be short.
func (x *Index) BlockCap(k int) int {
	if k == len(x.counters)-1 {
		return x.lastBlockCap
	}
	return x.blockSize
}

// Counter returns the held-slot count of block k.
func (x *Index) Counter(k int) int { return int(x.counters[k]) }

// FullBlocks returns the number of blocks with no free slot.
func (x *Index) FullBlocks() int {
	n := 0
	for k, c := range x.counters {
		if int(c) == x.BlockCap(k) {
			n++
		}
	}
	return n
}

// Footprint returns the number of bytes held by the words and counters.
func (x *Index) Footprint() int {
	return len(x.words)*4 + len(x.counters)
}

// Acquire takes the lowest free slot of the first non-full block.
// It returns false when every slot is held.
func (x *Index) Acquire() (int, bool) {
	k := x.freeBlock()
	if k < 0 {
		return -1, false
	}

	first := k * x.wordsPerBlock
	end := min(first+x.wordsPerBlock, len(x.words))
	last := len(x.words) - 1
	for w := first; w < end; w++ {
		word := x.words[w]
		if w == last {
			word |= ^x.tailMask
		}
		if word == fullWord {
			continue
		}
		bit := bits.TrailingZeros32(^word)
		x.words[w] |= uint32(1) << bit
		x.counters[k]++
		x.used++
		return w*WordBits + bit, true
	}

	// Only reachable if the counter disagrees with the words.
	return -1, false
}

func (x *Index) freeBlock() int {
	last := len(x.counters) - 1
	for k := 0; k < last; k++ {
		if int(x.counters[k]) < x.blockSize {
			return k
		}
	}
	if int(x.counters[last]) < x.lastBlockCap {
		return last
	}
	return -1
}

// Release frees slot i. A rejected release leaves the index untouched.
func (x *Index) Release(i int) error {
	if i < 0 || i >= x.capacity {
		return &RangeError{Index: i, Capacity: x.capacity}
	}
	k := i / x.blockSize
	if x.counters[k] == 0 {
		return &EmptyBlockError{Index: i, Block: k}
	}
	w, mask := i/WordBits, uint32(1)<<(i%WordBits)
	if x.words[w]&mask == 0 {
		return &NotAllocatedError{Index: i, Block: k}
	}

	x.counters[k]--
	x.words[w] &^= mask
	x.used--
	return nil
}

// IsSet reports whether slot i is held. Out-of-range indexes are never held.
func (x *Index) IsSet(i int) bool {
	if i < 0 || i >= x.capacity {
		return false
	}
	return x.words[i/WordBits]&(uint32(1)<<(i%WordBits)) != 0
}

// Words returns a copy of the occupancy words.
func (x *Index) Words() []uint32 {
	out := make([]uint32, len(x.words))
	copy(out, x.words)
	return out
}

// Counters returns a copy of the block counters.
func (x *Index) Counters() []uint8 {
	out := make([]uint8, len(x.counters))
	copy(out, x.counters)
	return out
}

// Allocated returns the set of held slot indexes.
func (x *Index) Allocated() *roaring.Bitmap {
	rb := roaring.New()
	for w, word := range x.words {
		base := uint32(w * WordBits) //nolint:gosec // w*WordBits < capacity <= MaxCapacity
		for word != 0 {
			rb.Add(base + uint32(bits.TrailingZeros32(word)))
			word &= word - 1
		}
	}
	return rb
}

// Reset frees every slot.
func (x *Index) Reset() {
	clear(x.words)
	clear(x.counters)
	x.used = 0
}

// Verify checks that every counter matches the population of its block, that no counter
// exceeds its block capacity, and that no bit beyond the last slot is set.
func (x *Index) Verify() error {
	total := 0
	for k, c := range x.counters {
		if int(c) > x.BlockCap(k) {
			return &CorruptionError{Block: k, Reason: fmt.Sprintf("counter %d exceeds block capacity %d", c, x.BlockCap(k))}
		}
		first := k * x.wordsPerBlock
		end := min(first+x.wordsPerBlock, len(x.words))
		pop := 0
		for _, word := range x.words[first:end] {
			pop += bits.OnesCount32(word)
		}
		if pop != int(c) {
			return &CorruptionError{Block: k, Reason: fmt.Sprintf("counter %d, population %d", c, pop)}
		}
		total += pop
	}
	if x.words[len(x.words)-1]&^x.tailMask != 0 {
		return &CorruptionError{Block: len(x.counters) - 1, Reason: "bit set beyond capacity"}
	}
	if total != x.used {
		return &CorruptionError{Block: -1, Reason: fmt.Sprintf("used %d, population %d", x.used, total)}
	}
	return nil
}
