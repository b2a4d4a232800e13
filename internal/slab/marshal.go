package slab

import (
	"encoding/binary"
	"fmt"
)

const (
	indexMagic   = 0x58494c53 // "SLIX"
	indexVersion = 1

	// headerSize: magic(4) + version(2) + reserved(2) + capacity(4) + blockSize(4)
	headerSize = 16
)

// MarshalBinary encodes the index as a little-endian header followed by the words and counters.
func (x *Index) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize, headerSize+x.Footprint())
	binary.LittleEndian.PutUint32(buf[0:], indexMagic)
	binary.LittleEndian.PutUint16(buf[4:], indexVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(x.capacity))  //nolint:gosec // capacity <= MaxCapacity
	binary.LittleEndian.PutUint32(buf[12:], uint32(x.blockSize)) //nolint:gosec // blockSize <= MaxBlockSize

	for _, w := range x.words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	buf = append(buf, x.counters...)
	return buf, nil
}

// EncodedSize returns the length of MarshalBinary's output.
func (x *Index) EncodedSize() int {
	return headerSize + x.Footprint()
}

// EncodedSizeFor returns the MarshalBinary length of an index with the given geometry
// without allocating one.
func EncodedSizeFor(capacity, blockSize int) (int, error) {
	nWords, nBlocks, err := layout(capacity, blockSize)
	if err != nil {
		return 0, err
	}
	return headerSize + nWords*4 + nBlocks, nil
}

// Decode parses data produced by MarshalBinary into a new Index and verifies it.
func Decode(data []byte) (*Index, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:]); magic != indexMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, magic)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	capacity := binary.LittleEndian.Uint32(data[8:])
	blockSize := binary.LittleEndian.Uint32(data[12:])
	if capacity > MaxCapacity || blockSize > MaxBlockSize {
		return nil, fmt.Errorf("%w: capacity %d, block size %d", ErrCorrupt, capacity, blockSize)
	}

	x, err := New(int(capacity), int(blockSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if len(data) != x.EncodedSize() {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrCorrupt, x.EncodedSize(), len(data))
	}

	off := headerSize
	for i := range x.words {
		x.words[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	copy(x.counters, data[off:])
	for _, c := range x.counters {
		x.used += int(c)
	}

	if err := x.Verify(); err != nil {
		return nil, err
	}
	return x, nil
}

// UnmarshalBinary replaces the index state with data produced by MarshalBinary.
func (x *Index) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*x = *decoded
	return nil
}
