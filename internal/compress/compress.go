// Package compress implements the block stream used by pool snapshots.
//
// A stream is a sequence of blocks, each framed as
//
//	[UncompressedSize uint32][CompressedSize uint32][Data...]
//
// in little endian. CompressedSize == 0 marks a block stored as-is, which is also what
// happens when compression does not shrink a block below 90% of its size.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used.
type Type uint8

const (
	// None stores blocks uncompressed.
	None Type = 0
	// LZ4 uses LZ4 block compression (fast).
	LZ4 Type = 1
	// ZSTD uses Zstandard block compression (better ratio).
	ZSTD Type = 2
)

// DefaultBlockSize is the uncompressed size of a full block.
const DefaultBlockSize = 256 * 1024

const (
	blockHeaderSize = 8
	maxBlockSize    = 64 << 20
)

var (
	// ErrUnknownType is returned for a compression type this package does not implement.
	ErrUnknownType = errors.New("compress: unknown compression type")
	// ErrCorrupt is returned when a block header or payload is inconsistent.
	ErrCorrupt = errors.New("compress: corrupt block")
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseType maps a name produced by Type.String back to a Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

// Valid reports whether t is implemented.
func (t Type) Valid() bool {
	return t <= ZSTD
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func compressBlock(data []byte, t Type) ([]byte, error) {
	switch t {
	case None:
		return nil, nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil // n == 0 means incompressible
	case ZSTD:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, ErrUnknownType
	}
}

func decompressBlock(src []byte, size int, t Type) ([]byte, error) {
	out := make([]byte, size)
	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(src, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if n != size {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorrupt, n, size)
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(src, out[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if len(decoded) != size {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorrupt, len(decoded), size)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: compressed block in a %s stream", ErrCorrupt, t)
	}
}

// MinEncodedSize returns a lower bound on the stream length Writer produces for n bytes
// in blocks of blockSize (<= 0 selects DefaultBlockSize). Uncompressed streams hit it
// exactly; a compressed block needs its header plus at least one byte.
func MinEncodedSize(t Type, n uint64, blockSize int) uint64 {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	bs := uint64(min(blockSize, maxBlockSize))
	blocks := (n + bs - 1) / bs
	if t == None {
		return n + blocks*blockHeaderSize
	}
	return blocks * (blockHeaderSize + 1)
}

// Writer buffers writes into blocks and emits them framed and compressed.
type Writer struct {
	w         io.Writer
	t         Type
	blockSize int
	buf       []byte
	written   int64
}

// NewWriter creates a block writer. blockSize <= 0 selects DefaultBlockSize.
func NewWriter(w io.Writer, t Type, blockSize int) (*Writer, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	blockSize = min(blockSize, maxBlockSize)
	return &Writer{
		w:         w,
		t:         t,
		blockSize: blockSize,
		buf:       make([]byte, 0, blockSize),
	}, nil
}

// Write buffers p, flushing every full block.
func (c *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if len(c.buf) == c.blockSize {
			if err := c.Flush(); err != nil {
				return total, err
			}
		}
		n := min(len(p), c.blockSize-len(c.buf))
		c.buf = append(c.buf, p[:n]...)
		total += n
		p = p[n:]
	}
	return total, nil
}

// Flush compresses and writes the buffered block, if any.
func (c *Writer) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}

	compressed, err := compressBlock(c.buf, c.t)
	if err != nil {
		return err
	}

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(c.buf))) //nolint:gosec // bounded by maxBlockSize
	payload := c.buf
	if len(compressed) > 0 && float64(len(compressed)) <= float64(len(c.buf))*0.9 {
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(compressed))) //nolint:gosec // bounded by block bound
		payload = compressed
	}

	if _, err := c.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	c.written += int64(blockHeaderSize + len(payload))
	c.buf = c.buf[:0]
	return nil
}

// BytesWritten returns the number of framed bytes written to the underlying writer.
func (c *Writer) BytesWritten() int64 {
	return c.written
}

// Reader decodes a block stream produced by Writer.
type Reader struct {
	r     io.Reader
	t     Type
	block []byte
	pos   int
}

// NewReader creates a block reader for a stream written with compression type t.
func NewReader(r io.Reader, t Type) (*Reader, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	return &Reader{r: r, t: t}, nil
}

// Read implements io.Reader.
func (c *Reader) Read(p []byte) (int, error) {
	for c.pos == len(c.block) {
		if err := c.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, c.block[c.pos:])
	c.pos += n
	return n, nil
}

func (c *Reader) next() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated header", ErrCorrupt)
		}
		return err // io.EOF at a block boundary ends the stream
	}

	size := binary.LittleEndian.Uint32(hdr[0:])
	compressedSize := binary.LittleEndian.Uint32(hdr[4:])
	if size == 0 || size > maxBlockSize || compressedSize > maxBlockSize+maxBlockSize/8 {
		return fmt.Errorf("%w: sizes %d/%d", ErrCorrupt, size, compressedSize)
	}

	readLen := size
	if compressedSize != 0 {
		readLen = compressedSize
	}
	raw := make([]byte, readLen)
	if _, err := io.ReadFull(c.r, raw); err != nil {
		return fmt.Errorf("%w: truncated payload: %w", ErrCorrupt, err)
	}

	if compressedSize == 0 {
		c.block = raw
	} else {
		block, err := decompressBlock(raw, int(size), c.t)
		if err != nil {
			return err
		}
		c.block = block
	}
	c.pos = 0
	return nil
}
