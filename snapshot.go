package slabpool

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hupe1980/slabpool/blobstore"
	"github.com/hupe1980/slabpool/internal/compress"
	"github.com/hupe1980/slabpool/internal/conv"
	"github.com/hupe1980/slabpool/internal/hash"
	"github.com/hupe1980/slabpool/internal/slab"
	"github.com/hupe1980/slabpool/resource"
)

// Snapshot layout (little endian):
//
//	magic "SLBP" | version u16 | compression u8 | reserved u8
//	record size u32 | capacity u32 | block size u32 | index length u32
//	payload length u64 | payload CRC32C u32 | reserved u32
//	payload: compressed block stream of (index binary || record storage)
const (
	snapshotMagic      = "SLBP"
	snapshotVersion    = 1
	snapshotHeaderSize = 40

	snapshotChunk = 1 << 20
)

type snapshotHeader struct {
	compression compress.Type
	recordSize  uint32
	capacity    uint32
	blockSize   uint32
	indexLen    uint32
	payloadLen  uint64
	checksum    uint32
}

func (h *snapshotHeader) encode() []byte {
	buf := make([]byte, snapshotHeaderSize)
	copy(buf[0:4], snapshotMagic)
	binary.LittleEndian.PutUint16(buf[4:], snapshotVersion)
	buf[6] = byte(h.compression)
	binary.LittleEndian.PutUint32(buf[8:], h.recordSize)
	binary.LittleEndian.PutUint32(buf[12:], h.capacity)
	binary.LittleEndian.PutUint32(buf[16:], h.blockSize)
	binary.LittleEndian.PutUint32(buf[20:], h.indexLen)
	binary.LittleEndian.PutUint64(buf[24:], h.payloadLen)
	binary.LittleEndian.PutUint32(buf[32:], h.checksum)
	return buf
}

func decodeSnapshotHeader(buf []byte) (snapshotHeader, error) {
	var h snapshotHeader
	if string(buf[0:4]) != snapshotMagic {
		return h, fmt.Errorf("%w: bad magic %q", ErrSnapshotCorrupt, buf[0:4])
	}
	if v := binary.LittleEndian.Uint16(buf[4:]); v != snapshotVersion {
		return h, fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupt, v)
	}
	h.compression = compress.Type(buf[6])
	if !h.compression.Valid() {
		return h, fmt.Errorf("%w: unknown compression %d", ErrSnapshotCorrupt, buf[6])
	}
	h.recordSize = binary.LittleEndian.Uint32(buf[8:])
	h.capacity = binary.LittleEndian.Uint32(buf[12:])
	h.blockSize = binary.LittleEndian.Uint32(buf[16:])
	h.indexLen = binary.LittleEndian.Uint32(buf[20:])
	h.payloadLen = binary.LittleEndian.Uint64(buf[24:])
	h.checksum = binary.LittleEndian.Uint32(buf[32:])

	if h.recordSize == 0 || h.recordSize > math.MaxInt32 || h.capacity == 0 || h.capacity > MaxCapacity {
		return h, fmt.Errorf("%w: record size %d, capacity %d", ErrSnapshotCorrupt, h.recordSize, h.capacity)
	}
	indexLen, err := slab.EncodedSizeFor(int(h.capacity), int(h.blockSize))
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrSnapshotCorrupt, translateError(err))
	}
	if uint64(h.indexLen) != uint64(indexLen) { //nolint:gosec // indexLen > 0
		return h, fmt.Errorf("%w: index length %d, want %d", ErrSnapshotCorrupt, h.indexLen, indexLen)
	}
	if storage := h.storageBytes(); storage > MaxRecordStorage {
		return h, fmt.Errorf("%w: %d bytes of records exceed %d", ErrSnapshotCorrupt, storage, int64(MaxRecordStorage))
	}

	raw := uint64(h.indexLen) + uint64(h.storageBytes()) //nolint:gosec // storageBytes <= MaxRecordStorage
	if h.payloadLen > raw+raw/64+1024 {
		return h, fmt.Errorf("%w: payload length %d for %d raw bytes", ErrSnapshotCorrupt, h.payloadLen, raw)
	}
	if minLen := compress.MinEncodedSize(h.compression, raw, 0); h.payloadLen < minLen {
		return h, fmt.Errorf("%w: payload length %d cannot hold %d raw bytes (at least %d)",
			ErrSnapshotCorrupt, h.payloadLen, raw, minLen)
	}
	return h, nil
}

// storageBytes is the record storage the header describes.
func (h *snapshotHeader) storageBytes() int64 {
	return int64(h.capacity) * int64(h.recordSize)
}

// WriteSnapshot writes the pool's index and records to w and returns the number of
// bytes written. Writes are throttled by the resource controller, if any.
func (p *RecordPool) WriteSnapshot(ctx context.Context, w io.Writer) (n int64, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordSnapshot(n, time.Since(start), err)
		p.logger.LogSnapshot(ctx, p.Len(), n, err)
	}()

	if p.closed {
		return 0, ErrClosed
	}

	index, err := p.idx.MarshalBinary()
	if err != nil {
		return 0, err
	}

	var payload bytes.Buffer
	cw, err := compress.NewWriter(&payload, compress.Type(p.opts.compression), 0)
	if err != nil {
		return 0, err
	}
	if _, err := cw.Write(index); err != nil {
		return 0, err
	}
	for off := 0; off < len(p.data); off += snapshotChunk {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := cw.Write(p.data[off:min(off+snapshotChunk, len(p.data))]); err != nil {
			return 0, err
		}
	}
	if err := cw.Flush(); err != nil {
		return 0, err
	}

	indexLen, err := conv.IntToUint32(len(index))
	if err != nil {
		return 0, err
	}
	hdr := snapshotHeader{
		compression: compress.Type(p.opts.compression),
		recordSize:  uint32(p.recordSize),  //nolint:gosec // validated positive, bounded by storage size
		capacity:    uint32(p.Cap()),       //nolint:gosec // capacity <= MaxCapacity
		blockSize:   uint32(p.BlockSize()), //nolint:gosec // block size <= MaxBlockSize
		indexLen:    indexLen,
		payloadLen:  uint64(payload.Len()),
		checksum:    hash.CRC32C(payload.Bytes()),
	}

	rw := resource.NewRateLimitedWriter(ctx, w, p.opts.rc)
	hn, err := rw.Write(hdr.encode())
	n += int64(hn)
	if err != nil {
		return n, err
	}
	pn, err := io.Copy(rw, &payload)
	n += pn
	return n, err
}

// RestoreRecordPool reads a snapshot written by WriteSnapshot into a new RecordPool.
//
// Capacity, block size and record size come from the snapshot; optFns supply
// everything else (logging, storage, resource controller). Any inconsistency in the
// stream is reported as an error matching ErrSnapshotCorrupt.
func RestoreRecordPool(ctx context.Context, r io.Reader, optFns ...Option) (p *RecordPool, err error) {
	start := time.Now()
	o := applyOptions(optFns)
	logger := o.logger.WithPool(o.name)
	var n int64
	defer func() {
		live := 0
		if p != nil {
			live = p.Len()
		}
		o.metricsCollector.RecordSnapshot(n, time.Since(start), err)
		logger.LogRestore(ctx, live, n, err)
	}()

	rr := resource.NewRateLimitedReader(ctx, r, o.rc)

	hdrBuf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(rr, hdrBuf); err != nil {
		return nil, truncated("header", err)
	}
	n = snapshotHeaderSize
	hdr, err := decodeSnapshotHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	if limit := o.rc.MemoryLimit(); limit > 0 && hdr.storageBytes() > limit-o.rc.MemoryUsage() {
		return nil, fmt.Errorf("restore %d bytes of records: %w", hdr.storageBytes(), resource.ErrMemoryLimitExceeded)
	}

	payloadLen, err := conv.Uint64ToInt(hdr.payloadLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}
	// Grow with the bytes received, not the length the header claims.
	var pbuf bytes.Buffer
	pbuf.Grow(min(payloadLen, snapshotChunk))
	got, err := pbuf.ReadFrom(io.LimitReader(rr, int64(payloadLen)))
	n += got
	if err != nil {
		return nil, truncated("payload", err)
	}
	if got != int64(payloadLen) {
		return nil, truncated("payload", io.ErrUnexpectedEOF)
	}
	payload := pbuf.Bytes()
	if sum := hash.CRC32C(payload); sum != hdr.checksum {
		return nil, fmt.Errorf("%w: checksum %#08x, want %#08x", ErrSnapshotCorrupt, sum, hdr.checksum)
	}

	restoreOpts := append(append([]Option(nil), optFns...),
		WithCapacity(int(hdr.capacity)),
		WithBlockSize(int(hdr.blockSize)),
	)
	pool, err := NewRecordPool(int(hdr.recordSize), restoreOpts...)
	if err != nil {
		var ic *ErrInvalidConfig
		if errors.As(err, &ic) {
			return nil, fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
		}
		return nil, err
	}
	if err := pool.load(payload, hdr); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return pool, nil
}

func (p *RecordPool) load(payload []byte, hdr snapshotHeader) error {
	if int(hdr.indexLen) != p.idx.EncodedSize() {
		return fmt.Errorf("%w: index length %d, want %d", ErrSnapshotCorrupt, hdr.indexLen, p.idx.EncodedSize())
	}

	cr, err := compress.NewReader(bytes.NewReader(payload), hdr.compression)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}

	index := make([]byte, hdr.indexLen)
	if _, err := io.ReadFull(cr, index); err != nil {
		return truncated("index", err)
	}
	idx, err := slab.Decode(index)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotCorrupt, translateError(err))
	}
	if idx.Cap() != p.Cap() || idx.BlockSize() != p.BlockSize() {
		return fmt.Errorf("%w: index describes %d slots in blocks of %d", ErrSnapshotCorrupt, idx.Cap(), idx.BlockSize())
	}

	if _, err := io.ReadFull(cr, p.data); err != nil {
		return truncated("records", err)
	}
	var extra [1]byte
	if m, err := cr.Read(extra[:]); m > 0 || !errors.Is(err, io.EOF) {
		if err != nil && !errors.Is(err, io.EOF) {
			return truncated("trailer", err)
		}
		return fmt.Errorf("%w: trailing data after records", ErrSnapshotCorrupt)
	}

	p.idx = idx
	if err := p.Verify(); err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}
	return nil
}

func truncated(part string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated %s", ErrSnapshotCorrupt, part)
	}
	if errors.Is(err, compress.ErrCorrupt) {
		return fmt.Errorf("%s: %w", part, translateError(err))
	}
	return err
}

// SaveSnapshot writes a snapshot of p to store under name.
func SaveSnapshot(ctx context.Context, store blobstore.BlobStore, name string, p *RecordPool) error {
	var buf bytes.Buffer
	if _, err := p.WriteSnapshot(ctx, &buf); err != nil {
		return err
	}
	return store.Put(ctx, name, buf.Bytes())
}

// LoadSnapshot restores the snapshot stored under name.
func LoadSnapshot(ctx context.Context, store blobstore.BlobStore, name string, optFns ...Option) (*RecordPool, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", name, err)
	}
	return RestoreRecordPool(ctx, bytes.NewReader(data), optFns...)
}
