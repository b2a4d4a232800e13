package slabpool

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/hupe1980/slabpool/blobstore"
	"github.com/hupe1980/slabpool/internal/compress"
	"github.com/hupe1980/slabpool/internal/hash"
	"github.com/hupe1980/slabpool/internal/slab"
	"github.com/hupe1980/slabpool/resource"
	"github.com/hupe1980/slabpool/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillRecords allocates n records, fills them with random bytes, and then frees every
// seventh one so the snapshot carries holes.
func fillRecords(t *testing.T, p *RecordPool, n int, seed int64) map[Handle][]byte {
	t.Helper()
	rng := testutil.NewRNG(seed)
	handles := make([]Handle, 0, n)
	for range n {
		h, ok := p.Allocate()
		require.True(t, ok)
		rec, err := p.Record(h)
		require.NoError(t, err)
		rng.FillBytes(rec)
		handles = append(handles, h)
	}

	want := make(map[Handle][]byte)
	for i, h := range handles {
		if i%7 == 3 {
			require.NoError(t, p.Release(h))
			continue
		}
		rec, _ := p.Record(h)
		want[h] = append([]byte(nil), rec...)
	}
	return want
}

func assertRestored(t *testing.T, got *RecordPool, src *RecordPool, want map[Handle][]byte) {
	t.Helper()
	assert.Equal(t, src.Cap(), got.Cap())
	assert.Equal(t, src.BlockSize(), got.BlockSize())
	assert.Equal(t, src.RecordSize(), got.RecordSize())
	assert.Equal(t, src.Len(), got.Len())
	assert.True(t, src.Allocated().Equals(got.Allocated()))
	for h, rec := range want {
		r, err := got.Record(h)
		require.NoError(t, err)
		assert.Equal(t, rec, r)
	}
	require.NoError(t, got.Verify())

	// Allocation continues where the source would.
	hs, _ := src.Allocate()
	hg, _ := got.Allocate()
	assert.Equal(t, hs, hg)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			metrics := &BasicMetricsCollector{}
			src := newTestRecordPool(t, 64,
				WithCapacity(1000), WithBlockSize(224),
				WithSnapshotCompression(c), WithMetricsCollector(metrics))
			want := fillRecords(t, src, 600, 1)

			var buf bytes.Buffer
			n, err := src.WriteSnapshot(context.Background(), &buf)
			require.NoError(t, err)
			assert.Equal(t, int64(buf.Len()), n)
			if c != CompressionNone {
				// 400 free records are zero and compress away.
				assert.Less(t, n, int64(1000*64))
			}

			got, err := RestoreRecordPool(context.Background(), &buf, WithLogger(NoopLogger()), WithMetricsCollector(metrics))
			require.NoError(t, err)
			defer got.Close()
			assertRestored(t, got, src, want)

			st := metrics.GetStats()
			assert.Equal(t, int64(2), st.SnapshotCount)
			assert.Zero(t, st.SnapshotErrors)
		})
	}
}

func TestSnapshot_HeaderOverridesGeometry(t *testing.T) {
	src := newTestRecordPool(t, 16, WithCapacity(100), WithBlockSize(32))
	want := fillRecords(t, src, 50, 2)

	var buf bytes.Buffer
	_, err := src.WriteSnapshot(context.Background(), &buf)
	require.NoError(t, err)

	got, err := RestoreRecordPool(context.Background(), &buf,
		WithCapacity(5000), WithBlockSize(64), WithHeapStorage(), WithLogger(NoopLogger()))
	require.NoError(t, err)
	defer got.Close()
	assertRestored(t, got, src, want)
}

func TestSnapshot_Corrupt(t *testing.T) {
	src := newTestRecordPool(t, 32, WithCapacity(256), WithBlockSize(64), WithSnapshotCompression(CompressionZSTD))
	fillRecords(t, src, 100, 3)
	var buf bytes.Buffer
	_, err := src.WriteSnapshot(context.Background(), &buf)
	require.NoError(t, err)
	good := buf.Bytes()

	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}

	cases := map[string][]byte{
		"empty":            nil,
		"short header":     good[:snapshotHeaderSize-1],
		"bad magic":        mutate(func(b []byte) []byte { b[0] = 'X'; return b }),
		"bad version":      mutate(func(b []byte) []byte { binary.LittleEndian.PutUint16(b[4:], 7); return b }),
		"bad compression":  mutate(func(b []byte) []byte { b[6] = 9; return b }),
		"zero record size": mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:], 0); return b }),
		"bad block size":   mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[16:], 33); return b }),
		"huge payload":     mutate(func(b []byte) []byte { binary.LittleEndian.PutUint64(b[24:], 1<<40); return b }),
		"truncated":        good[:len(good)-5],
		"flipped payload":  mutate(func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }),
		"bad checksum":     mutate(func(b []byte) []byte { b[32] ^= 0xff; return b }),
		"index length": mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[20:], binary.LittleEndian.Uint32(b[20:])+1)
			return b
		}),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := RestoreRecordPool(context.Background(), bytes.NewReader(data), WithLogger(NoopLogger()))
			assert.ErrorIs(t, err, ErrSnapshotCorrupt)
			assert.Nil(t, p)
		})
	}
}

// forgedSnapshot encodes a header for the given geometry in front of payload. The
// index length matches the geometry and the checksum matches payload, so only the
// size checks stand between the header and a pool allocation.
func forgedSnapshot(t *testing.T, c compress.Type, capacity, recordSize uint32, payloadLen uint64, payload []byte) []byte {
	t.Helper()
	indexLen, err := slab.EncodedSizeFor(int(capacity), DefaultBlockSize)
	require.NoError(t, err)
	hdr := snapshotHeader{
		compression: c,
		recordSize:  recordSize,
		capacity:    capacity,
		blockSize:   DefaultBlockSize,
		indexLen:    uint32(indexLen),
		payloadLen:  payloadLen,
		checksum:    hash.CRC32C(payload),
	}
	return append(hdr.encode(), payload...)
}

func TestSnapshot_ForgedGeometry(t *testing.T) {
	const (
		capacity   = 1 << 20
		recordSize = 1 << 12 // 4 GiB of records
	)
	indexLen, err := slab.EncodedSizeFor(capacity, DefaultBlockSize)
	require.NoError(t, err)
	raw := uint64(indexLen) + capacity*recordSize

	cases := map[string][]byte{
		"max geometry, empty payload": forgedSnapshot(t, compress.None, MaxCapacity, MaxCapacity, 0, nil),
		"max geometry, zstd":          forgedSnapshot(t, compress.ZSTD, MaxCapacity, MaxCapacity, 0, nil),
		"empty payload":               forgedSnapshot(t, compress.None, capacity, recordSize, 0, nil),
		"one block for many, lz4":     forgedSnapshot(t, compress.LZ4, capacity, recordSize, 9, make([]byte, 9)),
		"raw size minus one":          forgedSnapshot(t, compress.None, capacity, recordSize, compress.MinEncodedSize(compress.None, raw, 0)-1, nil),
		// Plausible length, but the stream ends after a few bytes.
		"short stream": forgedSnapshot(t, compress.ZSTD, capacity, recordSize,
			compress.MinEncodedSize(compress.ZSTD, raw, 0), make([]byte, 10)),
	}
	for name, data := range cases {
		for _, heap := range []bool{false, true} {
			opts := []Option{WithLogger(NoopLogger())}
			if heap {
				opts = append(opts, WithHeapStorage())
			}
			t.Run(fmt.Sprintf("%s/heap=%v", name, heap), func(t *testing.T) {
				var (
					p   *RecordPool
					err error
				)
				require.NotPanics(t, func() {
					p, err = RestoreRecordPool(context.Background(), bytes.NewReader(data), opts...)
				})
				assert.ErrorIs(t, err, ErrSnapshotCorrupt)
				assert.Nil(t, p)
			})
		}
	}
}

func TestSnapshot_RestoreOverBudget(t *testing.T) {
	src := newTestRecordPool(t, 64, WithCapacity(1024), WithBlockSize(64))
	fillRecords(t, src, 100, 5)
	var buf bytes.Buffer
	_, err := src.WriteSnapshot(context.Background(), &buf)
	require.NoError(t, err)

	rc := resource.NewController(resource.Config{MemoryLimitBytes: 32 * 1024})
	p, err := RestoreRecordPool(context.Background(), bytes.NewReader(buf.Bytes()),
		WithResourceController(rc), WithLogger(NoopLogger()))
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Nil(t, p)
	assert.Zero(t, rc.MemoryUsage())

	rc = resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
	p, err = RestoreRecordPool(context.Background(), bytes.NewReader(buf.Bytes()),
		WithResourceController(rc), WithLogger(NoopLogger()))
	require.NoError(t, err)
	assert.Positive(t, rc.MemoryUsage())
	require.NoError(t, p.Close())
	assert.Zero(t, rc.MemoryUsage())
}

func TestSnapshot_ReleasesReservationOnFailure(t *testing.T) {
	src := newTestRecordPool(t, 8, WithCapacity(64), WithBlockSize(32), WithSnapshotCompression(CompressionNone))
	fillRecords(t, src, 10, 4)
	var buf bytes.Buffer
	_, err := src.WriteSnapshot(context.Background(), &buf)
	require.NoError(t, err)

	// Dirty a free record and fix up the checksum: the index and data disagree.
	data := buf.Bytes()
	free := 3 // fillRecords frees every seventh record starting at 3
	// Payload is one uncompressed block: 8-byte block header, index, records.
	idxLen := int(binary.LittleEndian.Uint32(data[20:]))
	data[snapshotHeaderSize+8+idxLen+free*8] = 0xaa
	binary.LittleEndian.PutUint32(data[32:], hash.CRC32C(data[snapshotHeaderSize:]))

	rc := resource.NewController(resource.Config{})
	_, err = RestoreRecordPool(context.Background(), bytes.NewReader(data), WithResourceController(rc), WithLogger(NoopLogger()))
	require.ErrorIs(t, err, ErrSnapshotCorrupt)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Zero(t, rc.MemoryUsage())
}

func TestSnapshot_Closed(t *testing.T) {
	p, err := NewRecordPool(8, WithCapacity(32), WithBlockSize(32), WithLogger(NoopLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Close())
	_, err = p.WriteSnapshot(context.Background(), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSnapshot_RateLimited(t *testing.T) {
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	src := newTestRecordPool(t, 32, WithCapacity(128), WithBlockSize(32), WithResourceController(rc))
	want := fillRecords(t, src, 20, 5)

	var buf bytes.Buffer
	_, err := src.WriteSnapshot(context.Background(), &buf)
	require.NoError(t, err)

	got, err := RestoreRecordPool(context.Background(), &buf, WithResourceController(rc), WithLogger(NoopLogger()))
	require.NoError(t, err)
	defer got.Close()
	assertRestored(t, got, src, want)
}

func TestSaveLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]blobstore.BlobStore{
		"memory": blobstore.NewMemoryStore(),
		"local":  blobstore.NewLocalStore(t.TempDir()),
	} {
		t.Run(name, func(t *testing.T) {
			src := newTestRecordPool(t, 24, WithCapacity(300), WithBlockSize(96))
			want := fillRecords(t, src, 120, 6)

			require.NoError(t, SaveSnapshot(ctx, store, "pools/sessions.slbp", src))
			names, err := store.List(ctx, "pools/")
			require.NoError(t, err)
			assert.Equal(t, []string{"pools/sessions.slbp"}, names)

			got, err := LoadSnapshot(ctx, store, "pools/sessions.slbp", WithLogger(NoopLogger()))
			require.NoError(t, err)
			defer got.Close()
			assertRestored(t, got, src, want)

			_, err = LoadSnapshot(ctx, store, "missing.slbp")
			assert.ErrorIs(t, err, blobstore.ErrNotFound)
		})
	}
}
