package slabpool

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/slabpool/resource"
	"github.com/hupe1980/slabpool/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type session struct {
	ID   uint64
	User [16]byte
	Hits int
}

type recordingReporter struct {
	reports []Misuse
}

func (r *recordingReporter) ReportMisuse(_ context.Context, m Misuse) {
	r.reports = append(r.reports, m)
}

func newTestPool(t testing.TB, optFns ...Option) (*Pool[session], *recordingReporter) {
	t.Helper()
	rep := &recordingReporter{}
	opts := append([]Option{WithLogger(NoopLogger()), WithReporter(rep)}, optFns...)
	p, err := New[session](opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, rep
}

func TestNew_Defaults(t *testing.T) {
	p, _ := newTestPool(t)

	assert.Equal(t, DefaultCapacity, p.Cap())
	assert.Equal(t, DefaultBlockSize, p.BlockSize())
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, DefaultCapacity, p.Available())

	st := p.Stats()
	assert.Equal(t, 37, st.Blocks)
	assert.Equal(t, 0, st.FullBlocks)
	assert.Equal(t, 256*4+37, st.IndexBytes)
	require.NoError(t, p.Verify())
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		field string
		value any
	}{
		{"zero capacity", []Option{WithCapacity(0)}, "capacity", 0},
		{"negative capacity", []Option{WithCapacity(-5)}, "capacity", -5},
		{"block not word aligned", []Option{WithBlockSize(100)}, "block size", 100},
		{"block overflows counter", []Option{WithBlockSize(256)}, "block size", 256},
		{"unknown compression", []Option{WithSnapshotCompression(Compression(9))}, "compression", Compression(9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New[session](tt.opts...)
			require.Error(t, err)
			assert.Nil(t, p)

			var ic *ErrInvalidConfig
			require.ErrorAs(t, err, &ic)
			assert.Equal(t, tt.field, ic.Field)
			assert.Equal(t, tt.value, ic.Value)
		})
	}
}

func TestNew_MemoryBudget(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 10_000})

	// 1024 * 8 bytes of storage + 32 words * 4 + 16 counters.
	p, err := New[uint64](WithCapacity(1024), WithBlockSize(64), WithResourceController(rc), WithLogger(NoopLogger()))
	require.NoError(t, err)
	assert.Equal(t, int64(8192+128+16), rc.MemoryUsage())

	_, err = New[uint64](WithCapacity(1024), WithBlockSize(64), WithResourceController(rc), WithLogger(NoopLogger()))
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)

	require.NoError(t, p.Close())
	assert.Zero(t, rc.MemoryUsage())
}

// Fill to exhaustion, then release and reallocate single slots at both ends and in the
// middle of the pool, then release one past the end.
func TestPool_Scenario(t *testing.T) {
	p, rep := newTestPool(t, WithCapacity(8192), WithBlockSize(224))

	handles := make([]Handle, 0, 8192)
	none := 0
	for range 2 * 8192 {
		h, ok := p.Allocate()
		if !ok {
			assert.Equal(t, InvalidHandle, h)
			none++
			continue
		}
		handles = append(handles, h)
	}
	require.Len(t, handles, 8192)
	assert.Equal(t, 8192, none)
	for i, h := range handles {
		require.Equal(t, Handle(i), h)
	}

	first := handles[0]
	for _, off := range []int{0, 1234, 8190} {
		h := first.Add(off)
		s, err := p.Get(h)
		require.NoError(t, err)
		s.Hits = off + 1

		require.NoError(t, p.Release(h))

		got, ok := p.Allocate()
		require.True(t, ok, "offset %d", off)
		assert.Equal(t, h, got)

		s, err = p.Get(got)
		require.NoError(t, err)
		assert.Equal(t, session{}, *s, "offset %d: slot not zeroed", off)

		_, ok = p.Allocate()
		assert.False(t, ok)
	}

	err := p.Release(first.Add(8192))
	var ih *ErrInvalidHandle
	require.ErrorAs(t, err, &ih)
	assert.ErrorIs(t, err, ErrMisuse)
	assert.Equal(t, Handle(8192), ih.Handle)
	require.Len(t, rep.reports, 1)
	assert.Equal(t, MisuseInvalidHandle, rep.reports[0].Kind)

	_, ok := p.Allocate()
	assert.False(t, ok)
	assert.Equal(t, 8192, p.Len())
	assert.Equal(t, uint64(8192+4), p.Stats().Exhausted)
	require.NoError(t, p.Verify())
}

func TestPool_LastBlockIsRemainder(t *testing.T) {
	p, _ := newTestPool(t)
	for range 224 * 36 {
		_, ok := p.Allocate()
		require.True(t, ok)
	}
	assert.Equal(t, 36, p.Stats().FullBlocks)

	for range 128 {
		_, ok := p.Allocate()
		require.True(t, ok)
	}
	assert.Equal(t, 37, p.Stats().FullBlocks)
	_, ok := p.Allocate()
	assert.False(t, ok)

	usage := p.BlockUsage()
	require.Len(t, usage, 37)
	assert.Equal(t, BlockUsage{Block: 35, First: 35 * 224, Slots: 224, Used: 224}, usage[35])
	assert.Equal(t, BlockUsage{Block: 36, First: 36 * 224, Slots: 128, Used: 128}, usage[36])
}

func TestPool_TieBreakLowestFree(t *testing.T) {
	p, _ := newTestPool(t, WithCapacity(512), WithBlockSize(64))
	for range 512 {
		_, _ = p.Allocate()
	}

	for _, h := range []Handle{300, 65, 70, 2} {
		require.NoError(t, p.Release(h))
	}
	for _, want := range []Handle{2, 65, 70, 300} {
		got, ok := p.Allocate()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestPool_DoubleRelease(t *testing.T) {
	t.Run("EmptyBlock", func(t *testing.T) {
		p, rep := newTestPool(t, WithCapacity(64), WithBlockSize(32))
		h, _ := p.Allocate()
		require.NoError(t, p.Release(h))

		err := p.Release(h)
		var dr *ErrDoubleRelease
		require.ErrorAs(t, err, &dr)
		assert.ErrorIs(t, err, ErrMisuse)
		assert.Equal(t, h, dr.Handle)
		assert.Equal(t, 0, dr.Block)

		require.Len(t, rep.reports, 1)
		assert.Equal(t, MisuseDoubleRelease, rep.reports[0].Kind)
		assert.Equal(t, 0, rep.reports[0].Block)
		assert.Equal(t, 0, p.Len())
		require.NoError(t, p.Verify())
	})

	t.Run("BusyBlock", func(t *testing.T) {
		p, rep := newTestPool(t, WithCapacity(64), WithBlockSize(32))
		a, _ := p.Allocate()
		b, _ := p.Allocate()
		require.NoError(t, p.Release(a))

		assert.ErrorIs(t, p.Release(a), ErrMisuse)
		assert.Len(t, rep.reports, 1)
		assert.Equal(t, 1, p.Len())
		assert.True(t, p.IsAllocated(b))
		require.NoError(t, p.Verify())

		// The busy block still hands out the released slot first.
		got, _ := p.Allocate()
		assert.Equal(t, a, got)
	})
}

func TestPool_InvalidHandle(t *testing.T) {
	p, rep := newTestPool(t, WithCapacity(100), WithBlockSize(32))
	h, _ := p.Allocate()

	for _, bad := range []Handle{100, 101, InvalidHandle} {
		err := p.Release(bad)
		var ih *ErrInvalidHandle
		require.ErrorAs(t, err, &ih)
		assert.Equal(t, bad, ih.Handle)
		assert.Equal(t, 100, ih.Capacity)
	}
	require.Len(t, rep.reports, 3)
	for _, m := range rep.reports {
		assert.Equal(t, MisuseInvalidHandle, m.Kind)
		assert.Equal(t, -1, m.Block)
	}

	assert.Equal(t, 1, p.Len())
	assert.True(t, p.IsAllocated(h))
	assert.Equal(t, uint64(3), p.Stats().Misuses)
	require.NoError(t, p.Verify())
}

func TestPool_Get(t *testing.T) {
	p, rep := newTestPool(t, WithCapacity(64), WithBlockSize(32))
	h, _ := p.Allocate()

	s, err := p.Get(h)
	require.NoError(t, err)
	s.ID = 7
	again, _ := p.Get(h)
	assert.Equal(t, uint64(7), again.ID)

	_, err = p.Get(Handle(5))
	assert.ErrorIs(t, err, ErrNotAllocated)

	_, err = p.Get(Handle(64))
	var ih *ErrInvalidHandle
	assert.ErrorAs(t, err, &ih)

	// Accessor errors are not release misuse.
	assert.Empty(t, rep.reports)
}

func TestPool_Close(t *testing.T) {
	rep := &recordingReporter{}
	p, err := New[session](WithCapacity(64), WithBlockSize(32), WithLogger(NoopLogger()), WithReporter(rep))
	require.NoError(t, err)
	h, _ := p.Allocate()

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Close(), ErrClosed)

	got, ok := p.Allocate()
	assert.False(t, ok)
	assert.Equal(t, InvalidHandle, got)
	assert.ErrorIs(t, p.Release(h), ErrClosed)
	_, err = p.Get(h)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, rep.reports)
}

func TestPool_Reset(t *testing.T) {
	p, _ := newTestPool(t, WithCapacity(300), WithBlockSize(96))
	for range 250 {
		h, _ := p.Allocate()
		s, _ := p.Get(h)
		s.Hits = 1
	}

	p.Reset()
	assert.Equal(t, 0, p.Len())
	h, ok := p.Allocate()
	require.True(t, ok)
	assert.Equal(t, Handle(0), h)
	s, _ := p.Get(h)
	assert.Zero(t, s.Hits)
	require.NoError(t, p.Verify())
}

func TestPool_Allocated(t *testing.T) {
	p, _ := newTestPool(t, WithCapacity(128), WithBlockSize(32))
	for range 40 {
		_, _ = p.Allocate()
	}
	require.NoError(t, p.Release(33))

	rb := p.Allocated()
	assert.Equal(t, uint64(39), rb.GetCardinality())
	assert.False(t, rb.Contains(33))
	assert.True(t, rb.Contains(39))
}

func TestPool_Metrics(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	p, _ := newTestPool(t, WithCapacity(32), WithBlockSize(32), WithMetricsCollector(metrics))

	for range 33 {
		_, _ = p.Allocate()
	}
	require.NoError(t, p.Release(0))
	_ = p.Release(0)

	st := metrics.GetStats()
	assert.Equal(t, int64(33), st.AllocateCount)
	assert.Equal(t, int64(1), st.AllocateExhausted)
	assert.Equal(t, int64(2), st.ReleaseCount)
	assert.Equal(t, int64(1), st.ReleaseErrors)
}

func TestPool_RandomChurn(t *testing.T) {
	rng := testutil.NewRNG(4242)
	live := testutil.NewLiveSet()
	p, _ := newTestPool(t, WithCapacity(1000), WithBlockSize(224))

	for step := range 30_000 {
		switch op := rng.Intn(10); {
		case op < 6:
			h, ok := p.Allocate()
			if live.Len() == p.Cap() {
				require.False(t, ok)
				continue
			}
			require.True(t, ok)
			require.True(t, live.Add(uint32(h)), "step %d: handle %d handed out twice", step, h)
		case op < 9 && live.Len() > 0:
			h := Handle(live.Pick(rng))
			require.NoError(t, p.Release(h))
			live.Remove(uint32(h))
		default:
			h := Handle(rng.Intn(p.Cap() + 8))
			err := p.Release(h)
			if live.Contains(uint32(h)) {
				require.NoError(t, err)
				live.Remove(uint32(h))
			} else {
				require.True(t, errors.Is(err, ErrMisuse))
			}
		}
		if step%1000 == 0 {
			require.NoError(t, p.Verify())
		}
	}

	require.NoError(t, p.Verify())
	assert.Equal(t, live.Len(), p.Len())
	for _, h := range live.Sorted() {
		assert.True(t, p.IsAllocated(Handle(h)))
	}
}

func BenchmarkPool_AllocateRelease(b *testing.B) {
	p, _ := newTestPool(b)
	for range 8000 {
		_, _ = p.Allocate()
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, _ := p.Allocate()
		_ = p.Release(h)
	}
}
