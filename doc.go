// Package slabpool provides fixed-capacity slab pools with a two-level free-space index.
//
// A pool owns N slots allocated once at construction. Occupancy is tracked by one bit
// per slot, packed into 32-bit words, plus an 8-bit counter per block of B slots.
// Allocate scans the counters for the first non-full block and returns the lowest
// free slot inside it, so allocation and release are bounded by the number of blocks
// and words per block, never by N.
//
// # Quick Start
//
//	pool, err := slabpool.New[Session](
//	    slabpool.WithCapacity(8192),
//	    slabpool.WithBlockSize(224),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	h, ok := pool.Allocate()
//	if !ok {
//	    // exhausted: every slot is held
//	}
//	s, _ := pool.Get(h)
//	s.User = "alice"
//	_ = pool.Release(h) // slot is zeroed
//
// # Pool Flavors
//
//   - Pool[T]: slots are T values in a Go slice.
//   - RecordPool: slots are fixed-size byte records in an anonymous memory mapping.
//     RecordPool supports snapshots (WriteSnapshot, RestoreRecordPool, SaveSnapshot,
//     LoadSnapshot) compressed with LZ4 or Zstandard.
//   - SyncPool[T]: a Pool[T] behind one mutex.
//
// # Misuse
//
// Exhaustion is not an error: Allocate returns (InvalidHandle, false). Releasing a
// handle outside [0, Cap()) or a slot that is not held is misuse. Misuse never panics
// and never changes pool state; it is returned as an error matching ErrMisuse and
// reported to the pool's Reporter. The default Reporter logs through the pool's
// Logger, rate limited by WithMisuseReportLimit.
//
// # Observability
//
//	metrics := &slabpool.BasicMetricsCollector{}
//	pool, _ := slabpool.New[Session](
//	    slabpool.WithLogger(slabpool.NewJSONLogger(slog.LevelInfo)),
//	    slabpool.WithMetricsCollector(metrics),
//	)
//
// # Resource Governance
//
// WithResourceController charges the pool's storage to a memory budget at
// construction and throttles snapshot IO. See package resource.
package slabpool
