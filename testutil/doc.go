// Package testutil provides testing utilities for slabpool.
//
// This package is intended for tests, benchmarks and the churn harness.
// It provides a seeded, thread-safe RNG and a LiveSet that models the
// handles a pool has handed out.
//
//	rng := testutil.NewRNG(seed)
//	live := testutil.NewLiveSet()
//	if h, ok := pool.Allocate(); ok {
//	    live.Add(uint32(h))
//	}
//	_ = pool.Release(slabpool.Handle(live.Pick(rng)))
package testutil
