// Package slab implements the two-level free-space index behind a fixed-capacity pool.
//
// # Layout
//
// The index tracks N slots with two arrays that are sized once and never grow:
//
//   - Occupancy words: ceil(N/32) uint32 words. Bit i%32 of word i/32 is set while slot i is held.
//   - Block counters: ceil(N/B) uint8 counters. counter[k] is the number of held slots in
//     slots [k*B, min((k+1)*B, N)).
//
// B is a multiple of the word width so every block covers whole words, and B <= 255 so a
// counter always fits in a byte. The last block holds N - B*(blocks-1) slots.
//
// # Allocation
//
// Acquire scans the counters for the first block below its capacity, then scans that
// block's words for the first one that is not all ones and takes its lowest zero bit.
// The lowest free index inside the chosen block always wins.
//
// # Invariants
//
// After every operation, for every block k, counter[k] equals the number of set bits in
// block k's words, and no bit at or beyond N is set. Release never mutates state when it
// rejects an index. Verify checks both invariants.
//
// An Index is not safe for concurrent use.
package slab
