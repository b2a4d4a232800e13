// Package mmap provides anonymous and read-only file memory mappings.
//
// MapAnon returns read-write memory outside the Go heap. Record pools use it as their
// item store so that large pools add no GC scanning work. Open maps a file read-only
// and backs the local blob store.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2), munmap(2) and madvise(2) via golang.org/x/sys/unix
//   - Windows: VirtualAlloc for anonymous memory, CreateFileMapping/MapViewOfFile for files
//
// Close is idempotent. Callers must not touch Bytes() after Close returns.
package mmap
