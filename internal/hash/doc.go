// Package hash computes the CRC32-Castagnoli checksums that protect snapshot
// payloads and S3 uploads.
//
// The polynomial table is built once. klauspost/crc32 uses SSE4.2 or the ARM
// CRC extension when the CPU has them.
//
//	sum := hash.CRC32C(payload)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	sum := h.Sum32()
package hash
