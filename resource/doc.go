// Package resource governs the resources pools draw on.
//
//   - Memory: pools reserve their storage footprint at construction and return it on Close.
//     Reservations never block; a refused reservation fails construction with
//     ErrMemoryLimitExceeded.
//   - Background workers: a weighted semaphore caps concurrent harness workers.
//   - IO: a token bucket throttles snapshot writes and reads
//     (RateLimitedWriter, RateLimitedReader).
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   64 << 20,
//	    IOLimitBytesPerSec: 8 << 20,
//	})
//	pool, err := slabpool.New[Session](slabpool.WithResourceController(rc))
//
// All methods are safe for concurrent use and are no-ops on a nil *Controller.
package resource
