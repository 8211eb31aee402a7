// Package resource enforces limits shared by all stores of one database.
//
//   - Memory: page-cache extents and memory-resident record buffers reserve
//     bytes with AcquireMemory. Reservation never blocks; when the limit is
//     reached the page cache evicts instead of growing.
//   - Background workers: flush and backup workers take a slot each.
//   - I/O: a token bucket throttles page write-back and backup streams,
//     either directly with AcquireIO or through RateLimitedWriter and
//     RateLimitedReader.
//
// A controller is built once per base:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   256 << 20,
//	    IOLimitBytesPerSec: 64 << 20,
//	})
//
// Every method is safe for concurrent use, and a nil *Controller is valid
// and imposes no limits.
package resource
