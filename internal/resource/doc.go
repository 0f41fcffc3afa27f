// Package resource bounds the resources a sync run may consume.
//
// The Controller governs three budgets:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                         Controller                          │
//	├─────────────────┬─────────────────┬─────────────────────────┤
//	│  In-flight      │  Fetch slots    │  IO rate limiter        │
//	│  bytes (sem)    │  (sem)          │  (token bucket)         │
//	├─────────────────┼─────────────────┼─────────────────────────┤
//	│  AcquireMemory  │  AcquireFetch   │  AcquireIO              │
//	│  TryAcquire     │  TryAcquire     │                         │
//	│  ReleaseMemory  │  ReleaseFetch   │                         │
//	└─────────────────┴─────────────────┴─────────────────────────┘
//
// In-flight bytes caps how much downloaded image data is held before it is
// embedded. Fetch slots cap concurrent downloads. The IO limiter caps download
// throughput in bytes per second:
//
//	rc := resource.NewController(resource.Config{
//	    MaxConcurrentFetches: 4,
//	    IOLimitBytesPerSec:   8 << 20,
//	})
//
//	if err := rc.AcquireFetch(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseFetch()
//
// All methods are safe for concurrent use, and a nil Controller imposes no
// limits.
package resource
