// Package resource governs the background work of a database: how many merge
// and rewrite jobs run at once, how much memory pending ingest batches may
// hold, and how fast background jobs may write segment bytes.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     256 << 20,
//	    MaxBackgroundWorkers: 2,
//	    IOLimitBytesPerSec:   64 << 20,
//	})
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// Memory acquisition is fail-fast (TryAcquireMemory) so a full budget turns
// into backpressure for the caller. IO limiting is a token bucket consumed by
// RateLimitedWriter.
//
// All methods are safe for concurrent use and a nil *Controller is a no-op.
package resource
