package resource

import (
	"context"
	"io"
)

// RateLimitedWriter wraps an io.Writer with the controller's IO limit.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
}

// NewRateLimitedWriter creates a new RateLimitedWriter.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, rc *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, rc: rc}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.rc.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// Wrapper returns a function that rate limits writers, or nil when the
// controller has no IO limit.
func (c *Controller) Wrapper(ctx context.Context) func(io.Writer) io.Writer {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	return func(w io.Writer) io.Writer {
		return NewRateLimitedWriter(ctx, w, c)
	}
}
