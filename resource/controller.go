package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config bounds concurrent segment builds.
type Config struct {
	// MaxConcurrentBuilds caps how many builds run at once.
	// Zero or less defaults to 1.
	MaxConcurrentBuilds int64

	// WriteBytesPerSec throttles build write IO.
	// Zero or less means unlimited.
	WriteBytesPerSec int64
}

// Controller gates build slots and build IO. A nil Controller enforces
// nothing; every method is safe on a nil receiver.
type Controller struct {
	buildSem  *semaphore.Weighted
	ioLimiter *rate.Limiter
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentBuilds <= 0 {
		cfg.MaxConcurrentBuilds = 1
	}

	c := &Controller{
		buildSem: semaphore.NewWeighted(cfg.MaxConcurrentBuilds),
	}
	if cfg.WriteBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.WriteBytesPerSec), int(cfg.WriteBytesPerSec))
	}
	return c
}

// AcquireBuild blocks until a build slot is free or ctx is done.
func (c *Controller) AcquireBuild(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.buildSem.Acquire(ctx, 1)
}

// TryAcquireBuild reserves a build slot without blocking.
func (c *Controller) TryAcquireBuild() bool {
	if c == nil {
		return true
	}
	return c.buildSem.TryAcquire(1)
}

// ReleaseBuild returns a build slot.
func (c *Controller) ReleaseBuild() {
	if c != nil {
		c.buildSem.Release(1)
	}
}

// ThrottleWrite waits until the IO budget allows n more bytes. Requests
// larger than the burst are consumed in burst-sized slices.
func (c *Controller) ThrottleWrite(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil || n <= 0 {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := c.ioLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
