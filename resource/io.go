package resource

import (
	"context"

	"github.com/hupe1980/sstindex/internal/fs"
)

// ThrottleFile wraps a component file so every write consumes IO budget from
// the controller. Returns f unchanged when no IO limit is enforced.
func (c *Controller) ThrottleFile(ctx context.Context, f fs.File) fs.File {
	if c == nil || c.ioLimiter == nil {
		return f
	}
	return &throttledFile{File: f, ctrl: c, ctx: ctx}
}

type throttledFile struct {
	fs.File
	ctrl *Controller
	ctx  context.Context
}

func (f *throttledFile) Write(p []byte) (int, error) {
	if err := f.ctrl.ThrottleWrite(f.ctx, len(p)); err != nil {
		return 0, err
	}
	return f.File.Write(p)
}
