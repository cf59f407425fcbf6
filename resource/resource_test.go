package resource

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sstindex/internal/fs"
)

func TestLimiterShouldFlush(t *testing.T) {
	l := NewLimiter(1000)
	for i := 0; i < 4; i++ {
		l.Register()
	}

	l.Acquire(900)
	assert.False(t, l.ShouldFlush(900), "budget not exceeded yet")

	l.Acquire(200)
	require.Equal(t, int64(1100), l.Used())
	assert.False(t, l.ShouldFlush(200), "below the fair share of 250")
	assert.True(t, l.ShouldFlush(250))
	assert.True(t, l.ShouldFlush(600))

	// three builders retire, the fair share grows to the whole budget
	l.Unregister()
	l.Unregister()
	l.Unregister()
	assert.False(t, l.ShouldFlush(250))
	assert.True(t, l.ShouldFlush(1000))

	l.Release(1100)
	l.Unregister()
	assert.Equal(t, int64(0), l.Used())
	assert.Equal(t, int64(0), l.Active())
}

func TestLimiterAccounting(t *testing.T) {
	l := NewLimiter(1 << 20)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Register()
			defer l.Unregister()
			for j := 0; j < 1000; j++ {
				l.Acquire(64)
				l.Release(64)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), l.Used())
	assert.Equal(t, int64(0), l.Active())
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0)
	l.Register()
	l.Acquire(1 << 30)
	assert.False(t, l.ShouldFlush(1<<30))
}

func TestLimiterNil(t *testing.T) {
	var l *Limiter
	l.Register()
	l.Acquire(100)
	l.Release(100)
	l.Unregister()
	assert.False(t, l.ShouldFlush(1<<40))
	assert.Equal(t, int64(0), l.Used())
	assert.Equal(t, int64(0), l.Budget())
}

func TestControllerBuildSlots(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{MaxConcurrentBuilds: 2})

	require.NoError(t, c.AcquireBuild(ctx))
	require.NoError(t, c.AcquireBuild(ctx))
	assert.False(t, c.TryAcquireBuild())

	c.ReleaseBuild()
	assert.True(t, c.TryAcquireBuild())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, c.AcquireBuild(canceled))
}

func TestControllerNil(t *testing.T) {
	ctx := context.Background()
	var c *Controller

	require.NoError(t, c.AcquireBuild(ctx))
	assert.True(t, c.TryAcquireBuild())
	c.ReleaseBuild()
	require.NoError(t, c.ThrottleWrite(ctx, 1<<30))
}

func TestThrottleWriteBeyondBurst(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{WriteBytesPerSec: 1 << 20})

	// Larger than the burst, consumed in slices without error.
	require.NoError(t, c.ThrottleWrite(ctx, (1<<20)+4096))
}

func TestThrottleFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "throttled.db")
	f, err := fs.Default.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	require.NoError(t, err)

	unlimited := (*Controller)(nil).ThrottleFile(ctx, f)
	assert.Same(t, f, unlimited)

	c := NewController(Config{WriteBytesPerSec: 1 << 20})
	tf := c.ThrottleFile(ctx, f)
	_, err = tf.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, tf.Sync())
	require.NoError(t, tf.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
