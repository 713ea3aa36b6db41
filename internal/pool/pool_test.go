package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/dovetail/internal/pipeline"
)

func TestGPUSlotSerializes(t *testing.T) {
	p := New(4, 1)
	var running, peak atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := p.Acquire(context.Background(), pipeline.ResourceGPU)
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 0, p.InUse(pipeline.ResourceGPU))
}

func TestAcquireHonoursContext(t *testing.T) {
	p := New(1, 1)
	release, err := p.Acquire(context.Background(), pipeline.ResourceCPU)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, pipeline.ResourceCPU)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// GPU is independent of CPU.
	gpuRelease, err := p.Acquire(context.Background(), pipeline.ResourceGPU)
	require.NoError(t, err)
	gpuRelease()
}

func TestReleaseIdempotent(t *testing.T) {
	p := New(2, 1)
	release, err := p.Acquire(context.Background(), pipeline.ResourceCPU)
	require.NoError(t, err)
	assert.Equal(t, 1, p.InUse(pipeline.ResourceCPU))

	release()
	release()
	assert.Equal(t, 0, p.InUse(pipeline.ResourceCPU))
	assert.Equal(t, 2, p.Size(pipeline.ResourceCPU))
}

func TestSizesClampToOne(t *testing.T) {
	p := New(0, -3)
	assert.Equal(t, 1, p.Size(pipeline.ResourceCPU))
	assert.Equal(t, 1, p.Size(pipeline.ResourceGPU))
}
