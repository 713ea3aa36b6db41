// Package pool provides the CPU and GPU slots that bound concurrent external processes.
package pool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/five82/dovetail/internal/pipeline"
)

// Pools holds one weighted semaphore per resource class.
type Pools struct {
	cpu *slot
	gpu *slot
}

type slot struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

func newSlot(n int) *slot {
	if n < 1 {
		n = 1
	}
	return &slot{sem: semaphore.NewWeighted(int64(n)), size: int64(n)}
}

// New creates pools with the given slot counts. Counts below one become one.
func New(cpu, gpu int) *Pools {
	return &Pools{cpu: newSlot(cpu), gpu: newSlot(gpu)}
}

func (p *Pools) slot(r pipeline.Resource) *slot {
	if r == pipeline.ResourceGPU {
		return p.gpu
	}
	return p.cpu
}

// Acquire blocks until a slot of class r is free or ctx is done.
// The returned release func must be called exactly once.
func (p *Pools) Acquire(ctx context.Context, r pipeline.Resource) (release func(), err error) {
	s := p.slot(r)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	s.inUse.Add(1)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			s.inUse.Add(-1)
			s.sem.Release(1)
		}
	}, nil
}

// InUse returns the number of held slots of class r.
func (p *Pools) InUse(r pipeline.Resource) int {
	return int(p.slot(r).inUse.Load())
}

// Size returns the capacity of class r.
func (p *Pools) Size(r pipeline.Resource) int {
	return int(p.slot(r).size)
}
