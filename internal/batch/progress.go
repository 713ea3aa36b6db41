package batch

import "sync"

// Progress counts dispatched runs as they finish.
type Progress struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	bytesIn   uint64
	bytesOut  uint64
}

// Snapshot is a point-in-time copy of Progress.
type Snapshot struct {
	RunsComplete int
	RunsTotal    int
	RunsFailed   int
	BytesIn      uint64
	BytesOut     uint64
}

func newProgress(total int) *Progress {
	return &Progress{total: total}
}

func (p *Progress) done(ok bool, in, out uint64) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	if !ok {
		p.failed++
	}
	p.bytesIn += in
	p.bytesOut += out
	return p.snapshot()
}

// Snapshot returns the current counts.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

func (p *Progress) snapshot() Snapshot {
	return Snapshot{
		RunsComplete: p.completed,
		RunsTotal:    p.total,
		RunsFailed:   p.failed,
		BytesIn:      p.bytesIn,
		BytesOut:     p.bytesOut,
	}
}

// Percent returns the completion percentage.
func (s Snapshot) Percent() float64 {
	if s.RunsTotal == 0 {
		return 0
	}
	return float64(s.RunsComplete) / float64(s.RunsTotal) * 100
}
