package probe

import (
	"bytes"
	"context"
	"sync"

	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/runner"
)

var (
	dvcCMarker = []byte("type:'dvcC'")
	dvvCMarker = []byte("type:'dvvC'")
)

// Boxes reports which Dolby Vision configuration boxes the container carries.
type Boxes struct {
	DVCC bool
	DVVC bool
}

// Found reports whether either box is present.
func (b Boxes) Found() bool {
	return b.DVCC || b.DVVC
}

// Type names the box found, preferring dvcC.
func (b Boxes) Type() string {
	switch {
	case b.DVCC:
		return "dvcC"
	case b.DVVC:
		return "dvvC"
	default:
		return ""
	}
}

// ContainerBoxes scans ffprobe's trace output for Dolby Vision boxes. The trace
// can be large, so it is streamed through a scanner rather than captured.
func (p *Prober) ContainerBoxes(ctx context.Context, path string) (Boxes, error) {
	scan := &boxScanner{}
	out := p.runner.Invoke(ctx, runner.Command{
		Name:        p.ffprobe,
		Args:        []string{"-v", "trace", path},
		Timeout:     p.timeout,
		StderrLimit: 4096,
		StdoutLimit: 4096,
		StderrTap:   scan,
	})
	if out.Err != nil {
		return Boxes{}, derrors.NewProbeError("ffprobe trace could not run on "+path, out.Err)
	}
	if out.TimedOut || out.ExitCode != 0 {
		return Boxes{}, derrors.NewProbeError("ffprobe trace failed on "+path, nil)
	}
	return scan.Boxes(), nil
}

// boxScanner matches box markers in a byte stream, including across write boundaries.
type boxScanner struct {
	mu    sync.Mutex
	carry []byte
	found Boxes
}

func (s *boxScanner) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.found.DVCC && s.found.DVVC {
		return len(p), nil
	}
	buf := append(s.carry, p...)
	if bytes.Contains(buf, dvcCMarker) {
		s.found.DVCC = true
	}
	if bytes.Contains(buf, dvvCMarker) {
		s.found.DVVC = true
	}

	keep := len(dvcCMarker) - 1
	if len(buf) > keep {
		buf = buf[len(buf)-keep:]
	}
	s.carry = append(s.carry[:0], buf...)
	return len(p), nil
}

func (s *boxScanner) Boxes() Boxes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.found
}
