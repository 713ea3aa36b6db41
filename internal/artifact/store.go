// Package artifact manages per-run namespaces for intermediate files.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/five82/dovetail/internal/pipeline"
)

// LockFile marks a run directory as in use. It holds the owning pid.
const LockFile = ".lock"

// ErrUnknownRun is returned for a run that was never begun or was already cleaned up.
var ErrUnknownRun = errors.New("unknown run")

// endedRuns bounds how many cleaned-up run ids are remembered for repeat Cleanup calls.
const endedRuns = 1024

// Artifact is one file produced or consumed by a stage.
type Artifact struct {
	Kind  pipeline.Kind
	Path  string
	RunID string
	Stage string
	// Key is the content identity used for cache lookups.
	Key string
}

// Source wraps an input file. It is never owned by a run.
func Source(path, checksum string) Artifact {
	return Artifact{Kind: pipeline.KindSource, Path: path, Key: checksum}
}

// Owned reports whether the artifact lives in a run namespace.
func (a Artifact) Owned() bool {
	return a.RunID != ""
}

type run struct {
	dir string
	seq atomic.Int64
}

// Store hands out collision-free paths under root. Only active runs are
// tracked, so a long-lived store stays small.
type Store struct {
	root string

	mu    sync.Mutex
	runs  map[string]*run
	ended *lru.Cache
}

// New creates a store rooted at root. The directory is created on first Begin.
func New(root string) *Store {
	ended, _ := lru.New(endedRuns)
	return &Store{root: root, runs: make(map[string]*run), ended: ended}
}

// Active returns the number of runs begun and not yet cleaned up.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// NewRunID builds a run identifier from a source checksum and a timestamp.
func NewRunID(checksum string, now time.Time) string {
	prefix := checksum
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	if prefix == "" {
		prefix = "nochecksum"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// Begin creates the run namespace and its lock marker.
func (s *Store) Begin(runID string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runID]; ok {
		return r.dir, nil
	}

	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory %s: %w", dir, err)
	}
	lock := filepath.Join(dir, LockFile)
	if err := os.WriteFile(lock, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write lock %s: %w", lock, err)
	}
	s.runs[runID] = &run{dir: dir}
	s.ended.Remove(runID)
	return dir, nil
}

// Dir returns the namespace directory of an active run.
func (s *Store) Dir(runID string) (string, error) {
	r, err := s.active(runID)
	if err != nil {
		return "", err
	}
	return r.dir, nil
}

// Allocate returns a fresh path <root>/<runID>/<seq>-<kind><ext>. The file is not created.
// An empty ext uses the kind's default extension.
func (s *Store) Allocate(runID string, kind pipeline.Kind, ext string) (string, error) {
	r, err := s.active(runID)
	if err != nil {
		return "", err
	}
	if ext == "" {
		ext = kind.Ext()
	}
	n := r.seq.Add(1)
	return filepath.Join(r.dir, fmt.Sprintf("%02d-%s%s", n, kind, ext)), nil
}

func (s *Store) active(runID string) (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return r, nil
}

// Cleanup ends a run. The lock marker is always removed; the directory is removed unless retain.
// Calling it again for an ended run is a no-op.
func (s *Store) Cleanup(runID string, retain bool) error {
	s.mu.Lock()
	r, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		if s.ended.Contains(runID) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	delete(s.runs, runID)
	s.ended.Add(runID, struct{}{})
	s.mu.Unlock()

	if err := os.Remove(filepath.Join(r.dir, LockFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock for %s: %w", runID, err)
	}
	if retain {
		return nil
	}
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("failed to remove run directory %s: %w", r.dir, err)
	}
	return nil
}

// Sweep removes run directories older than olderThan that no live process holds.
// A lock whose pid is gone counts as released. It returns the removed directories.
func (s *Store) Sweep(olderThan time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read artifact root %s: %w", s.root, err)
	}

	cutoff := time.Now().Add(-olderThan)
	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		s.mu.Lock()
		_, inUse := s.runs[e.Name()]
		s.mu.Unlock()
		if inUse {
			continue
		}

		dir := filepath.Join(s.root, e.Name())
		if locked(dir) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("failed to remove stale run %s: %w", dir, err)
		}
		removed = append(removed, dir)
	}
	return removed, nil
}

// locked reports whether dir carries a lock held by a running process.
func locked(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, LockFile))
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		// Unreadable locks are respected.
		return true
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return alive
}
