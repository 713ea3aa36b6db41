package manifest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/util"
)

// Writer is the single owner of a manifest on disk. Every change is sent to its
// goroutine over a channel, applied in order and persisted atomically before the
// caller is answered.
type Writer struct {
	dir       string
	favorites bool
	logger    *logging.Logger
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	reqs   chan request
	done   chan struct{}

	// Owned by the goroutine.
	state *Manifest
}

type request struct {
	entry *Entry
	snap  chan *Manifest
	reply chan error
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithFavoritesList also writes favorites.list after every change.
func WithFavoritesList(enabled bool) WriterOption {
	return func(w *Writer) { w.favorites = enabled }
}

// WithLogger sets the writer's logger.
func WithLogger(l *logging.Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// NewWriter starts the owner goroutine for the manifest in dir, seeded from base.
// base is copied; the caller keeps its snapshot.
func NewWriter(dir string, base *Manifest, opts ...WriterOption) *Writer {
	if base == nil {
		base = New()
	}
	w := &Writer{
		dir:    dir,
		logger: logging.Global(),
		now:    func() time.Time { return time.Now().UTC() },
		reqs:   make(chan request),
		done:   make(chan struct{}),
		state:  base.Clone(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Component("manifest")
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer close(w.done)
	for req := range w.reqs {
		switch {
		case req.snap != nil:
			req.snap <- w.state.Clone()
		case req.entry != nil:
			req.reply <- w.apply(*req.entry)
		}
	}
}

func (w *Writer) apply(e Entry) error {
	if e.Checksum == "" {
		return derrors.NewInputMissingError("manifest entry without checksum")
	}
	if err := w.checkUnchanged(); err != nil {
		return err
	}

	next := w.state.Clone()
	next.put(e, w.now())
	if err := w.persist(next); err != nil {
		return err
	}
	w.state = next
	w.logger.Debug("recorded", "checksum", short(e.Checksum), "preset", e.Preset, "output", e.OutputPath)
	return nil
}

// checkUnchanged detects another process writing the same manifest. The file on disk
// must still carry the timestamp this writer last saw.
func (w *Writer) checkUnchanged() error {
	f, err := os.Open(Path(w.dir))
	if errors.Is(err, os.ErrNotExist) {
		if w.state.UpdatedAt.IsZero() {
			return nil
		}
		return derrors.NewManifestConflictError("manifest was removed while the batch was writing it")
	}
	if err != nil {
		return derrors.NewIOError("failed to open manifest", err)
	}
	defer func() { _ = f.Close() }()

	var head struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.NewDecoder(f).Decode(&head); err != nil {
		return derrors.NewManifestConflictError("manifest on disk is unreadable: " + err.Error())
	}
	if !head.UpdatedAt.Equal(w.state.UpdatedAt) {
		return derrors.NewManifestConflictError(fmt.Sprintf(
			"manifest changed on disk (updated %s, expected %s)",
			head.UpdatedAt.Format(time.RFC3339Nano), w.state.UpdatedAt.Format(time.RFC3339Nano)))
	}
	return nil
}

func (w *Writer) persist(m *Manifest) error {
	err := util.WriteFileAtomic(Path(w.dir), func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
	if err != nil {
		return derrors.NewIOError("failed to write manifest", err)
	}
	if !w.favorites {
		return nil
	}
	if err := writeFavorites(filepath.Join(w.dir, FavoritesFileName), m); err != nil {
		return derrors.NewIOError("failed to write favorites list", err)
	}
	return nil
}

func writeFavorites(path string, m *Manifest) error {
	var paths []string
	for _, e := range m.Entries {
		if e.Favorite && e.OutputPath != "" {
			paths = append(paths, e.OutputPath)
		}
	}
	slices.Sort(paths)
	return util.WriteFileAtomic(path, func(out io.Writer) error {
		bw := bufio.NewWriter(out)
		for _, p := range paths {
			if _, err := fmt.Fprintln(bw, p); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
}

// Record adds or replaces the entry for e.Checksum and persists the manifest.
// It returns a ManifestWriteConflict error once the writer is closed.
func (w *Writer) Record(ctx context.Context, e Entry) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return derrors.NewManifestConflictError("record after the manifest writer closed: " + short(e.Checksum))
	}

	reply := make(chan error, 1)
	select {
	case w.reqs <- request{entry: &e, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once accepted the write completes; the manifest must not be left half-updated.
	return <-reply
}

// Snapshot returns a copy of the manifest as last persisted.
func (w *Writer) Snapshot() *Manifest {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return w.state.Clone()
	}
	snap := make(chan *Manifest, 1)
	w.reqs <- request{snap: snap}
	return <-snap
}

// Close stops the owner goroutine after pending records complete. It is idempotent.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.reqs)
	}
	w.mu.Unlock()
	<-w.done
}

func short(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}
