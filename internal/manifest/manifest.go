// Package manifest persists the record of processed sources, keyed by content checksum.
package manifest

import (
	"encoding/json"
	"errors"
	"io"
	"maps"
	"os"
	"path/filepath"
	"time"

	derrors "github.com/five82/dovetail/internal/errors"
)

const (
	// Version is the current on-disk format.
	Version = 1
	// FileName is the manifest file inside the manifest directory.
	FileName = "manifest.json"
	// FavoritesFileName lists favorite outputs, one path per line.
	FavoritesFileName = "favorites.list"
	// PresetCopy marks assets that were copied rather than transcoded.
	PresetCopy = "copy"
)

// Entry records one successfully processed source.
type Entry struct {
	Checksum    string    `json:"checksum"`
	Preset      string    `json:"preset"`
	SourcePath  string    `json:"source_path"`
	OutputPath  string    `json:"output_path"`
	ProcessedAt time.Time `json:"processed_at"`
	InputSize   uint64    `json:"input_size"`
	OutputSize  uint64    `json:"output_size"`
	Favorite    bool      `json:"favorite,omitempty"`
}

// Stats aggregates the entries.
type Stats struct {
	Processed   int    `json:"processed"`
	Copied      int    `json:"copied"`
	Favorites   int    `json:"favorites"`
	InputBytes  uint64 `json:"input_bytes"`
	OutputBytes uint64 `json:"output_bytes"`
}

// Manifest maps source checksums to their last successful outcome.
// A loaded Manifest is a read-only snapshot; all changes go through a Writer.
type Manifest struct {
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Entries   map[string]Entry `json:"entries"`
	Stats     Stats            `json:"stats"`
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{Version: Version, Entries: map[string]Entry{}}
}

// Path returns the manifest file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load reads the manifest in dir. A missing file yields an empty manifest.
func Load(dir string) (*Manifest, error) {
	path := Path(dir)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, derrors.NewIOError("failed to open manifest "+path, err)
	}
	defer func() { _ = f.Close() }()

	m, err := decode(f)
	if err != nil {
		return nil, derrors.WithHint(
			derrors.NewIOError("failed to parse manifest "+path, err),
			"move the file aside to start a fresh manifest; every source will be reprocessed",
		)
	}
	return m, nil
}

func decode(r io.Reader) (*Manifest, error) {
	m := New()
	if err := json.NewDecoder(r).Decode(m); err != nil {
		return nil, err
	}
	if m.Entries == nil {
		m.Entries = map[string]Entry{}
	}
	return m, nil
}

// Lookup returns the entry for a checksum.
func (m *Manifest) Lookup(checksum string) (Entry, bool) {
	if m == nil {
		return Entry{}, false
	}
	e, ok := m.Entries[checksum]
	return e, ok
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Entries)
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Entries = maps.Clone(m.Entries)
	if c.Entries == nil {
		c.Entries = map[string]Entry{}
	}
	return &c
}

// put replaces the entry for e.Checksum wholesale and refreshes the stats.
func (m *Manifest) put(e Entry, now time.Time) {
	m.Entries[e.Checksum] = e
	m.UpdatedAt = now
	m.Version = Version
	m.Stats = computeStats(m.Entries)
}

func computeStats(entries map[string]Entry) Stats {
	var s Stats
	for _, e := range entries {
		if e.Preset == PresetCopy {
			s.Copied++
		} else {
			s.Processed++
		}
		if e.Favorite {
			s.Favorites++
		}
		s.InputBytes += e.InputSize
		s.OutputBytes += e.OutputSize
	}
	return s
}
