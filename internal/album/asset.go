// Package album discovers source assets in an album directory.
package album

import (
	"sync"

	"github.com/five82/dovetail/internal/util"
)

// Kind classifies a source asset.
type Kind int

const (
	// KindVideo assets are transcoded.
	KindVideo Kind = iota
	// KindPhoto assets are copied unchanged.
	KindPhoto
	// KindClip assets are videos copied unchanged: already-compressed
	// containers, or QuickTime files below the minimum transcode size.
	KindClip
)

func (k Kind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindClip:
		return "clip"
	default:
		return "video"
	}
}

// Motion reports whether assets of this kind are videos.
func (k Kind) Motion() bool {
	return k != KindPhoto
}

// Transcoded reports whether assets of this kind go through a preset.
func (k Kind) Transcoded() bool {
	return k == KindVideo
}

// SourceAsset is one media file found in an album. It is immutable after discovery
// except for the lazily computed checksum.
type SourceAsset struct {
	Path      string
	Kind      Kind
	Favorite  bool
	Rating    int
	Sidecar   string
	Companion string
	LivePhoto bool

	once   sync.Once
	sum    string
	sumErr error
}

// NewAsset returns an asset for path with no sidecar information.
func NewAsset(path string, kind Kind) *SourceAsset {
	return &SourceAsset{Path: path, Kind: kind}
}

// Checksum returns the SHA-256 of the full file content. It is computed once and cached,
// including a failure.
func (a *SourceAsset) Checksum() (string, error) {
	a.once.Do(func() {
		a.sum, a.sumErr = util.FileChecksum(a.Path)
	})
	return a.sum, a.sumErr
}

// Name returns the file name.
func (a *SourceAsset) Name() string {
	return util.GetFilename(a.Path)
}

// Stem returns the file name without extension.
func (a *SourceAsset) Stem() string {
	return util.GetFileStem(a.Path)
}
