package album

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/probe"
	"github.com/five82/dovetail/internal/util"
)

// Prober reads the tags that confirm a Live Photo video.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.MediaInfo, error)
}

// Result contains the assets of one album scan.
type Result struct {
	Dir      string
	Assets   []*SourceAsset
	Sidecars int
	Skipped  int
}

// Videos returns the assets that will be transcoded.
func (r *Result) Videos() []*SourceAsset {
	return r.filter(KindVideo)
}

// Photos returns the still images, which are copied.
func (r *Result) Photos() []*SourceAsset {
	return r.filter(KindPhoto)
}

// Clips returns the videos that are copied instead of transcoded.
func (r *Result) Clips() []*SourceAsset {
	return r.filter(KindClip)
}

// LivePhotos returns the assets paired into a Live Photo.
func (r *Result) LivePhotos() []*SourceAsset {
	var out []*SourceAsset
	for _, a := range r.Assets {
		if a.LivePhoto {
			out = append(out, a)
		}
	}
	return out
}

// Favorites returns the favorite assets.
func (r *Result) Favorites() []*SourceAsset {
	var out []*SourceAsset
	for _, a := range r.Assets {
		if a.Favorite {
			out = append(out, a)
		}
	}
	return out
}

func (r *Result) filter(kind Kind) []*SourceAsset {
	var out []*SourceAsset
	for _, a := range r.Assets {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Scanner discovers SourceAssets.
type Scanner struct {
	threshold int
	minSize   int64
	prober    Prober
	logger    *logging.Logger
}

// ScanOption configures a Scanner.
type ScanOption func(*Scanner)

// WithRatingThreshold sets the minimum XMP rating of a favorite.
func WithRatingThreshold(n int) ScanOption {
	return func(s *Scanner) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithMinVideoSize classifies QuickTime videos smaller than n bytes as clips.
func WithMinVideoSize(n int64) ScanOption {
	return func(s *Scanner) {
		if n > 0 {
			s.minSize = n
		}
	}
}

// WithProber confirms Live Photo pairs by their QuickTime tag. Without one, a
// photo and video sharing a stem are always paired.
func WithProber(p Prober) ScanOption {
	return func(s *Scanner) { s.prober = p }
}

// WithLogger sets the scanner's logger.
func WithLogger(l *logging.Logger) ScanOption {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner creates a Scanner.
func NewScanner(opts ...ScanOption) *Scanner {
	s := &Scanner{threshold: DefaultRatingThreshold, logger: logging.Global()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("album")
	return s
}

// Scan finds the media files directly inside dir, sorted by name.
func (s *Scanner) Scan(ctx context.Context, dir string) (*Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, derrors.NewInputMissingError(fmt.Sprintf("directory does not exist: %s", dir))
	}
	if !info.IsDir() {
		return nil, derrors.NewInputMissingError(fmt.Sprintf("%s is not a directory", dir))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, derrors.NewIOError("cannot read directory "+dir, err)
	}

	result := &Result{Dir: dir}
	for _, entry := range entries {
		name := entry.Name()
		// Skip hidden files
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !entry.Type().IsRegular() {
			result.Skipped++
			continue
		}

		path := filepath.Join(dir, name)
		var asset *SourceAsset
		switch {
		case util.HasVideoExt(path):
			asset = NewAsset(path, s.classifyVideo(entry))
		case util.HasPhotoExt(path):
			asset = NewAsset(path, KindPhoto)
		case util.HasSidecarExt(path):
			result.Sidecars++
			continue
		default:
			result.Skipped++
			continue
		}
		asset.Sidecar, asset.Rating = ReadRating(path)
		asset.Favorite = asset.Rating >= s.threshold
		result.Assets = append(result.Assets, asset)
	}

	if len(result.Assets) == 0 {
		return nil, derrors.NewInputMissingError(fmt.Sprintf("no media files found in %s", dir))
	}

	sort.Slice(result.Assets, func(i, j int) bool {
		return strings.ToLower(result.Assets[i].Name()) < strings.ToLower(result.Assets[j].Name())
	})

	s.pairLivePhotos(ctx, result.Assets)
	s.logDiscovered(result)
	return result, nil
}

// classifyVideo transcodes QuickTime sources at or above the minimum size.
// Other containers are already compressed and are copied.
func (s *Scanner) classifyVideo(entry os.DirEntry) Kind {
	if !util.IsQuickTime(entry.Name()) {
		return KindClip
	}
	if s.minSize > 0 {
		info, err := entry.Info()
		if err == nil && info.Size() < s.minSize {
			return KindClip
		}
	}
	return KindVideo
}

// pairLivePhotos links a still and a video sharing a stem. Favorite status is
// shared across the pair since the rating belongs to the Live Photo as a whole.
func (s *Scanner) pairLivePhotos(ctx context.Context, assets []*SourceAsset) {
	byStem := map[string][]*SourceAsset{}
	for _, a := range assets {
		byStem[a.Stem()] = append(byStem[a.Stem()], a)
	}

	for _, a := range assets {
		if !a.Kind.Motion() {
			continue
		}
		var still *SourceAsset
		for _, other := range byStem[a.Stem()] {
			if other.Kind == KindPhoto {
				still = other
				break
			}
		}
		if still == nil || !s.confirmLivePhoto(ctx, a.Path) {
			continue
		}
		a.Companion, still.Companion = still.Path, a.Path
		a.LivePhoto, still.LivePhoto = true, true
		if a.Favorite || still.Favorite {
			a.Favorite, still.Favorite = true, true
		}
	}
}

// confirmLivePhoto assumes a pair when the video cannot be probed.
func (s *Scanner) confirmLivePhoto(ctx context.Context, video string) bool {
	if s.prober == nil {
		return true
	}
	info, err := s.prober.Probe(ctx, video)
	if err != nil {
		s.logger.Debug("live photo check failed, pairing by name", "path", video, "error", err)
		return true
	}
	return info.LivePhoto()
}

func (s *Scanner) logDiscovered(r *Result) {
	s.logger.Info("album scanned",
		"dir", r.Dir,
		"videos", len(r.Videos()),
		"clips", len(r.Clips()),
		"photos", len(r.Photos()),
		"favorites", len(r.Favorites()),
		"skipped", r.Skipped)

	maxToLog := min(5, len(r.Assets))
	for _, a := range r.Assets[:maxToLog] {
		s.logger.Debug("discovered", "name", a.Name(), "kind", a.Kind.String(), "favorite", a.Favorite)
	}
}
