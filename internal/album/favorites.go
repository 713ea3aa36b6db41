package album

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// DefaultRatingThreshold is the rating at which an asset counts as a favorite.
const DefaultRatingThreshold = 5

var ratingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<xmp:Rating>(\d+)</xmp:Rating>`),
	regexp.MustCompile(`<exif:Rating>(\d+)</exif:Rating>`),
	regexp.MustCompile(`xmp:Rating="(\d+)"`),
	regexp.MustCompile(`exif:Rating="(\d+)"`),
}

// FindSidecar returns the XMP sidecar for a media file, or "" if there is none.
// It tries IMG_0001.HEIC.xmp, IMG_0001.HEIC.XMP, then IMG_0001.xmp.
func FindSidecar(mediaPath string) string {
	dir := filepath.Dir(mediaPath)
	base := filepath.Base(mediaPath)
	stem := base[:len(base)-len(filepath.Ext(base))]
	for _, name := range []string{base + ".xmp", base + ".XMP", stem + ".xmp"} {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// ParseRating returns the first rating found in XMP content, or 0.
func ParseRating(content []byte) int {
	for _, re := range ratingPatterns {
		if m := re.FindSubmatch(content); m != nil {
			if n, err := strconv.Atoi(string(m[1])); err == nil {
				return n
			}
		}
	}
	return 0
}

// ReadRating returns the sidecar path and rating for a media file. Unreadable
// sidecars rate 0.
func ReadRating(mediaPath string) (string, int) {
	sidecar := FindSidecar(mediaPath)
	if sidecar == "" {
		return "", 0
	}
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return sidecar, 0
	}
	return sidecar, ParseRating(data)
}
