package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// VideoExtensions is the list of video extensions. Only QuickTime sources are
// transcoded during a sync; the rest are copied.
var VideoExtensions = map[string]bool{
	".mov": true,
	".mp4": true,
	".m4v": true,
	".avi": true,
	".mkv": true,
}

// PhotoExtensions is the list of still image extensions that are copied as-is.
var PhotoExtensions = map[string]bool{
	".heic": true,
	".heif": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".dng":  true,
	".gif":  true,
	".tiff": true,
}

// SidecarExtensions are metadata files that travel with a media file and are never assets themselves.
var SidecarExtensions = map[string]bool{
	".xmp":  true,
	".aae":  true,
	".json": true,
}

// HasVideoExt reports whether path carries a video extension.
func HasVideoExt(path string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsQuickTime reports whether path is a QuickTime movie, the container phones record HDR into.
func IsQuickTime(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mov")
}

// HasPhotoExt reports whether path carries a still image extension.
func HasPhotoExt(path string) bool {
	return PhotoExtensions[strings.ToLower(filepath.Ext(path))]
}

// HasSidecarExt reports whether path carries a sidecar extension.
func HasSidecarExt(path string) bool {
	return SidecarExtensions[strings.ToLower(filepath.Ext(path))]
}

// GetFilename returns the filename from a path.
func GetFilename(path string) string {
	return filepath.Base(path)
}

// GetFileStem returns the filename without extension.
func GetFileStem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// GetFileSize returns the size of a file in bytes.
func GetFileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// EnsureDirectory creates a directory if it doesn't exist.
func EnsureDirectory(path string) error {
	return os.MkdirAll(path, 0755)
}

// DirectoryExists checks if a directory exists.
func DirectoryExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// NonEmptyFile reports whether path is a regular file with at least one byte.
func NonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// ResolveOutputPath returns <outputDir>/<stem><suffix><ext> for an input file.
func ResolveOutputPath(inputPath, outputDir, suffix, ext string) string {
	return filepath.Join(outputDir, GetFileStem(inputPath)+suffix+ext)
}

// CopyFile copies src to dst through a temporary file in dst's directory, then renames.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	return WriteFileAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// LinkOrCopy hard-links src to dst, falling back to a copy across filesystems.
func LinkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return CopyFile(src, dst)
}

// MoveFile renames src to dst, falling back to copy and remove across filesystems.
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// WriteFileAtomic writes path via a sibling temp file and rename, so readers never see a partial file.
func WriteFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := EnsureDirectory(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	committed = true
	return nil
}
