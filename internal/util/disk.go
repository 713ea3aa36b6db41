package util

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// EnsureDirectoryWritable checks that path is an existing directory we can create files in.
func EnsureDirectoryWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	probe, err := os.CreateTemp(path, ".write-check-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", path, err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// GetAvailableSpace returns free bytes on the filesystem holding path, or 0 if unknown.
func GetAvailableSpace(path string) uint64 {
	usage, err := disk.Usage(filepath.Clean(path))
	if err != nil {
		return 0
	}
	return usage.Free
}

// CheckDiskSpace reports whether at least minFree bytes are available at path.
// An unknown free size counts as enough. logf may be nil.
func CheckDiskSpace(path string, minFree uint64, logf func(format string, args ...any)) bool {
	free := GetAvailableSpace(path)
	if free == 0 {
		if logf != nil {
			logf("Could not determine free space at %s", path)
		}
		return true
	}
	if free < minFree {
		if logf != nil {
			logf("Low disk space at %s: %s free, %s wanted", path, FormatBytes(free), FormatBytes(minFree))
		}
		return false
	}
	return true
}
