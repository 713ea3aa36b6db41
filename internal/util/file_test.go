package util

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestExtensionClassification(t *testing.T) {
	tests := []struct {
		path    string
		video   bool
		photo   bool
		sidecar bool
	}{
		{"IMG_0001.MOV", true, false, false},
		{"clip.mp4", true, false, false},
		{"IMG_0001.HEIC", false, true, false},
		{"IMG_0001.HEIC.xmp", false, false, true},
		{"IMG_0001.AAE", false, false, true},
		{"notes.txt", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := HasVideoExt(tt.path); got != tt.video {
				t.Errorf("HasVideoExt(%q) = %v, want %v", tt.path, got, tt.video)
			}
			if got := HasPhotoExt(tt.path); got != tt.photo {
				t.Errorf("HasPhotoExt(%q) = %v, want %v", tt.path, got, tt.photo)
			}
			if got := HasSidecarExt(tt.path); got != tt.sidecar {
				t.Errorf("HasSidecarExt(%q) = %v, want %v", tt.path, got, tt.sidecar)
			}
		})
	}
}

func TestIsQuickTime(t *testing.T) {
	for path, want := range map[string]bool{
		"IMG_0001.MOV":  true,
		"clip.mov":      true,
		"IMG_0002.MP4":  false,
		"movie.mov.xmp": false,
	} {
		if got := IsQuickTime(path); got != want {
			t.Errorf("IsQuickTime(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestResolveOutputPath(t *testing.T) {
	got := ResolveOutputPath("/album/IMG_0042.MOV", "/out", "__FAV", ".mp4")
	want := filepath.Join("/out", "IMG_0042__FAV.mp4")
	if got != want {
		t.Errorf("ResolveOutputPath() = %q, want %q", got, want)
	}
}

func TestNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	full := filepath.Join(dir, "full")
	_ = os.WriteFile(empty, nil, 0644)
	_ = os.WriteFile(full, []byte("x"), 0644)

	if NonEmptyFile(empty) {
		t.Error("NonEmptyFile(empty) = true")
	}
	if !NonEmptyFile(full) {
		t.Error("NonEmptyFile(full) = false")
	}
	if NonEmptyFile(dir) {
		t.Error("NonEmptyFile(dir) = true")
	}
	if NonEmptyFile(filepath.Join(dir, "missing")) {
		t.Error("NonEmptyFile(missing) = true")
	}
}

func TestLinkOrCopyAndMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	linked := filepath.Join(dir, "linked.bin")
	if err := LinkOrCopy(src, linked); err != nil {
		t.Fatalf("LinkOrCopy() error = %v", err)
	}
	data, _ := os.ReadFile(linked)
	if string(data) != "payload" {
		t.Errorf("linked content = %q", data)
	}

	moved := filepath.Join(dir, "sub", "moved.bin")
	_ = EnsureDirectory(filepath.Dir(moved))
	if err := MoveFile(linked, moved); err != nil {
		t.Fatalf("MoveFile() error = %v", err)
	}
	if FileExists(linked) {
		t.Error("MoveFile() left the source behind")
	}
	if !FileExists(moved) {
		t.Error("MoveFile() did not create the destination")
	}
}

func TestWriteFileAtomicLeavesNoTempOnError(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "manifest.json")

	err := WriteFileAtomic(target, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return os.ErrInvalid
	})
	if err == nil {
		t.Fatal("WriteFileAtomic() expected error")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty dir after failed write, found %d entries", len(entries))
	}
}

func TestFileChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := FileChecksum(path)
	if err != nil {
		t.Fatalf("FileChecksum() error = %v", err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("FileChecksum() = %s, want %s", got, want)
	}

	// flip one byte
	if err := os.WriteFile(path, []byte("abd"), 0644); err != nil {
		t.Fatal(err)
	}
	changed, _ := FileChecksum(path)
	if changed == got {
		t.Error("checksum did not change after a one-byte edit")
	}

	if _, err := FileChecksum(filepath.Join(dir, "missing")); err == nil {
		t.Error("FileChecksum() on missing file should error")
	}
}

func TestStringChecksumSeparatesParts(t *testing.T) {
	if StringChecksum("ab", "c") == StringChecksum("a", "bc") {
		t.Error("StringChecksum should not collide on shifted boundaries")
	}
}

func TestEnsureDirectoryWritable(t *testing.T) {
	tmpDir := t.TempDir()
	if err := EnsureDirectoryWritable(tmpDir); err != nil {
		t.Errorf("Expected no error for writable dir, got %v", err)
	}

	if err := EnsureDirectoryWritable("/nonexistent/directory/path"); err == nil {
		t.Error("Expected error for non-existent directory")
	}

	tmpFile := filepath.Join(tmpDir, "testfile")
	if err := os.WriteFile(tmpFile, []byte("test"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureDirectoryWritable(tmpFile); err == nil {
		t.Error("Expected error for file instead of directory")
	}
}

func TestGetAvailableSpace(t *testing.T) {
	if space := GetAvailableSpace("/nonexistent/path"); space != 0 {
		t.Errorf("Expected 0 for invalid path, got %d", space)
	}
}

func TestCheckDiskSpace(t *testing.T) {
	var logged int
	logf := func(format string, args ...any) { logged++ }

	if !CheckDiskSpace("/nonexistent/path", 1<<40, logf) {
		t.Error("unknown free space should count as enough")
	}
	if logged != 1 {
		t.Errorf("expected one log line, got %d", logged)
	}
	_ = CheckDiskSpace(t.TempDir(), 0, nil)
}
