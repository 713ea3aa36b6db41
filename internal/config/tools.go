package config

import (
	"os"
	"os/exec"
	"path/filepath"

	derrors "github.com/five82/dovetail/internal/errors"
)

// Tool names as they appear in stage templates.
const (
	ToolFFmpeg   = "ffmpeg"
	ToolFFprobe  = "ffprobe"
	ToolDoviTool = "dovi_tool"
	ToolMP4Muxer = "mp4muxer"
	ToolExifTool = "exiftool"
)

// AllTools lists every external tool dovetail may invoke.
var AllTools = []string{ToolFFmpeg, ToolFFprobe, ToolDoviTool, ToolMP4Muxer, ToolExifTool}

// ToolStatus is the resolution result for one tool.
type ToolStatus struct {
	Name  string
	Path  string
	Found bool
	From  string // "config", "data-dir" or "path"
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// configured returns the explicit path for a tool, if any.
func (t ToolsConfig) configured(name string) string {
	switch name {
	case ToolFFmpeg:
		return t.FFmpeg
	case ToolFFprobe:
		return t.FFprobe
	case ToolDoviTool:
		return t.DoviTool
	case ToolMP4Muxer:
		return t.MP4Muxer
	case ToolExifTool:
		return t.ExifTool
	default:
		return ""
	}
}

// ToolBinDir is where bundled tool binaries are looked for.
func ToolBinDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "dovetail", "bin")
}

// ResolveTool finds a tool: configured path, then the data bin dir, then PATH.
func (c *Config) ResolveTool(name string) ToolStatus {
	st := ToolStatus{Name: name}

	if p := c.Tools.configured(name); p != "" {
		st.From = "config"
		if resolved, err := lookPath(p); err == nil {
			st.Path, st.Found = resolved, true
		} else {
			st.Path = p
		}
		return st
	}

	candidate := filepath.Join(ToolBinDir(), name)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
		st.Path, st.Found, st.From = candidate, true, "data-dir"
		return st
	}

	if resolved, err := lookPath(name); err == nil {
		st.Path, st.Found, st.From = resolved, true, "path"
	}
	return st
}

// ToolPath returns the resolved path for name, or name itself when unresolved.
func (c *Config) ToolPath(name string) string {
	if st := c.ResolveTool(name); st.Found {
		return st.Path
	}
	return name
}

// CheckTools resolves every named tool and returns ToolNotFound for the first missing one.
func (c *Config) CheckTools(names ...string) ([]ToolStatus, error) {
	if len(names) == 0 {
		names = AllTools
	}
	statuses := make([]ToolStatus, 0, len(names))
	var firstErr error
	for _, name := range names {
		st := c.ResolveTool(name)
		statuses = append(statuses, st)
		if !st.Found && firstErr == nil {
			firstErr = derrors.NewToolNotFoundError(name, nil)
		}
	}
	return statuses, firstErr
}
