// Package probe extracts media information with ffprobe, run through the process runner.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/pipeline"
	"github.com/five82/dovetail/internal/runner"
)

// Well-known QuickTime metadata keys written by iPhone cameras.
const (
	TagLocation     = "com.apple.quicktime.location.ISO6709"
	TagMake         = "com.apple.quicktime.make"
	TagModel        = "com.apple.quicktime.model"
	TagLivePhoto    = "com.apple.quicktime.live-photo.auto"
	TagCreationTime = "creation_time"

	// SideDataDOVI is ffprobe's side data type for the Dolby Vision configuration record.
	SideDataDOVI = "DOVI configuration record"
)

// DefaultTimeout bounds a single ffprobe call.
const DefaultTimeout = 2 * time.Minute

// MediaInfo contains the probed properties of a media file.
type MediaInfo struct {
	Path         string
	FormatName   string
	Duration     float64
	Video        *VideoStream
	AudioStreams int
	Tags         map[string]string
	DolbyVision  *DolbyVision
}

// VideoStream contains the first video stream's properties.
type VideoStream struct {
	CodecName      string
	CodecTag       string
	Width          int64
	Height         int64
	PixFmt         string
	ColorPrimaries string
	ColorTransfer  string
	ColorSpace     string
	BitDepth       *uint8
	TotalFrames    uint64
	Tags           map[string]string
}

// DolbyVision is the decoded configuration record.
type DolbyVision struct {
	Profile    int
	Level      int
	RPUPresent bool
	ELPresent  bool
	BLPresent  bool
	CompatID   int
}

// HDRInfo contains HDR-related information.
type HDRInfo struct {
	IsHDR                   bool
	ColourPrimaries         string
	TransferCharacteristics string
	MatrixCoefficients      string
	BitDepth                *uint8
}

// HDR returns the static HDR signalling of the video stream.
func (m *MediaInfo) HDR() HDRInfo {
	if m.Video == nil {
		return HDRInfo{}
	}
	v := m.Video
	return HDRInfo{
		ColourPrimaries:         v.ColorPrimaries,
		TransferCharacteristics: v.ColorTransfer,
		MatrixCoefficients:      v.ColorSpace,
		BitDepth:                v.BitDepth,
		IsHDR:                   detectHDR(v.ColorPrimaries, v.ColorTransfer, v.ColorSpace),
	}
}

// HasDynamicHDR reports whether the file carries Dolby Vision dynamic metadata.
func (m *MediaInfo) HasDynamicHDR() bool {
	return m.DolbyVision != nil
}

// Tag returns a metadata value, looking at format tags first and then the video stream's.
func (m *MediaInfo) Tag(key string) string {
	if v := m.Tags[key]; v != "" {
		return v
	}
	if m.Video != nil {
		return m.Video.Tags[key]
	}
	return ""
}

// LivePhoto reports whether the file is the motion half of a Live Photo.
func (m *MediaInfo) LivePhoto() bool {
	_, ok := m.Tags[TagLivePhoto]
	return ok
}

// Facts converts the probe result into the predicate inputs of a pipeline.
func (m *MediaInfo) Facts() pipeline.Facts {
	f := pipeline.Facts{
		Duration:   time.Duration(m.Duration * float64(time.Second)),
		DynamicHDR: m.HasDynamicHDR(),
	}
	if m.Video != nil {
		f.Width = int(m.Video.Width)
		f.Height = int(m.Video.Height)
	}
	if m.DolbyVision != nil {
		f.DVProfile = m.DolbyVision.Profile
	}
	return f
}

// ffprobeOutput represents the JSON output from ffprobe.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Tags       map[string]string `json:"tags"`
}

type ffprobeStream struct {
	CodecType        string            `json:"codec_type"`
	CodecName        string            `json:"codec_name"`
	CodecTagString   string            `json:"codec_tag_string"`
	Width            int64             `json:"width"`
	Height           int64             `json:"height"`
	NbFrames         string            `json:"nb_frames"`
	PixFmt           string            `json:"pix_fmt"`
	ColorPrimaries   string            `json:"color_primaries"`
	ColorTransfer    string            `json:"color_transfer"`
	ColorSpace       string            `json:"color_space"`
	BitsPerRawSample string            `json:"bits_per_raw_sample"`
	Tags             map[string]string `json:"tags"`
	SideDataList     []ffprobeSideData `json:"side_data_list"`
}

type ffprobeSideData struct {
	SideDataType          string `json:"side_data_type"`
	DVProfile             int    `json:"dv_profile"`
	DVLevel               int    `json:"dv_level"`
	RPUPresentFlag        int    `json:"rpu_present_flag"`
	ELPresentFlag         int    `json:"el_present_flag"`
	BLPresentFlag         int    `json:"bl_present_flag"`
	BLSignalCompatibility int    `json:"dv_bl_signal_compatibility_id"`
}

// Prober runs ffprobe through a Runner.
type Prober struct {
	runner  runner.Runner
	ffprobe string
	timeout time.Duration
	logger  *logging.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithTimeout bounds each ffprobe invocation.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the prober's logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Prober invoking the ffprobe binary at path.
func New(r runner.Runner, path string, opts ...Option) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	p := &Prober{runner: r, ffprobe: path, timeout: DefaultTimeout, logger: logging.Global()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Component("probe")
	return p
}

// Probe returns media information for a file.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	out := p.runner.Invoke(ctx, runner.Command{
		Name:    p.ffprobe,
		Args:    []string{"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path},
		Timeout: p.timeout,
		// JSON must be complete to parse.
		StdoutLimit: 8 << 20,
	})
	if out.Err != nil {
		return nil, derrors.NewProbeError("ffprobe could not run on "+path, out.Err)
	}
	if out.TimedOut {
		return nil, derrors.NewProbeError("ffprobe timed out on "+path, nil)
	}
	if out.ExitCode != 0 {
		return nil, derrors.NewProbeError(
			fmt.Sprintf("ffprobe failed on %s", path),
			&derrors.CommandError{Command: "ffprobe", Kind: derrors.CommandFailed, ExitCode: out.ExitCode, Stderr: strings.TrimSpace(out.Stderr)},
		)
	}

	probe, err := parseFFprobeOutput([]byte(out.Stdout))
	if err != nil {
		return nil, derrors.NewProbeError("unreadable ffprobe output for "+path, err)
	}
	info := extractMediaInfo(path, probe)
	p.logger.Debug("probed", "path", path, "dolby_vision", info.HasDynamicHDR(), "duration", info.Duration)
	return info, nil
}

// parseFFprobeOutput parses ffprobe JSON output into the internal struct.
func parseFFprobeOutput(data []byte) (*ffprobeOutput, error) {
	var result ffprobeOutput
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &result, nil
}

// extractMediaInfo builds MediaInfo from parsed ffprobe output.
func extractMediaInfo(path string, probe *ffprobeOutput) *MediaInfo {
	info := &MediaInfo{
		Path:       path,
		FormatName: probe.Format.FormatName,
		Tags:       probe.Format.Tags,
	}
	if info.Tags == nil {
		info.Tags = map[string]string{}
	}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}

	for i := range probe.Streams {
		s := &probe.Streams[i]
		switch s.CodecType {
		case "audio":
			info.AudioStreams++
		case "video":
			if info.Video != nil {
				continue
			}
			info.Video = videoStream(s)
			info.DolbyVision = dolbyVision(s.SideDataList)
		}
	}
	return info
}

func videoStream(s *ffprobeStream) *VideoStream {
	v := &VideoStream{
		CodecName:      s.CodecName,
		CodecTag:       s.CodecTagString,
		Width:          s.Width,
		Height:         s.Height,
		PixFmt:         s.PixFmt,
		ColorPrimaries: s.ColorPrimaries,
		ColorTransfer:  s.ColorTransfer,
		ColorSpace:     s.ColorSpace,
		Tags:           s.Tags,
	}
	if s.BitsPerRawSample != "" {
		if bd, err := strconv.ParseUint(s.BitsPerRawSample, 10, 8); err == nil {
			bdVal := uint8(bd)
			v.BitDepth = &bdVal
		}
	}
	if s.NbFrames != "" {
		if frames, err := strconv.ParseUint(s.NbFrames, 10, 64); err == nil {
			v.TotalFrames = frames
		}
	}
	return v
}

func dolbyVision(side []ffprobeSideData) *DolbyVision {
	for _, sd := range side {
		if sd.SideDataType != SideDataDOVI {
			continue
		}
		return &DolbyVision{
			Profile:    sd.DVProfile,
			Level:      sd.DVLevel,
			RPUPresent: sd.RPUPresentFlag == 1,
			ELPresent:  sd.ELPresentFlag == 1,
			BLPresent:  sd.BLPresentFlag == 1,
			CompatID:   sd.BLSignalCompatibility,
		}
	}
	return nil
}

// detectHDR determines if content is HDR based on color metadata.
func detectHDR(primaries, transfer, matrix string) bool {
	// Check for HDR primaries (BT.2020)
	if containsCI(primaries, "bt2020") || containsCI(primaries, "bt.2020") || containsCI(primaries, "bt2100") {
		return true
	}

	// Check for HDR transfer characteristics (PQ, HLG)
	if containsCI(transfer, "pq") || containsCI(transfer, "smpte2084") || containsCI(transfer, "hlg") || containsCI(transfer, "arib-std-b67") {
		return true
	}

	return containsCI(matrix, "bt2020") || containsCI(matrix, "bt.2020")
}

// containsCI performs a case-insensitive substring check.
func containsCI(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
