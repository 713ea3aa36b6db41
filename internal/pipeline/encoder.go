package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

const x265HDRParams = "hdr10=1:repeat-headers=1:colorprim=bt2020:transfer=arib-std-b67:colormatrix=bt2020nc"

var nvencPresets = map[string]string{
	"ultrafast": "p1",
	"superfast": "p2",
	"veryfast":  "p3",
	"faster":    "p4",
	"fast":      "p4",
	"medium":    "p5",
	"slow":      "p6",
	"slower":    "p7",
	"veryslow":  "p7",
}

// NVENCPreset maps an x265 preset name onto the NVENC p1-p7 scale.
func NVENCPreset(preset string) string {
	p := strings.ToLower(strings.TrimSpace(preset))
	if mapped, ok := nvencPresets[p]; ok {
		return mapped
	}
	if len(p) == 2 && p[0] == 'p' && p[1] >= '1' && p[1] <= '7' {
		return p
	}
	return "p5"
}

// VideoArgs builds the ffmpeg video encoder arguments for this definition.
func (d Definition) VideoArgs(res Resolution) []string {
	var args []string
	switch d.Encoder {
	case EncoderNVENC:
		args = append(args, "-c:v", "hevc_nvenc", "-preset", NVENCPreset(d.Preset), "-tune", "hq", "-rc", "vbr")
		if d.Bitrate != "" {
			args = append(args, "-b:v", d.Bitrate)
		}
		if d.Maxrate != "" {
			args = append(args, "-maxrate", d.Maxrate)
		}
		args = append(args,
			"-spatial_aq", "1",
			"-temporal_aq", "1",
			"-rc-lookahead", "32",
			"-multipass", "fullres",
		)
	default:
		args = append(args, "-c:v", "libx265", "-preset", d.Preset)
		if d.Mode == ModeCRF {
			args = append(args, "-crf", strconv.Itoa(d.CRF))
		} else if d.Bitrate != "" {
			args = append(args, "-b:v", d.Bitrate)
		}
		args = append(args, "-x265-params", x265HDRParams)
	}
	args = append(args, "-pix_fmt", "yuv420p10le")

	if w := res.Width(); w > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2:flags=lanczos", w))
	}
	return args
}
