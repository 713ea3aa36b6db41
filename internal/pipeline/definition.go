package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// Encoder selects the video encoder family.
type Encoder string

const (
	EncoderX265  Encoder = "x265"
	EncoderNVENC Encoder = "nvenc"
)

// RateMode selects how the encoder spends bits.
type RateMode string

const (
	ModeCRF RateMode = "crf"
	ModeVBR RateMode = "vbr"
	ModeCBR RateMode = "cbr"
)

// Resolution is a target output size, named by its class.
type Resolution string

const (
	Res4K       Resolution = "4k"
	Res1080p    Resolution = "1080p"
	Res720p     Resolution = "720p"
	ResOriginal Resolution = "original"
)

// Width returns the target width in pixels, or 0 for ResOriginal.
func (r Resolution) Width() int {
	switch r {
	case Res4K:
		return 3840
	case Res1080p:
		return 1920
	case Res720p:
		return 1280
	default:
		return 0
	}
}

// EffectiveResolution never upscales: a source no wider than the target keeps its size.
func EffectiveResolution(target Resolution, sourceWidth int) Resolution {
	w := target.Width()
	if w == 0 || sourceWidth <= 0 || sourceWidth <= w {
		return ResOriginal
	}
	return target
}

// Resource is the slot class a stage occupies while its process runs.
type Resource string

const (
	ResourceCPU Resource = "cpu"
	ResourceGPU Resource = "gpu"
)

// StageSpec declares one step of a pipeline.
type StageSpec struct {
	ID        string        `yaml:"id"`
	Inputs    []Kind        `yaml:"inputs"`
	Output    Kind          `yaml:"output"`
	Template  string        `yaml:"template"`
	Fatal     bool          `yaml:"fatal"`
	When      Predicate     `yaml:"when"`
	Timeout   time.Duration `yaml:"timeout"`
	Resource  Resource      `yaml:"resource"`
	Cacheable bool          `yaml:"cacheable"`
}

// Tool returns the first word of the template, the tool the stage invokes.
func (s StageSpec) Tool() string {
	words, err := shellquote.Split(s.Template)
	if err != nil || len(words) == 0 {
		return ""
	}
	return words[0]
}

// Definition is a named preset: encoder settings plus the ordered stage list.
type Definition struct {
	Name               string
	Description        string
	Encoder            Encoder
	Mode               RateMode
	CRF                int
	Bitrate            string
	Maxrate            string
	Preset             string
	Resolution         Resolution
	PreserveDynamicHDR bool

	// Container signalling handed to the muxer.
	DVProfile    int
	DVCompatID   int
	HVC1Flag     int
	CompatBrands string
	Stages       []StageSpec
}

// Clone returns a deep copy so callers can never mutate registry state.
func (d Definition) Clone() Definition {
	out := d
	out.Stages = make([]StageSpec, len(d.Stages))
	for i, s := range d.Stages {
		s.Inputs = append([]Kind(nil), s.Inputs...)
		out.Stages[i] = s
	}
	return out
}

// Stage returns the stage with the given ID.
func (d Definition) Stage(id string) (StageSpec, bool) {
	for _, s := range d.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return StageSpec{}, false
}

// Tools returns the distinct tools the stages invoke, in first-use order.
func (d Definition) Tools() []string {
	seen := make(map[string]bool)
	var tools []string
	for _, s := range d.Stages {
		if t := s.Tool(); t != "" && !seen[t] {
			seen[t] = true
			tools = append(tools, t)
		}
	}
	return tools
}

// Vars returns the template variables for this definition at the given effective resolution.
func (d Definition) Vars(res Resolution) Vars {
	return Vars{
		Scalars: map[string]string{
			"preset":       d.Name,
			"dv_profile":   strconv.Itoa(d.DVProfile),
			"dv_compat_id": strconv.Itoa(d.DVCompatID),
			"hvc1flag":     strconv.Itoa(d.HVC1Flag),
			"comp_brand":   d.CompatBrands,
		},
		Lists: map[string][]string{
			"video_args": d.VideoArgs(res),
		},
	}
}

// Validate checks the definition's shape and that every template renders.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDefinition)
	}
	switch d.Encoder {
	case EncoderX265, EncoderNVENC:
	default:
		return fmt.Errorf("%w: %s: unknown encoder %q", ErrInvalidDefinition, d.Name, d.Encoder)
	}
	switch d.Mode {
	case ModeCRF:
		if d.CRF < 0 || d.CRF > 51 {
			return fmt.Errorf("%w: %s: crf must be 0-51, got %d", ErrInvalidDefinition, d.Name, d.CRF)
		}
	case ModeVBR, ModeCBR:
		if d.Bitrate == "" {
			return fmt.Errorf("%w: %s: %s mode needs a bitrate", ErrInvalidDefinition, d.Name, d.Mode)
		}
	default:
		return fmt.Errorf("%w: %s: unknown mode %q", ErrInvalidDefinition, d.Name, d.Mode)
	}
	switch d.Resolution {
	case Res4K, Res1080p, Res720p, ResOriginal:
	default:
		return fmt.Errorf("%w: %s: unknown resolution %q", ErrInvalidDefinition, d.Name, d.Resolution)
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("%w: %s: no stages", ErrInvalidDefinition, d.Name)
	}

	seen := make(map[string]bool)
	for _, s := range d.Stages {
		if s.ID == "" {
			return fmt.Errorf("%w: %s: stage without id", ErrInvalidDefinition, d.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: %s: duplicate stage %q", ErrInvalidDefinition, d.Name, s.ID)
		}
		seen[s.ID] = true

		if !s.Output.Valid() || s.Output == KindSource {
			return fmt.Errorf("%w: %s/%s: bad output kind %q", ErrInvalidDefinition, d.Name, s.ID, s.Output)
		}
		if len(s.Inputs) == 0 {
			return fmt.Errorf("%w: %s/%s: no inputs", ErrInvalidDefinition, d.Name, s.ID)
		}
		for _, in := range s.Inputs {
			if !in.Valid() {
				return fmt.Errorf("%w: %s/%s: %q", ErrUnknownKind, d.Name, s.ID, in)
			}
		}
		if _, err := ParsePredicate(string(s.When)); err != nil {
			return fmt.Errorf("%s/%s: %w", d.Name, s.ID, err)
		}
		switch s.Resource {
		case "", ResourceCPU, ResourceGPU:
		default:
			return fmt.Errorf("%w: %s/%s: unknown resource %q", ErrInvalidDefinition, d.Name, s.ID, s.Resource)
		}
		if _, err := Render(s.Template, dryBindings(s, d.Vars(d.Resolution))); err != nil {
			return fmt.Errorf("%s/%s: %w", d.Name, s.ID, err)
		}
	}
	return nil
}

// dryBindings binds the declared inputs to dummies so Validate catches unknown or undeclared names.
func dryBindings(s StageSpec, vars Vars) Bindings {
	paths := make(map[string]string, len(s.Inputs)+2)
	for _, k := range s.Inputs {
		paths[string(k)] = "/" + string(k)
	}
	paths["input"] = "/input"
	paths["output"] = "/output"
	return Bindings{Paths: paths, Vars: vars}
}

// Summary is a one-line description of the encoder settings.
func (d Definition) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", d.Encoder, d.Mode)
	if d.Mode == ModeCRF {
		fmt.Fprintf(&b, " %d", d.CRF)
	} else {
		fmt.Fprintf(&b, " %s", d.Bitrate)
		if d.Maxrate != "" {
			fmt.Fprintf(&b, "/%s", d.Maxrate)
		}
	}
	fmt.Fprintf(&b, ", preset %s, %s", d.Preset, d.Resolution)
	if d.PreserveDynamicHDR {
		b.WriteString(", dolby vision")
	}
	return b.String()
}
