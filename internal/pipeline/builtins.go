package pipeline

import "time"

// Stage identifiers used by the built-in presets.
const (
	StageExtractBitstream = "extract-bitstream"
	StageExtractMetadata  = "extract-metadata"
	StageEncode           = "encode"
	StageInjectMetadata   = "inject-metadata"
	StageMux              = "mux"
	StageFinalize         = "finalize"
	StageEncodeStandard   = "encode-standard"
	StageCopyMetadata     = "copy-metadata"
)

// Default stage timeouts.
const (
	DefaultExtractTimeout  = 300 * time.Second
	DefaultEncodeTimeout   = 3600 * time.Second
	DefaultStandardTimeout = 7200 * time.Second
	DefaultStageTimeout    = 300 * time.Second
)

// Timeouts overrides the default stage timeouts. Zero fields keep the default.
type Timeouts struct {
	Extract  time.Duration
	Encode   time.Duration
	Standard time.Duration
	Default  time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Extract <= 0 {
		t.Extract = DefaultExtractTimeout
	}
	if t.Encode <= 0 {
		t.Encode = DefaultEncodeTimeout
	}
	if t.Standard <= 0 {
		t.Standard = DefaultStandardTimeout
	}
	if t.Default <= 0 {
		t.Default = DefaultStageTimeout
	}
	return t
}

const (
	defaultDVProfile    = 8
	defaultDVCompatID   = 1
	defaultHVC1Flag     = 0
	defaultCompatBrands = "mp42,iso6,isom,msdh,dby1"
)

// DolbyVisionStages is the stage list that carries dynamic metadata through a re-encode.
// Sources without dynamic HDR take the standard encode branch instead.
func DolbyVisionStages(enc Encoder, t Timeouts) []StageSpec {
	t = t.withDefaults()
	encodeResource := ResourceCPU
	if enc == EncoderNVENC {
		encodeResource = ResourceGPU
	}
	return []StageSpec{
		{
			ID:        StageExtractBitstream,
			Inputs:    []Kind{KindSource},
			Output:    KindBitstream,
			Template:  "ffmpeg -y -i {source} -c:v copy -bsf:v hevc_mp4toannexb -f hevc {output}",
			Fatal:     true,
			When:      HasDynamicHDR,
			Timeout:   t.Extract,
			Resource:  ResourceCPU,
			Cacheable: true,
		},
		{
			ID:        StageExtractMetadata,
			Inputs:    []Kind{KindBitstream},
			Output:    KindMetadata,
			Template:  "dovi_tool extract-rpu {bitstream} -o {output}",
			Fatal:     true,
			When:      HasDynamicHDR,
			Timeout:   t.Extract,
			Resource:  ResourceCPU,
			Cacheable: true,
		},
		{
			ID:       StageEncode,
			Inputs:   []Kind{KindSource},
			Output:   KindEncoded,
			Template: "ffmpeg -y -i {source} {@video_args} -an -f hevc {output}",
			Fatal:    true,
			When:     HasDynamicHDR,
			Timeout:  t.Encode,
			Resource: encodeResource,
		},
		{
			ID:       StageInjectMetadata,
			Inputs:   []Kind{KindEncoded, KindMetadata},
			Output:   KindEncoded,
			Template: "dovi_tool inject-rpu -i {encoded} -r {metadata} -o {output}",
			Fatal:    true,
			When:     HasDynamicHDR,
			Timeout:  t.Default,
			Resource: ResourceCPU,
		},
		{
			ID:       StageMux,
			Inputs:   []Kind{KindEncoded},
			Output:   KindContainer,
			Template: "mp4muxer -i {encoded} -o {output} --dv-profile {dv_profile} --dv-bl-compatible-id {dv_compat_id} --hvc1flag {hvc1flag} --mpeg4-comp-brand {comp_brand} --overwrite",
			Fatal:    true,
			When:     HasDynamicHDR,
			Timeout:  t.Default,
			Resource: ResourceCPU,
		},
		{
			ID:       StageFinalize,
			Inputs:   []Kind{KindContainer, KindSource},
			Output:   KindFinal,
			Template: "ffmpeg -y -i {container} -i {source} -map 0:v:0 -map 1:a:0? -c copy -strict unofficial -tag:v hvc1 -map_metadata 1 -movflags +faststart {output}",
			Fatal:    true,
			When:     HasDynamicHDR,
			Timeout:  t.Default,
			Resource: ResourceCPU,
		},
		standardEncodeStage(LacksDynamicHDR, encodeResource, t),
		copyMetadataStage(t),
	}
}

// StandardStages is the stage list for presets that do not preserve dynamic metadata.
func StandardStages(enc Encoder, t Timeouts) []StageSpec {
	t = t.withDefaults()
	res := ResourceCPU
	if enc == EncoderNVENC {
		res = ResourceGPU
	}
	return []StageSpec{
		standardEncodeStage(Always, res, t),
		copyMetadataStage(t),
	}
}

func standardEncodeStage(when Predicate, res Resource, t Timeouts) StageSpec {
	return StageSpec{
		ID:       StageEncodeStandard,
		Inputs:   []Kind{KindSource},
		Output:   KindFinal,
		Template: "ffmpeg -y -i {source} {@video_args} -c:a aac -b:a 128k -tag:v hvc1 -movflags +faststart {output}",
		Fatal:    true,
		When:     when,
		Timeout:  t.Standard,
		Resource: res,
	}
}

func copyMetadataStage(t Timeouts) StageSpec {
	return StageSpec{
		ID:       StageCopyMetadata,
		Inputs:   []Kind{KindFinal, KindSource},
		Output:   KindFinal,
		Template: "exiftool -tagsFromFile {source} -extractEmbedded -all:all -FileModifyDate -FileCreateDate --MatrixStructure --Rotation -o {output} {final}",
		Fatal:    false,
		When:     Always,
		Timeout:  t.Default,
		Resource: ResourceCPU,
	}
}

// Builtins returns the shipped presets.
func Builtins(t Timeouts) []Definition {
	base := func(name, desc string, enc Encoder, preserve bool) Definition {
		d := Definition{
			Name:               name,
			Description:        desc,
			Encoder:            enc,
			PreserveDynamicHDR: preserve,
			DVProfile:          defaultDVProfile,
			DVCompatID:         defaultDVCompatID,
			HVC1Flag:           defaultHVC1Flag,
			CompatBrands:       defaultCompatBrands,
		}
		if preserve {
			d.Stages = DolbyVisionStages(enc, t)
		} else {
			d.Stages = StandardStages(enc, t)
		}
		return d
	}

	balanced := base("balanced", "x265 CRF 25 at up to 4K, Dolby Vision preserved", EncoderX265, true)
	balanced.Mode, balanced.CRF, balanced.Preset, balanced.Resolution = ModeCRF, 25, "medium", Res4K

	quality := base("quality", "x265 CRF 20 at source resolution, Dolby Vision preserved", EncoderX265, true)
	quality.Mode, quality.CRF, quality.Preset, quality.Resolution = ModeCRF, 20, "slow", ResOriginal

	compact := base("compact", "x265 CRF 28 at up to 1080p, Dolby Vision preserved", EncoderX265, true)
	compact.Mode, compact.CRF, compact.Preset, compact.Resolution = ModeCRF, 28, "medium", Res1080p

	nvenc4k := base("nvenc_4k", "NVENC VBR 20M at up to 4K, Dolby Vision preserved", EncoderNVENC, true)
	nvenc4k.Mode, nvenc4k.Bitrate, nvenc4k.Maxrate, nvenc4k.Preset, nvenc4k.Resolution = ModeVBR, "20M", "30M", "slow", Res4K

	nvenc1080 := base("nvenc_1080p", "NVENC VBR 8M at up to 1080p, Dolby Vision preserved", EncoderNVENC, true)
	nvenc1080.Mode, nvenc1080.Bitrate, nvenc1080.Maxrate, nvenc1080.Preset, nvenc1080.Resolution = ModeVBR, "8M", "12M", "slow", Res1080p

	standard := base("standard", "x265 CRF 25 at source resolution, HDR10 only", EncoderX265, false)
	standard.Mode, standard.CRF, standard.Preset, standard.Resolution = ModeCRF, 25, "medium", ResOriginal

	return []Definition{balanced, quality, compact, nvenc4k, nvenc1080, standard}
}
