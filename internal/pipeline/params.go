package pipeline

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Params are the user-editable settings of a preset, as written in config files.
// Unset fields keep the value of Base, or the x265 defaults when Base is empty.
type Params struct {
	Base               string `yaml:"base" mapstructure:"base"`
	Description        string `yaml:"description" mapstructure:"description"`
	Encoder            string `yaml:"encoder" mapstructure:"encoder"`
	Mode               string `yaml:"mode" mapstructure:"mode"`
	CRF                *int   `yaml:"crf" mapstructure:"crf"`
	Bitrate            string `yaml:"bitrate" mapstructure:"bitrate"`
	Maxrate            string `yaml:"maxrate" mapstructure:"maxrate"`
	Preset             string `yaml:"preset" mapstructure:"preset"`
	Resolution         string `yaml:"resolution" mapstructure:"resolution"`
	PreserveDynamicHDR *bool  `yaml:"preserve_dynamic_hdr" mapstructure:"preserve_dynamic_hdr"`
	DVProfile          *int   `yaml:"dv_profile" mapstructure:"dv_profile"`
	CompatBrands       string `yaml:"comp_brand" mapstructure:"comp_brand"`
}

func (p Params) apply(def Definition, t Timeouts) (Definition, error) {
	restage := p.Base == ""
	if p.Description != "" {
		def.Description = p.Description
	}
	if p.Encoder != "" {
		enc := Encoder(strings.ToLower(p.Encoder))
		restage = restage || enc != def.Encoder
		def.Encoder = enc
	}
	if p.Mode != "" {
		def.Mode = RateMode(strings.ToLower(p.Mode))
	}
	if p.CRF != nil {
		def.CRF = *p.CRF
	}
	if p.Bitrate != "" {
		def.Bitrate = p.Bitrate
		if p.Mode == "" && def.Mode == ModeCRF {
			def.Mode = ModeVBR
		}
	}
	if p.Maxrate != "" {
		def.Maxrate = p.Maxrate
	}
	if p.Preset != "" {
		def.Preset = p.Preset
	}
	if p.Resolution != "" {
		def.Resolution = Resolution(strings.ToLower(p.Resolution))
	}
	if p.PreserveDynamicHDR != nil {
		restage = restage || *p.PreserveDynamicHDR != def.PreserveDynamicHDR
		def.PreserveDynamicHDR = *p.PreserveDynamicHDR
	}
	if p.DVProfile != nil {
		def.DVProfile = *p.DVProfile
	}
	if p.CompatBrands != "" {
		def.CompatBrands = p.CompatBrands
	}

	if restage {
		if def.PreserveDynamicHDR {
			def.Stages = DolbyVisionStages(def.Encoder, t)
		} else {
			def.Stages = StandardStages(def.Encoder, t)
		}
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// presetFile is the on-disk layout of a preset file.
type presetFile struct {
	Profiles map[string]Params `yaml:"profiles"`
}

// LoadFile reads a YAML file with a top-level profiles map.
func LoadFile(path string) (map[string]Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file %s: %w", path, err)
	}
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse preset file %s: %w", path, err)
	}
	return f.Profiles, nil
}

// RegisterFile loads path and registers every profile in it. Profiles are
// registered in name order so one may use an earlier one as its base.
func (r *Registry) RegisterFile(path string) ([]string, error) {
	profiles, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return r.RegisterAll(profiles)
}

// RegisterAll registers a set of named params, resolving bases among them.
func (r *Registry) RegisterAll(profiles map[string]Params) ([]string, error) {
	pending := make(map[string]Params, len(profiles))
	for name, p := range profiles {
		pending[name] = p
	}

	var added []string
	for len(pending) > 0 {
		progress := false
		for _, name := range sortedKeys(pending) {
			p := pending[name]
			if _, waiting := pending[p.Base]; p.Base != "" && p.Base != name && waiting {
				continue
			}
			if err := r.RegisterParams(name, p); err != nil {
				return added, err
			}
			delete(pending, name)
			added = append(added, name)
			progress = true
		}
		if !progress {
			return added, fmt.Errorf("%w: profiles %v reference each other as base", ErrInvalidDefinition, sortedKeys(pending))
		}
	}
	return added, nil
}

func sortedKeys(m map[string]Params) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
