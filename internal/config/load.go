package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DOVETAIL_PATHS_OUTPUT_BASE.
const EnvPrefix = "DOVETAIL"

// DefaultPath returns the config file location: $DOVETAIL_CONFIG_DIR/config.yaml,
// else $XDG_CONFIG_HOME/dovetail/config.yaml.
func DefaultPath() string {
	if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "dovetail", "config.yaml")
}

// Load reads configuration from path (or DefaultPath when empty), layered over
// defaults and under environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	source := path
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
			source = ""
		default:
			return nil, fmt.Errorf("%w %s: %v", ErrConfigRead, path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.Source = source
	return cfg, nil
}

// LoadWithViper decodes configuration from an existing viper instance. Defaults are applied first.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigRead, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers every default with v. Registering each key also lets
// AutomaticEnv see environment overrides during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := NewConfig()

	v.SetDefault("paths.source_base", d.Paths.SourceBase)
	v.SetDefault("paths.output_base", d.Paths.OutputBase)
	v.SetDefault("paths.favorites_output", d.Paths.FavoritesOutput)
	v.SetDefault("paths.work_dir", d.Paths.WorkDir)
	v.SetDefault("paths.cache_dir", d.Paths.CacheDir)
	v.SetDefault("paths.log_dir", d.Paths.LogDir)
	v.SetDefault("paths.presets_file", d.Paths.PresetsFile)

	v.SetDefault("tools.ffmpeg", "")
	v.SetDefault("tools.ffprobe", "")
	v.SetDefault("tools.dovi_tool", "")
	v.SetDefault("tools.mp4muxer", "")
	v.SetDefault("tools.exiftool", "")

	v.SetDefault("processing.parallel_jobs", d.Processing.ParallelJobs)
	v.SetDefault("processing.cpu_slots", d.Processing.CPUSlots)
	v.SetDefault("processing.gpu_slots", d.Processing.GPUSlots)
	v.SetDefault("processing.cooldown", d.Processing.Cooldown)
	v.SetDefault("processing.retain_artifacts", d.Processing.RetainArtifacts)
	v.SetDefault("processing.verify", d.Processing.Verify)
	v.SetDefault("processing.stderr_limit", d.Processing.StderrLimit)
	v.SetDefault("processing.kill_grace", d.Processing.KillGrace)
	v.SetDefault("processing.cache_entries", d.Processing.CacheEntries)
	v.SetDefault("processing.cache_max_age", d.Processing.CacheMaxAge)
	v.SetDefault("processing.cache_max_size", d.Processing.CacheMaxSize)
	v.SetDefault("processing.sweep_age", d.Processing.SweepAge)
	v.SetDefault("processing.timeouts.extract", 0)
	v.SetDefault("processing.timeouts.encode", 0)
	v.SetDefault("processing.timeouts.standard", 0)
	v.SetDefault("processing.timeouts.default", 0)

	v.SetDefault("transcode.default_profile", d.Transcode.DefaultProfile)

	v.SetDefault("favorites.rating_threshold", d.Favorites.RatingThreshold)
	v.SetDefault("favorites.suffix", d.Favorites.Suffix)
	v.SetDefault("favorites.export_list", d.Favorites.ExportList)
}
