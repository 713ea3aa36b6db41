// Package config provides configuration types, defaults and loading for dovetail.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/five82/dovetail/internal/pipeline"
)

// Default constants
const (
	// DefaultParallelJobs is the number of orchestrator runs in flight.
	DefaultParallelJobs = 4

	// DefaultGPUSlots is the number of concurrent GPU stages.
	DefaultGPUSlots = 1

	// DefaultProfile is the preset used when none is named.
	DefaultProfile = "balanced"

	// DefaultRatingThreshold is the XMP rating at or above which an asset is a favorite.
	DefaultRatingThreshold = 5

	// DefaultFavoriteSuffix is appended to output stems of favorites.
	DefaultFavoriteSuffix = "__FAV"

	// DefaultStderrLimit is the stderr tail kept on a stage failure.
	DefaultStderrLimit = 4 * 1024

	// DefaultKillGrace is the window between SIGTERM and SIGKILL.
	DefaultKillGrace = 10 * time.Second

	// DefaultCooldown paces dispatch of batch runs.
	DefaultCooldown = time.Duration(0)

	// DefaultCacheEntries bounds the in-memory stage cache front.
	DefaultCacheEntries = 256

	// DefaultCacheMaxAge is how long an unused stage cache entry is kept.
	DefaultCacheMaxAge = 7 * 24 * time.Hour

	// DefaultSweepAge is how old an unlocked run directory must be before startup removes it.
	DefaultSweepAge = 24 * time.Hour

	// MaxParallelJobs caps parallel_jobs.
	MaxParallelJobs = 64
)

// Retention decides when a run's artifact namespace survives cleanup.
type Retention string

const (
	RetainNever     Retention = "never"
	RetainOnFailure Retention = "on-failure"
	RetainAlways    Retention = "always"
)

// ParseRetention parses a retention policy name.
func ParseRetention(s string) (Retention, error) {
	switch Retention(strings.ToLower(strings.TrimSpace(s))) {
	case RetainNever:
		return RetainNever, nil
	case "", RetainOnFailure:
		return RetainOnFailure, nil
	case RetainAlways:
		return RetainAlways, nil
	default:
		return "", fmt.Errorf("%w: %q, valid options: never, on-failure, always", ErrInvalidRetention, s)
	}
}

// Keep reports whether artifacts are retained for a run with the given outcome.
func (r Retention) Keep(failed bool) bool {
	switch r {
	case RetainAlways:
		return true
	case RetainNever:
		return false
	default:
		return failed
	}
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	SourceBase      string `mapstructure:"source_base"`
	OutputBase      string `mapstructure:"output_base"`
	FavoritesOutput string `mapstructure:"favorites_output"`
	WorkDir         string `mapstructure:"work_dir"`
	CacheDir        string `mapstructure:"cache_dir"`
	LogDir          string `mapstructure:"log_dir"`
	PresetsFile     string `mapstructure:"presets_file"`
}

// ToolsConfig holds explicit tool paths. Empty means resolve automatically.
type ToolsConfig struct {
	FFmpeg   string `mapstructure:"ffmpeg"`
	FFprobe  string `mapstructure:"ffprobe"`
	DoviTool string `mapstructure:"dovi_tool"`
	MP4Muxer string `mapstructure:"mp4muxer"`
	ExifTool string `mapstructure:"exiftool"`
}

// TimeoutsConfig overrides stage timeouts.
type TimeoutsConfig struct {
	Extract  time.Duration `mapstructure:"extract"`
	Encode   time.Duration `mapstructure:"encode"`
	Standard time.Duration `mapstructure:"standard"`
	Default  time.Duration `mapstructure:"default"`
}

// ProcessingConfig holds concurrency and run policy.
type ProcessingConfig struct {
	ParallelJobs    int            `mapstructure:"parallel_jobs"`
	CPUSlots        int            `mapstructure:"cpu_slots"`
	GPUSlots        int            `mapstructure:"gpu_slots"`
	Cooldown        time.Duration  `mapstructure:"cooldown"`
	RetainArtifacts string         `mapstructure:"retain_artifacts"`
	Verify          bool           `mapstructure:"verify"`
	StderrLimit     int            `mapstructure:"stderr_limit"`
	KillGrace       time.Duration  `mapstructure:"kill_grace"`
	CacheEntries    int            `mapstructure:"cache_entries"`
	CacheMaxAge     time.Duration  `mapstructure:"cache_max_age"`
	CacheMaxSize    int64          `mapstructure:"cache_max_size"`
	SweepAge        time.Duration  `mapstructure:"sweep_age"`
	Timeouts        TimeoutsConfig `mapstructure:"timeouts"`
}

// TranscodeConfig holds preset selection.
type TranscodeConfig struct {
	DefaultProfile string `mapstructure:"default_profile"`
}

// FavoritesConfig holds favorite detection settings.
type FavoritesConfig struct {
	RatingThreshold int    `mapstructure:"rating_threshold"`
	Suffix          string `mapstructure:"suffix"`
	ExportList      bool   `mapstructure:"export_list"`
}

// Config holds all configuration for dovetail.
type Config struct {
	Paths      PathsConfig                `mapstructure:"paths"`
	Tools      ToolsConfig                `mapstructure:"tools"`
	Processing ProcessingConfig           `mapstructure:"processing"`
	Transcode  TranscodeConfig            `mapstructure:"transcode"`
	Favorites  FavoritesConfig            `mapstructure:"favorites"`
	Profiles   map[string]pipeline.Params `mapstructure:"profiles"`

	// Source is the config file that was read, empty when running on defaults.
	Source string `mapstructure:"-"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			WorkDir:  filepath.Join(os.TempDir(), "dovetail"),
			CacheDir: filepath.Join(xdgDir("XDG_CACHE_HOME", ".cache"), "dovetail"),
			LogDir:   filepath.Join(xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state")), "dovetail", "logs"),
		},
		Processing: ProcessingConfig{
			ParallelJobs:    DefaultParallelJobs,
			GPUSlots:        DefaultGPUSlots,
			Cooldown:        DefaultCooldown,
			RetainArtifacts: string(RetainOnFailure),
			Verify:          true,
			StderrLimit:     DefaultStderrLimit,
			KillGrace:       DefaultKillGrace,
			CacheEntries:    DefaultCacheEntries,
			CacheMaxAge:     DefaultCacheMaxAge,
			SweepAge:        DefaultSweepAge,
		},
		Transcode: TranscodeConfig{DefaultProfile: DefaultProfile},
		Favorites: FavoritesConfig{
			RatingThreshold: DefaultRatingThreshold,
			Suffix:          DefaultFavoriteSuffix,
			ExportList:      true,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	p := c.Processing
	if p.ParallelJobs < 1 || p.ParallelJobs > MaxParallelJobs {
		return fmt.Errorf("%w: parallel_jobs must be 1-%d, got %d", ErrInvalidConcurrency, MaxParallelJobs, p.ParallelJobs)
	}
	if p.CPUSlots < 0 {
		return fmt.Errorf("%w: cpu_slots must not be negative, got %d", ErrInvalidConcurrency, p.CPUSlots)
	}
	if p.GPUSlots < 1 {
		return fmt.Errorf("%w: gpu_slots must be at least 1, got %d", ErrInvalidConcurrency, p.GPUSlots)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalidDuration)
	}
	if p.KillGrace <= 0 {
		return fmt.Errorf("%w: kill_grace must be positive", ErrInvalidDuration)
	}
	if p.CacheMaxAge < 0 {
		return fmt.Errorf("%w: cache_max_age must not be negative", ErrInvalidDuration)
	}
	if p.CacheMaxSize < 0 {
		return fmt.Errorf("%w: cache_max_size must not be negative, got %d", ErrInvalidCache, p.CacheMaxSize)
	}
	for name, d := range map[string]time.Duration{
		"extract":  p.Timeouts.Extract,
		"encode":   p.Timeouts.Encode,
		"standard": p.Timeouts.Standard,
		"default":  p.Timeouts.Default,
	} {
		if d < 0 {
			return fmt.Errorf("%w: timeouts.%s must not be negative", ErrInvalidDuration, name)
		}
	}
	if _, err := ParseRetention(p.RetainArtifacts); err != nil {
		return err
	}
	if c.Favorites.RatingThreshold < 1 || c.Favorites.RatingThreshold > 5 {
		return fmt.Errorf("%w: rating_threshold must be 1-5, got %d", ErrInvalidFavorites, c.Favorites.RatingThreshold)
	}
	if strings.ContainsAny(c.Favorites.Suffix, `/\`) {
		return fmt.Errorf("%w: suffix %q must not contain path separators", ErrInvalidFavorites, c.Favorites.Suffix)
	}
	if strings.TrimSpace(c.Transcode.DefaultProfile) == "" {
		return fmt.Errorf("%w: default_profile is empty", ErrInvalidPreset)
	}
	return nil
}

// Retention returns the parsed retention policy.
func (c *Config) Retention() Retention {
	r, err := ParseRetention(c.Processing.RetainArtifacts)
	if err != nil {
		return RetainOnFailure
	}
	return r
}

// CPUSlots returns the CPU slot count, defaulting to parallel_jobs.
func (c *Config) CPUSlots() int {
	if c.Processing.CPUSlots > 0 {
		return c.Processing.CPUSlots
	}
	return c.Processing.ParallelJobs
}

// StageTimeouts converts the configured overrides for the preset registry.
func (c *Config) StageTimeouts() pipeline.Timeouts {
	t := c.Processing.Timeouts
	return pipeline.Timeouts{
		Extract:  t.Extract,
		Encode:   t.Encode,
		Standard: t.Standard,
		Default:  t.Default,
	}
}

// Registry builds the preset registry: built-ins, then the presets file, then inline profiles.
func (c *Config) Registry() (*pipeline.Registry, error) {
	r := pipeline.NewRegistry(pipeline.WithTimeouts(c.StageTimeouts()))
	if c.Paths.PresetsFile != "" {
		if _, err := r.RegisterFile(c.Paths.PresetsFile); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPreset, err)
		}
	}
	if len(c.Profiles) > 0 {
		if _, err := r.RegisterAll(c.Profiles); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPreset, err)
		}
	}
	if _, err := r.Lookup(c.Transcode.DefaultProfile); err != nil {
		return nil, fmt.Errorf("%w: default_profile: %v", ErrInvalidPreset, err)
	}
	return r, nil
}

// ManifestDir is where the sync manifest lives for an output directory.
func ManifestDir(outputDir string) string {
	return filepath.Join(outputDir, ".dovetail")
}

func xdgDir(env, fallback string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), fallback)
	}
	return filepath.Join(home, fallback)
}
