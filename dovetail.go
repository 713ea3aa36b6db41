// Package dovetail re-encodes HDR phone video while keeping Dolby Vision
// dynamic metadata intact.
//
// dovetail drives single-purpose tools (ffmpeg, ffprobe, dovi_tool, mp4muxer
// and exiftool) as one operation: it sequences the stages of a preset, tracks
// intermediate artifacts, verifies the output against device-compatibility
// rules, and skips album files it has already processed.
//
// Basic usage:
//
//	engine, err := dovetail.New(
//	    dovetail.WithConfig(cfg),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	result, err := engine.Transcode(ctx, "IMG_0001.MOV", dovetail.TranscodeOptions{
//	    OutputDir: "out/",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Transcoded: %s, ratio: %.2fx\n",
//	    result.OutputPath, result.CompressionRatio())
package dovetail

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/five82/dovetail/internal/album"
	"github.com/five82/dovetail/internal/artifact"
	"github.com/five82/dovetail/internal/batch"
	"github.com/five82/dovetail/internal/config"
	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/manifest"
	"github.com/five82/dovetail/internal/orchestrator"
	"github.com/five82/dovetail/internal/pipeline"
	"github.com/five82/dovetail/internal/pool"
	"github.com/five82/dovetail/internal/probe"
	"github.com/five82/dovetail/internal/reporter"
	"github.com/five82/dovetail/internal/runner"
	"github.com/five82/dovetail/internal/stage"
	"github.com/five82/dovetail/internal/stagecache"
	"github.com/five82/dovetail/internal/syncplan"
	"github.com/five82/dovetail/internal/util"
	"github.com/five82/dovetail/internal/verify"
	"github.com/five82/dovetail/internal/watch"
)

// Re-exported result types.
type (
	RunResult    = orchestrator.RunResult
	BatchSummary = batch.Summary
	Report       = verify.Report
	ToolStatus   = config.ToolStatus
	Definition   = pipeline.Definition
	Asset        = album.SourceAsset
)

// Engine is the main entry point. It owns the artifact store, the stage
// cache and the tool runner shared by every run it starts.
type Engine struct {
	cfg      *config.Config
	registry *pipeline.Registry
	runner   runner.Runner
	store    *artifact.Store
	cache    *stagecache.Cache
	executor *stage.Executor
	prober   *probe.Prober
	verifier *verify.Verifier
	rep      reporter.Reporter
	logger   *logging.Logger

	useCache  bool
	toolCheck bool
}

// Option configures the engine.
type Option func(*Engine)

// WithConfig sets the configuration. Defaults from config.NewConfig otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithRunner replaces the process runner used for every tool invocation.
func WithRunner(r runner.Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithReporter sets the progress reporter.
func WithReporter(r reporter.Reporter) Option {
	return func(e *Engine) { e.rep = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithoutCache disables the persistent stage cache.
func WithoutCache() Option {
	return func(e *Engine) { e.useCache = false }
}

// WithoutToolCheck skips the tool pre-flight before runs. Meant for callers
// that supply their own runner.
func WithoutToolCheck() Option {
	return func(e *Engine) { e.toolCheck = false }
}

// New creates an Engine with the given options.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{useCache: true, toolCheck: true}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		e.cfg = config.NewConfig()
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if e.logger == nil {
		e.logger = logging.Global()
	}
	if e.rep == nil {
		e.rep = reporter.NullReporter{}
	}

	registry, err := e.cfg.Registry()
	if err != nil {
		return nil, err
	}
	e.registry = registry

	if e.runner == nil {
		e.runner = runner.New(
			runner.WithGrace(e.cfg.Processing.KillGrace),
			runner.WithLogger(e.logger),
		)
	}

	e.store = artifact.New(e.cfg.Paths.WorkDir)
	if removed, err := e.store.Sweep(e.cfg.Processing.SweepAge); err != nil {
		e.logger.Warn("stale artifact sweep failed", "error", err)
	} else if len(removed) > 0 {
		e.logger.Info("removed stale run directories", "count", len(removed))
	}

	execOpts := []stage.Option{
		stage.WithToolResolver(e.cfg.ToolPath),
		stage.WithStderrLimit(e.cfg.Processing.StderrLimit),
		stage.WithLogger(e.logger),
	}
	if e.useCache {
		cache, err := stagecache.Open(e.cfg.Paths.CacheDir, e.cfg.Processing.CacheEntries, e.logger)
		if err != nil {
			return nil, derrors.NewIOError("cannot open stage cache", err)
		}
		e.cache = cache
		execOpts = append(execOpts, stage.WithCache(cache))
		e.pruneCache(context.Background())
	}

	pools := pool.New(e.cfg.CPUSlots(), e.cfg.Processing.GPUSlots)
	e.executor = stage.NewExecutor(e.store, e.runner, pools, execOpts...)
	e.prober = probe.New(e.runner, e.cfg.ToolPath(config.ToolFFprobe), probe.WithLogger(e.logger))
	e.verifier = verify.New(e.prober, e.logger)
	return e, nil
}

// Close releases the stage cache.
func (e *Engine) Close() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close()
}

// pruneCache drops stage cache entries past processing.cache_max_age, then
// trims the cache to processing.cache_max_size. Zero disables either limit.
func (e *Engine) pruneCache(ctx context.Context) {
	if e.cache == nil {
		return
	}
	p := e.cfg.Processing
	if p.CacheMaxAge > 0 {
		n, err := e.cache.Prune(ctx, time.Now().Add(-p.CacheMaxAge))
		if err != nil {
			e.logger.Warn("stage cache prune failed", "error", err)
		} else if n > 0 {
			e.logger.Info("pruned stale stage cache entries", "count", n)
		}
	}
	if p.CacheMaxSize > 0 {
		n, err := e.cache.Trim(ctx, p.CacheMaxSize)
		if err != nil {
			e.logger.Warn("stage cache trim failed", "error", err)
		} else if n > 0 {
			e.logger.Info("trimmed stage cache", "count", n, "limit", util.FormatBytesReadable(uint64(p.CacheMaxSize)))
		}
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Preset looks up a preset by name. An empty name selects the configured default.
func (e *Engine) Preset(name string) (Definition, error) {
	if name == "" {
		name = e.cfg.Transcode.DefaultProfile
	}
	def, err := e.registry.Lookup(name)
	if err != nil {
		return Definition{}, derrors.WithHint(
			derrors.NewConfigError(err.Error()),
			"run 'dovetail profiles' to list the available presets",
		)
	}
	return def, nil
}

// Profiles lists every registered preset, sorted by name.
func (e *Engine) Profiles() []Definition {
	return e.registry.List()
}

// Check resolves every external tool dovetail may invoke.
func (e *Engine) Check() ([]ToolStatus, error) {
	return e.cfg.CheckTools()
}

// Hardware describes the host and emits it to the reporter.
func (e *Engine) Hardware() reporter.HardwareSummary {
	info := util.GetSystemInfo()
	summary := reporter.HardwareSummary{
		Hostname:      info.Hostname,
		OS:            info.OS,
		Arch:          info.Arch,
		LogicalCores:  info.LogicalCores,
		TotalMemory:   info.TotalMemory,
		CPUSlots:      e.cfg.CPUSlots(),
		GPUSlots:      e.cfg.Processing.GPUSlots,
		ParallelJobs:  e.cfg.Processing.ParallelJobs,
		ArtifactsRoot: e.store.Root(),
	}
	e.rep.Hardware(summary)
	return summary
}

// preflight fails fast when a tool the preset needs cannot be resolved.
func (e *Engine) preflight(def Definition) error {
	if !e.toolCheck {
		return nil
	}
	_, err := e.cfg.CheckTools(append(def.Tools(), config.ToolFFprobe)...)
	return err
}

// lowSpaceWarning is the free space below which a run starts with a warning.
const lowSpaceWarning = 2 << 30

// resolveOutput applies the paths.output_base default without touching the disk.
func (e *Engine) resolveOutput(dir string) (string, error) {
	if dir == "" {
		dir = e.cfg.Paths.OutputBase
	}
	if dir == "" {
		return "", derrors.WithHint(
			derrors.NewConfigError("no output directory"),
			"pass --output or set paths.output_base in the config file",
		)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", derrors.NewIOError("invalid output path", err)
	}
	return dir, nil
}

// outputDir resolves and creates the output directory, warning when the disk is nearly full.
func (e *Engine) outputDir(dir string) (string, error) {
	dir, err := e.resolveOutput(dir)
	if err != nil {
		return "", err
	}
	if err := util.EnsureDirectory(dir); err != nil {
		return "", derrors.NewIOError("cannot create output directory "+dir, err)
	}
	if err := util.EnsureDirectoryWritable(dir); err != nil {
		return "", derrors.NewIOError("output directory is not usable", err)
	}
	util.CheckDiskSpace(dir, lowSpaceWarning, func(format string, args ...any) {
		e.rep.Warning(fmt.Sprintf(format, args...))
	})
	return dir, nil
}

func (e *Engine) orchestrator(outputDir string, retention config.Retention) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithRegistry(e.registry),
		orchestrator.WithRetention(retention),
		orchestrator.WithFavoriteSuffix(e.cfg.Favorites.Suffix),
		orchestrator.WithReporter(e.rep),
		orchestrator.WithLogger(e.logger),
	}
	if e.cfg.Processing.Verify {
		opts = append(opts, orchestrator.WithVerifier(e.verifier))
	}
	return orchestrator.New(e.store, e.executor, e.prober, outputDir, opts...)
}

// TranscodeOptions controls a single-file run.
type TranscodeOptions struct {
	// Preset names the preset. Empty selects the configured default.
	Preset string
	// OutputDir defaults to paths.output_base.
	OutputDir string
	// KeepArtifacts retains the run directory whatever the outcome.
	KeepArtifacts bool
}

// Transcode runs one video through a preset. The returned error is the run's
// failure, if any; the result is filled in either way.
func (e *Engine) Transcode(ctx context.Context, input string, opts TranscodeOptions) (RunResult, error) {
	def, err := e.Preset(opts.Preset)
	if err != nil {
		return RunResult{}, err
	}
	if err := e.preflight(def); err != nil {
		return RunResult{}, err
	}
	out, err := e.outputDir(opts.OutputDir)
	if err != nil {
		return RunResult{}, err
	}
	if !util.HasVideoExt(input) {
		return RunResult{}, derrors.NewInputMissingError(fmt.Sprintf("%s is not a video file", input))
	}

	asset := album.NewAsset(input, album.KindVideo)
	asset.Sidecar, asset.Rating = album.ReadRating(input)
	asset.Favorite = asset.Rating >= e.cfg.Favorites.RatingThreshold

	retention := e.cfg.Retention()
	if opts.KeepArtifacts {
		retention = config.RetainAlways
	}

	result := e.orchestrator(out, retention).Run(ctx, asset, def, orchestrator.AtPosition(1, 1))
	if !result.Succeeded() {
		return result, result.Err
	}
	return result, nil
}

// SyncOptions controls an album sync.
type SyncOptions struct {
	// Preset names the preset. Empty selects the configured default.
	Preset string
	// OutputDir defaults to paths.output_base.
	OutputDir string
	// DryRun plans and reports the sync without processing anything.
	DryRun bool
	// Force reprocesses assets the manifest already records.
	Force bool
	// Limit caps how many videos are transcoded. Zero means no cap.
	Limit int
	// MinSize is the smallest QuickTime video, in bytes, that is transcoded.
	// Smaller videos are copied. Zero transcodes every QuickTime video.
	MinSize int64
}

func (e *Engine) scanner(minSize int64) *album.Scanner {
	return album.NewScanner(
		album.WithRatingThreshold(e.cfg.Favorites.RatingThreshold),
		album.WithMinVideoSize(minSize),
		album.WithProber(e.prober),
		album.WithLogger(e.logger),
	)
}

// Sync scans an album and processes every asset the manifest has not seen.
func (e *Engine) Sync(ctx context.Context, albumDir string, opts SyncOptions) (*BatchSummary, error) {
	def, err := e.Preset(opts.Preset)
	if err != nil {
		return nil, err
	}
	if err := e.preflight(def); err != nil {
		return nil, err
	}
	out, err := e.outputDir(opts.OutputDir)
	if err != nil {
		return nil, err
	}

	scan, err := e.scanner(opts.MinSize).Scan(ctx, albumDir)
	if err != nil {
		return nil, err
	}

	dir := config.ManifestDir(out)
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	writer := manifest.NewWriter(dir, m,
		manifest.WithFavoritesList(e.cfg.Favorites.ExportList),
		manifest.WithLogger(e.logger),
	)
	defer writer.Close()

	b := batch.New(e.orchestrator(out, e.cfg.Retention()), writer,
		batch.WithParallelJobs(e.cfg.Processing.ParallelJobs),
		batch.WithCooldown(e.cfg.Processing.Cooldown),
		batch.WithFavoritesDir(e.cfg.Paths.FavoritesOutput),
		batch.WithForce(opts.Force),
		batch.WithLimit(opts.Limit),
		batch.WithDryRun(opts.DryRun),
		batch.WithReporter(e.rep),
		batch.WithLogger(e.logger),
	)
	summary, err := b.Run(ctx, filepath.Base(filepath.Clean(albumDir)), scan.Assets, def)
	if !opts.DryRun {
		e.pruneCache(context.WithoutCancel(ctx))
	}
	return summary, err
}

// Favorites lists the album assets rated at or above favorites.rating_threshold,
// including both halves of a favorite Live Photo.
func (e *Engine) Favorites(ctx context.Context, albumDir string) ([]*Asset, error) {
	scan, err := e.scanner(0).Scan(ctx, albumDir)
	if err != nil {
		return nil, err
	}
	return scan.Favorites(), nil
}

// AlbumStatus summarizes an album and how much of it the manifest covers.
type AlbumStatus struct {
	Dir        string
	Videos     int
	Clips      int
	Photos     int
	Favorites  int
	LivePhotos int // pairs
	Sidecars   int
	Ignored    int
	Bytes      uint64

	// OutputDir is empty when no output directory is configured; Processed
	// and Pending are then unknown.
	OutputDir string
	Processed int
	Pending   int
}

// Total returns the number of media assets.
func (s *AlbumStatus) Total() int {
	return s.Videos + s.Clips + s.Photos
}

// Status scans an album and compares it against the manifest in the output
// directory. Nothing is written.
func (e *Engine) Status(ctx context.Context, albumDir string, opts SyncOptions) (*AlbumStatus, error) {
	scan, err := e.scanner(opts.MinSize).Scan(ctx, albumDir)
	if err != nil {
		return nil, err
	}
	st := &AlbumStatus{
		Dir:        scan.Dir,
		Videos:     len(scan.Videos()),
		Clips:      len(scan.Clips()),
		Photos:     len(scan.Photos()),
		Favorites:  len(scan.Favorites()),
		LivePhotos: len(scan.LivePhotos()) / 2,
		Sidecars:   scan.Sidecars,
		Ignored:    scan.Skipped,
	}
	for _, a := range scan.Assets {
		size, err := util.GetFileSize(a.Path)
		if err == nil {
			st.Bytes += size
		}
	}

	out, err := e.resolveOutput(opts.OutputDir)
	if err != nil {
		return st, nil
	}
	m, err := manifest.Load(config.ManifestDir(out))
	if err != nil {
		return nil, err
	}
	plan, err := syncplan.Make(ctx, scan.Assets, m, syncplan.Options{Concurrency: e.cfg.Processing.ParallelJobs})
	if err != nil {
		return nil, err
	}
	st.OutputDir = out
	st.Processed = len(plan.ToSkip)
	st.Pending = len(plan.ToProcess)
	return st, nil
}

// Watch syncs the album now and again after every settled burst of changes,
// until ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, albumDir string, opts SyncOptions, watchOpts ...watch.Option) error {
	if _, err := e.Preset(opts.Preset); err != nil {
		return err
	}
	sync := func(ctx context.Context) error {
		_, err := e.Sync(ctx, albumDir, opts)
		return err
	}
	watchOpts = append([]watch.Option{watch.WithLogger(e.logger)}, watchOpts...)
	return watch.New(albumDir, sync, watchOpts...).Run(ctx)
}

// Verify checks one file against the device-compatibility rules. With a
// reference, tags and duration are compared against it and Dolby Vision is
// expected when the reference carries it.
func (e *Engine) Verify(ctx context.Context, path, reference string) (*Report, error) {
	if !util.FileExists(path) {
		return nil, derrors.NewInputMissingError(fmt.Sprintf("file does not exist: %s", path))
	}
	expect := false
	if reference != "" {
		info, err := e.prober.Probe(ctx, reference)
		if err != nil {
			return nil, derrors.Wrapf(err, "probe reference %s", reference)
		}
		expect = info.HasDynamicHDR()
	}

	report, err := e.verifier.Verify(ctx, path, verify.Options{Reference: reference, ExpectDynamicHDR: expect})
	if err != nil {
		return nil, err
	}
	e.rep.VerificationComplete(orchestrator.Summarize("", report))
	return report, nil
}

// Comparison is one preset's outcome in a Compare.
type Comparison struct {
	Preset string
	Result RunResult
}

// CompressionRatio is input size over output size.
func (c Comparison) CompressionRatio() float64 {
	return c.Result.CompressionRatio()
}

// SpeedRatio is media duration over wall time.
func (c Comparison) SpeedRatio() float64 {
	return c.Result.SpeedRatio()
}

// Compare runs one video through several presets, each into its own
// subdirectory of outputDir. Every preset is attempted; with no presets named,
// all registered presets are used. Extraction stages are shared through the
// stage cache.
func (e *Engine) Compare(ctx context.Context, input, outputDir string, presets []string) ([]Comparison, error) {
	if len(presets) == 0 {
		presets = e.registry.Names()
	}
	out, err := e.outputDir(outputDir)
	if err != nil {
		return nil, err
	}

	comparisons := make([]Comparison, 0, len(presets))
	for _, name := range presets {
		if ctx.Err() != nil {
			return comparisons, derrors.NewCancelledError()
		}
		result, err := e.Transcode(ctx, input, TranscodeOptions{
			Preset:    name,
			OutputDir: filepath.Join(out, name),
		})
		if err != nil && result.RunID == "" {
			return comparisons, err
		}
		if err != nil {
			e.rep.Warning(fmt.Sprintf("preset %s failed: %v", name, err))
		}
		comparisons = append(comparisons, Comparison{Preset: name, Result: result})
	}
	return comparisons, nil
}
