// Package batch runs a sync plan through a bounded pool of orchestrator runs.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/five82/dovetail/internal/album"
	"github.com/five82/dovetail/internal/config"
	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/manifest"
	"github.com/five82/dovetail/internal/orchestrator"
	"github.com/five82/dovetail/internal/pipeline"
	"github.com/five82/dovetail/internal/reporter"
	"github.com/five82/dovetail/internal/syncplan"
	"github.com/five82/dovetail/internal/util"
)

// Batch dispatches runs for the assets a sync plan selects and records successes
// through the manifest writer.
type Batch struct {
	orch   *orchestrator.Orchestrator
	writer *manifest.Writer

	jobs         int
	planJobs     int
	force        bool
	limit        int
	dryRun       bool
	cooldown     time.Duration
	favoritesDir string
	rep          reporter.Reporter
	logger       *logging.Logger
	now          func() time.Time
}

// Option configures a Batch.
type Option func(*Batch)

// WithParallelJobs bounds the runs in flight.
func WithParallelJobs(n int) Option {
	return func(b *Batch) {
		if n > 0 {
			b.jobs = n
		}
	}
}

// WithPlanConcurrency bounds parallel checksum reads while planning.
func WithPlanConcurrency(n int) Option {
	return func(b *Batch) { b.planJobs = n }
}

// WithForce reprocesses assets the manifest already records.
func WithForce(force bool) Option {
	return func(b *Batch) { b.force = force }
}

// WithLimit caps how many videos one batch transcodes. The rest are deferred.
func WithLimit(n int) Option {
	return func(b *Batch) {
		if n > 0 {
			b.limit = n
		}
	}
}

// WithDryRun plans and reports the batch without dispatching any run.
func WithDryRun(dryRun bool) Option {
	return func(b *Batch) { b.dryRun = dryRun }
}

// WithCooldown spaces out run dispatch.
func WithCooldown(d time.Duration) Option {
	return func(b *Batch) { b.cooldown = d }
}

// WithFavoritesDir links every favorite output into dir.
func WithFavoritesDir(dir string) Option {
	return func(b *Batch) { b.favoritesDir = dir }
}

// WithReporter sets the progress reporter.
func WithReporter(r reporter.Reporter) Option {
	return func(b *Batch) {
		if r != nil {
			b.rep = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Batch) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Batch) { b.now = now }
}

// New creates a batch over orch that records into writer.
func New(orch *orchestrator.Orchestrator, writer *manifest.Writer, opts ...Option) *Batch {
	b := &Batch{
		orch:   orch,
		writer: writer,
		jobs:   config.DefaultParallelJobs,
		rep:    reporter.NullReporter{},
		logger: logging.Global(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Component("batch")
	return b
}

// Run plans assets against the manifest and processes what needs it. Runs never abort
// each other. Cancelling ctx stops further dispatch; dispatched runs finish. The returned
// error is non-nil only when the batch was cancelled.
func (b *Batch) Run(ctx context.Context, name string, assets []*album.SourceAsset, def pipeline.Definition) (*Summary, error) {
	start := b.now()
	summary := &Summary{BatchID: uuid.NewString(), Album: name, Preset: def.Name, Total: len(assets), DryRun: b.dryRun}
	log := b.logger.With("batch", summary.BatchID)

	plan, err := syncplan.Make(ctx, assets, b.writer.Snapshot(), syncplan.Options{
		Concurrency: b.planJobs,
		Force:       b.force,
		Limit:       b.limit,
	})
	if err != nil {
		summary.Cancelled = true
		summary.Duration = b.now().Sub(start)
		return summary, err
	}
	summary.Plan = plan
	for path, perr := range plan.Errors {
		log.Warn("checksum failed, scheduling for processing", "path", path, "error", perr)
	}

	names := make([]string, len(plan.ToProcess))
	for i, a := range plan.ToProcess {
		names[i] = a.Name()
		if !a.Kind.Transcoded() {
			names[i] += " (copy)"
		}
	}
	b.rep.BatchStarted(reporter.BatchStartInfo{
		BatchID:   summary.BatchID,
		Album:     name,
		OutputDir: b.orch.OutputDir(),
		Preset:    def.Name,
		Total:     len(assets),
		ToProcess: len(plan.ToProcess),
		ToSkip:    len(plan.ToSkip),
		Deferred:  len(plan.Deferred),
		DryRun:    b.dryRun,
		FileList:  names,
	})
	log.Info("batch started", "album", name, "to_process", len(plan.ToProcess), "to_skip", len(plan.ToSkip),
		"deferred", len(plan.Deferred), "jobs", b.jobs, "dry_run", b.dryRun)
	if b.dryRun {
		summary.Duration = b.now().Sub(start)
		return summary, nil
	}

	results := make([]*orchestrator.RunResult, len(plan.ToProcess))
	progress := newProgress(len(plan.ToProcess))
	limiter := rate.NewLimiter(rate.Inf, 1)
	if b.cooldown > 0 {
		limiter = rate.NewLimiter(rate.Every(b.cooldown), 1)
	}

	// slots gates dispatch on ctx; the errgroup alone would block past a cancellation.
	slots := semaphore.NewWeighted(int64(b.jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.jobs)
	for i, asset := range plan.ToProcess {
		if err := slots.Acquire(ctx, 1); err != nil {
			summary.Cancelled = true
			break
		}
		if err := limiter.Wait(ctx); err != nil || ctx.Err() != nil {
			slots.Release(1)
			summary.Cancelled = true
			break
		}
		// A dispatched run completes or times out on its own.
		runCtx := context.WithoutCancel(gctx)
		g.Go(func() error {
			defer slots.Release(1)
			res := b.process(runCtx, asset, def, i+1, len(plan.ToProcess))
			results[i] = &res
			snap := progress.done(res.Succeeded(), res.InputSize, res.OutputSize)
			b.rep.Verbose(fmt.Sprintf("%d/%d runs complete (%.0f%%)", snap.RunsComplete, snap.RunsTotal, snap.Percent()))
			return nil
		})
	}
	_ = g.Wait()

	summary.collect(results)
	summary.Duration = b.now().Sub(start)
	b.rep.BatchComplete(summary.Report())
	log.Info("batch complete",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", len(plan.ToSkip),
		"not_dispatched", summary.NotDispatched,
		"duration", summary.Duration)

	if summary.Cancelled {
		return summary, derrors.NewCancelledError()
	}
	return summary, nil
}

func (b *Batch) process(ctx context.Context, asset *album.SourceAsset, def pipeline.Definition, index, total int) orchestrator.RunResult {
	var res orchestrator.RunResult
	if asset.Kind.Transcoded() {
		res = b.orch.Run(ctx, asset, def, orchestrator.AtPosition(index, total))
	} else {
		res = b.orch.Copy(ctx, asset)
	}
	if !res.Succeeded() {
		return res
	}

	if err := b.writer.Record(ctx, manifest.Entry{
		Checksum:    res.Checksum,
		Preset:      res.Preset,
		SourcePath:  asset.Path,
		OutputPath:  res.OutputPath,
		ProcessedAt: b.now(),
		InputSize:   res.InputSize,
		OutputSize:  res.OutputSize,
		Favorite:    asset.Favorite,
	}); err != nil {
		b.logger.Error("manifest record failed", "source", asset.Path, "error", err)
		b.rep.Warning(fmt.Sprintf("%s was processed but not recorded in the manifest: %v", asset.Name(), err))
	}

	if asset.Favorite && b.favoritesDir != "" {
		if err := linkFavorite(res.OutputPath, b.favoritesDir); err != nil {
			b.logger.Warn("favorite link failed", "output", res.OutputPath, "error", err)
		}
	}
	return res
}

func linkFavorite(output, dir string) error {
	if err := util.EnsureDirectory(dir); err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(output))
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return util.LinkOrCopy(output, dst)
}
