// Package orchestrator drives one source asset through a preset's stages: preconditions,
// source facts, the stage loop, placement of the output, verification and cleanup.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/five82/dovetail/internal/album"
	"github.com/five82/dovetail/internal/artifact"
	"github.com/five82/dovetail/internal/config"
	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/manifest"
	"github.com/five82/dovetail/internal/pipeline"
	"github.com/five82/dovetail/internal/probe"
	"github.com/five82/dovetail/internal/reporter"
	"github.com/five82/dovetail/internal/stage"
	"github.com/five82/dovetail/internal/util"
	"github.com/five82/dovetail/internal/verify"
)

// OutputExt is the container extension of every transcoded output.
const OutputExt = ".mp4"

// StagePlace names the placement step in failures.
const StagePlace = "place"

// Prober reads the facts of a source file.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.MediaInfo, error)
}

// Orchestrator runs assets through pipeline definitions.
type Orchestrator struct {
	store     *artifact.Store
	executor  *stage.Executor
	prober    Prober
	outputDir string

	verifier  *verify.Verifier
	registry  *pipeline.Registry
	retention config.Retention
	favSuffix string
	rep       reporter.Reporter
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithVerifier verifies every placed output. Without one, runs are not verified.
func WithVerifier(v *verify.Verifier) Option {
	return func(o *Orchestrator) { o.verifier = v }
}

// WithRegistry rejects definitions the registry does not hold.
func WithRegistry(r *pipeline.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithRetention sets when run artifacts survive cleanup.
func WithRetention(r config.Retention) Option {
	return func(o *Orchestrator) { o.retention = r }
}

// WithFavoriteSuffix sets the stem suffix of favorite outputs.
func WithFavoriteSuffix(s string) Option {
	return func(o *Orchestrator) { o.favSuffix = s }
}

// WithReporter sets the progress reporter.
func WithReporter(r reporter.Reporter) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.rep = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator placing outputs in outputDir.
func New(store *artifact.Store, executor *stage.Executor, prober Prober, outputDir string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		executor:  executor,
		prober:    prober,
		outputDir: outputDir,
		retention: config.RetainOnFailure,
		favSuffix: config.DefaultFavoriteSuffix,
		rep:       reporter.NullReporter{},
		logger:    logging.Global(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Component("orchestrator")
	return o
}

// OutputDir returns where outputs are placed.
func (o *Orchestrator) OutputDir() string {
	return o.outputDir
}

// OutputPath returns where the output for asset is placed.
func (o *Orchestrator) OutputPath(asset *album.SourceAsset) string {
	ext := OutputExt
	if !asset.Kind.Transcoded() {
		ext = filepath.Ext(asset.Path)
	}
	suffix := ""
	if asset.Favorite {
		suffix = o.favSuffix
	}
	return util.ResolveOutputPath(asset.Path, o.outputDir, suffix, ext)
}

// RunOption adjusts a single run.
type RunOption func(*runOptions)

type runOptions struct {
	index, total int
}

// AtPosition labels the run as index of total in progress events.
func AtPosition(index, total int) RunOption {
	return func(r *runOptions) { r.index, r.total = index, total }
}

// Run drives asset through def. It always returns a well-formed result; failures are
// reported in the result, never returned or panicked.
func (o *Orchestrator) Run(ctx context.Context, asset *album.SourceAsset, def pipeline.Definition, opts ...RunOption) (result RunResult) {
	ro := runOptions{index: 1, total: 1}
	for _, opt := range opts {
		opt(&ro)
	}

	start := o.now()
	result = RunResult{Preset: def.Name, Status: StatusFailed}
	if asset != nil {
		result.Source = asset.Path
		result.Favorite = asset.Favorite
	}
	defer func() {
		if p := recover(); p != nil {
			result.Status = StatusFailed
			result.OutputPath = ""
			result.Err = derrors.New(fmt.Sprintf("run panicked: %v", p))
			o.logger.Error("run panicked", "source", result.Source, "panic", p)
		}
		result.Duration = o.now().Sub(start)
	}()

	checksum, err := o.preconditions(asset, def)
	if err != nil {
		result.Err = err
		o.reportFailure(result)
		return result
	}
	result.Checksum = checksum
	result.InputSize, _ = util.GetFileSize(asset.Path)

	info, err := o.prober.Probe(ctx, asset.Path)
	if err != nil {
		result.Err = derrors.Wrapf(err, "read facts of %s", asset.Name())
		o.reportFailure(result)
		return result
	}
	facts := info.Facts()
	result.MediaDuration = facts.Duration
	res := pipeline.EffectiveResolution(def.Resolution, facts.Width)

	runID := artifact.NewRunID(checksum, o.now())
	result.RunID = runID
	log := o.logger.WithRun(runID)
	if _, err := o.store.Begin(runID); err != nil {
		result.Err = derrors.NewIOError("create run namespace", err)
		o.reportFailure(result)
		return result
	}
	defer func() {
		retain := o.retention.Keep(result.Status != StatusSucceeded)
		if err := o.store.Cleanup(runID, retain); err != nil {
			log.Warn("artifact cleanup failed", "error", err)
		}
		if retain {
			if dir := filepath.Join(o.store.Root(), runID); util.DirectoryExists(dir) {
				log.Info("artifacts retained", "dir", dir)
			}
		}
	}()

	outPath := o.OutputPath(asset)
	o.rep.RunStarted(reporter.RunStartInfo{
		RunID:         runID,
		Index:         ro.index,
		Total:         ro.total,
		InputFile:     asset.Name(),
		OutputFile:    filepath.Base(outPath),
		Preset:        def.Name,
		PresetSummary: def.Summary(),
		Resolution:    describeResolution(facts, res),
		DynamicRange:  describeDynamicRange(info),
		Duration:      util.FormatElapsed(facts.Duration),
	})
	log.Info("run started", "source", asset.Path, "preset", def.Name, "resolution", res, "dynamic_hdr", facts.DynamicHDR)

	final, ok := o.runStages(ctx, runID, asset, def, facts, def.Vars(res), &result)
	if !ok {
		o.reportFailure(result)
		return result
	}

	if err := o.place(final.Path, outPath); err != nil {
		result.FailedStage = StagePlace
		result.Err = derrors.NewIOError("place output "+outPath, err)
		o.reportFailure(result)
		return result
	}
	result.OutputPath = outPath
	result.OutputSize, _ = util.GetFileSize(outPath)
	result.Status = StatusSucceeded

	if o.verifier != nil {
		o.verify(ctx, asset, def, facts, &result)
	}

	result.Duration = o.now().Sub(start)
	log.Info("run succeeded", "output", outPath, "duration", result.Duration)
	o.rep.RunComplete(outcome(result))
	return result
}

func (o *Orchestrator) preconditions(asset *album.SourceAsset, def pipeline.Definition) (string, error) {
	if asset == nil {
		return "", derrors.NewInputMissingError("no source asset")
	}
	if !util.NonEmptyFile(asset.Path) {
		return "", derrors.NewInputMissingError("source missing or empty: " + asset.Path)
	}
	if len(def.Stages) == 0 {
		return "", derrors.NewInputMissingError(fmt.Sprintf("preset %q has no stages", def.Name))
	}
	if o.registry != nil && !o.registry.Has(def) {
		return "", derrors.NewInputMissingError(fmt.Sprintf("preset %q is not registered", def.Name))
	}
	sum, err := asset.Checksum()
	if err != nil {
		return "", derrors.Wrap(derrors.NewInputMissingError("source unreadable: "+asset.Path), err.Error())
	}
	return sum, nil
}

// runStages executes def's stages in order and returns the last good artifact. It reports
// false when a fatal stage failed or no stage produced anything.
func (o *Orchestrator) runStages(
	ctx context.Context,
	runID string,
	asset *album.SourceAsset,
	def pipeline.Definition,
	facts pipeline.Facts,
	vars pipeline.Vars,
	result *RunResult,
) (artifact.Artifact, bool) {
	log := o.logger.WithRun(runID)
	produced := []artifact.Artifact{artifact.Source(asset.Path, result.Checksum)}
	aborted := false

	for i, spec := range def.Stages {
		latest := produced[len(produced)-1]
		sr := StageResult{ID: spec.ID}

		switch {
		case aborted:
			sr.Status = StageNotRun
			result.Stages = append(result.Stages, sr)
			continue
		case !spec.When.Eval(facts):
			sr.Status = StageSkipped
			sr.Artifact = latest
			result.Stages = append(result.Stages, sr)
			log.Debug("stage skipped", "stage", spec.ID, "when", spec.When)
			o.rep.StageComplete(reporter.StageOutcome{RunID: runID, Stage: spec.ID, Status: string(sr.Status)})
			continue
		}

		o.rep.StageProgress(reporter.StageProgress{
			RunID:   runID,
			Stage:   spec.ID,
			Index:   i + 1,
			Total:   len(def.Stages),
			Message: spec.ID,
		})

		var fail *stage.Failure
		var res stage.Result
		if ctx.Err() != nil {
			fail = &stage.Failure{Stage: spec.ID, Err: derrors.NewCancelledError()}
		} else if inputs, err := ResolveInputs(spec.Inputs, produced); err != nil {
			fail = &stage.Failure{Stage: spec.ID, Err: derrors.Wrapf(err, "stage %s", spec.ID)}
		} else {
			res, fail = o.executor.Execute(ctx, stage.Request{RunID: runID, Spec: spec, Inputs: inputs, Vars: vars})
		}

		if fail != nil {
			sr.Status = StageFailed
			sr.Err = fail.Err
			sr.Stderr = fail.Stderr
			sr.Duration = res.Duration
			result.Stages = append(result.Stages, sr)
			o.rep.StageComplete(reporter.StageOutcome{RunID: runID, Stage: spec.ID, Status: string(sr.Status), Error: fail.Err.Error()})

			if spec.Fatal || derrors.IsCancelled(fail.Err) {
				aborted = true
				result.FailedStage = spec.ID
				result.Err = fail.Err
				continue
			}
			log.Warn("non-fatal stage failed, continuing with last good artifact", "stage", spec.ID, "error", fail.Err, "artifact", latest.Path)
			o.rep.Warning(fmt.Sprintf("%s: %s failed, keeping previous output: %v", asset.Name(), spec.ID, fail.Err))
			continue
		}

		sr.Status = StageSucceeded
		if res.Cached {
			sr.Status = StageCached
		}
		sr.Artifact = res.Artifact
		sr.Duration = res.Duration
		produced = append(produced, res.Artifact)
		result.Stages = append(result.Stages, sr)
		o.rep.StageComplete(reporter.StageOutcome{RunID: runID, Stage: spec.ID, Status: string(sr.Status), Duration: sr.Duration})
	}

	if aborted {
		return artifact.Artifact{}, false
	}
	final := produced[len(produced)-1]
	if !final.Owned() {
		result.Err = derrors.NewInputMissingError(fmt.Sprintf("preset %q produced no output for %s", def.Name, asset.Name()))
		return artifact.Artifact{}, false
	}
	return final, true
}

// ResolveInputs picks, for each declared kind, the most recent artifact of that kind, else the
// most recent artifact of a compatible kind.
func ResolveInputs(kinds []pipeline.Kind, produced []artifact.Artifact) ([]artifact.Artifact, error) {
	inputs := make([]artifact.Artifact, 0, len(kinds))
	for _, k := range kinds {
		a, ok := latestOf(produced, func(a artifact.Artifact) bool { return a.Kind == k })
		if !ok {
			a, ok = latestOf(produced, func(a artifact.Artifact) bool { return k.CompatibleWith(a.Kind) })
		}
		if !ok {
			return nil, derrors.NewInputMissingError("no artifact of kind " + string(k))
		}
		inputs = append(inputs, a)
	}
	return inputs, nil
}

func latestOf(produced []artifact.Artifact, match func(artifact.Artifact) bool) (artifact.Artifact, bool) {
	for i := len(produced) - 1; i >= 0; i-- {
		if match(produced[i]) {
			return produced[i], true
		}
	}
	return artifact.Artifact{}, false
}

func (o *Orchestrator) place(src, dst string) error {
	if err := util.EnsureDirectory(filepath.Dir(dst)); err != nil {
		return err
	}
	return util.MoveFile(src, dst)
}

func (o *Orchestrator) verify(ctx context.Context, asset *album.SourceAsset, def pipeline.Definition, facts pipeline.Facts, result *RunResult) {
	report, err := o.verifier.Verify(ctx, result.OutputPath, verify.Options{
		Reference:        asset.Path,
		ExpectDynamicHDR: def.PreserveDynamicHDR && facts.DynamicHDR,
	})
	if err != nil {
		o.logger.WithRun(result.RunID).Warn("verification could not run", "output", result.OutputPath, "error", err)
		o.rep.Warning(fmt.Sprintf("%s: verification could not run: %v", filepath.Base(result.OutputPath), err))
		return
	}
	result.Report = report
	if !report.Compatible() {
		o.logger.WithRun(result.RunID).Warn("output not device compatible", "output", result.OutputPath, "problems", report.Problems())
	}
	o.rep.VerificationComplete(Summarize(result.RunID, report))
}

// Copy places a photo or clip unchanged, keeping its extension.
func (o *Orchestrator) Copy(ctx context.Context, asset *album.SourceAsset) RunResult {
	start := o.now()
	result := RunResult{Source: asset.Path, Preset: manifest.PresetCopy, Status: StatusFailed, Favorite: asset.Favorite, Copied: true}

	if err := ctx.Err(); err != nil {
		result.Err = derrors.NewCancelledError()
		return result
	}
	if !util.NonEmptyFile(asset.Path) {
		result.Err = derrors.NewInputMissingError("source missing or empty: " + asset.Path)
		return result
	}
	sum, err := asset.Checksum()
	if err != nil {
		result.Err = derrors.NewIOError("checksum "+asset.Path, err)
		return result
	}
	result.Checksum = sum

	outPath := o.OutputPath(asset)
	if err := util.CopyFile(asset.Path, outPath); err != nil {
		result.FailedStage = StagePlace
		result.Err = derrors.NewIOError("copy "+asset.Path, err)
		return result
	}
	result.Status = StatusSucceeded
	result.OutputPath = outPath
	result.InputSize, _ = util.GetFileSize(asset.Path)
	result.OutputSize = result.InputSize
	result.Duration = o.now().Sub(start)
	o.logger.Debug("asset copied", "source", asset.Path, "kind", asset.Kind.String(), "output", outPath)
	return result
}

func (o *Orchestrator) reportFailure(result RunResult) {
	o.logger.WithRun(result.RunID).Warn("run failed", "source", result.Source, "stage", result.FailedStage, "error", result.Err)
	o.rep.RunComplete(outcome(result))
}

func outcome(r RunResult) reporter.RunOutcome {
	out := reporter.RunOutcome{
		RunID:       r.RunID,
		InputFile:   filepath.Base(r.Source),
		OutputFile:  filepath.Base(r.OutputPath),
		OutputPath:  r.OutputPath,
		Preset:      r.Preset,
		Succeeded:   r.Succeeded(),
		FailedStage: r.FailedStage,
		InputSize:   r.InputSize,
		OutputSize:  r.OutputSize,
		TotalTime:   r.Duration,
		Speed:       r.SpeedRatio(),
	}
	if r.OutputPath == "" {
		out.OutputFile = ""
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// Summarize converts a verification report into a reporter event.
func Summarize(runID string, report *verify.Report) reporter.VerificationSummary {
	s := reporter.VerificationSummary{
		RunID:      runID,
		OutputFile: filepath.Base(report.Path),
		Status:     report.Status.String(),
		Compatible: report.Compatible(),
		Findings:   make([]reporter.VerificationFinding, len(report.Findings)),
	}
	for i, f := range report.Findings {
		s.Findings[i] = reporter.VerificationFinding{Check: f.Check, Severity: f.Severity.String(), Message: f.Message}
	}
	return s
}

func describeResolution(f pipeline.Facts, res pipeline.Resolution) string {
	if f.Width == 0 {
		return string(res)
	}
	return fmt.Sprintf("%dx%d, target %s", f.Width, f.Height, res)
}

func describeDynamicRange(info *probe.MediaInfo) string {
	switch {
	case info.DolbyVision != nil:
		return fmt.Sprintf("Dolby Vision profile %d", info.DolbyVision.Profile)
	case info.HDR().IsHDR:
		return "HDR"
	default:
		return "SDR"
	}
}
