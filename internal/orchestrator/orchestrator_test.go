package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/dovetail/internal/album"
	"github.com/five82/dovetail/internal/artifact"
	"github.com/five82/dovetail/internal/config"
	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/pipeline"
	"github.com/five82/dovetail/internal/pool"
	"github.com/five82/dovetail/internal/probe"
	"github.com/five82/dovetail/internal/reporter"
	"github.com/five82/dovetail/internal/runner"
	"github.com/five82/dovetail/internal/runner/runnertest"
	"github.com/five82/dovetail/internal/stage"
	"github.com/five82/dovetail/internal/stagecache"
	"github.com/five82/dovetail/internal/verify"
)

const dvTrace = "[mov @ 0x1] type:'hvcC' parent:'hvc1'\n[mov @ 0x1] type:'dvcC' parent:'hvc1'\n"

type recorder struct {
	reporter.NullReporter
	mu       sync.Mutex
	stages   []reporter.StageOutcome
	runs     []reporter.RunOutcome
	verified []reporter.VerificationSummary
	warnings []string
}

func (r *recorder) StageComplete(o reporter.StageOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, o)
}

func (r *recorder) RunComplete(o reporter.RunOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, o)
}

func (r *recorder) VerificationComplete(s reporter.VerificationSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified = append(r.verified, s)
}

func (r *recorder) Warning(m string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, m)
}

type fixture struct {
	dir      string
	source   string
	outDir   string
	store    *artifact.Store
	fake     *runnertest.Fake
	prober   *probe.Prober
	registry *pipeline.Registry
	rep      *recorder
	cache    *stagecache.Cache
}

func fixtureJSON(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "probe", "testdata", name))
	require.NoError(t, err)
	return string(data)
}

func newFixture(t *testing.T, sourceFixture string) *fixture {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "album", "IMG_0001.MOV")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("source video"), 0o644))

	f := &fixture{
		dir:      dir,
		source:   src,
		outDir:   filepath.Join(dir, "out"),
		store:    artifact.New(filepath.Join(dir, "work")),
		fake:     runnertest.New(),
		registry: pipeline.NewRegistry(),
		rep:      &recorder{},
	}
	f.prober = probe.New(f.fake, "ffprobe", probe.WithLogger(logging.Discard()))
	f.probeAs(src, fixtureJSON(t, sourceFixture))
	f.probeAs(filepath.Join(f.outDir, "IMG_0001.mp4"), fixtureJSON(t, sourceFixture))
	f.fake.OnArg("ffprobe", "trace", func(runner.Command) runner.Outcome {
		return runner.Outcome{Stderr: dvTrace}
	})
	return f
}

// probeAs answers ffprobe -show_streams on path with the given JSON.
func (f *fixture) probeAs(path, json string) {
	f.fake.On(func(c runner.Command) bool {
		return filepath.Base(c.Name) == "ffprobe" && slices.Contains(c.Args, "-show_streams") && c.Args[len(c.Args)-1] == path
	}, runnertest.Stdout(json))
}

func (f *fixture) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	var execOpts []stage.Option
	execOpts = append(execOpts, stage.WithLogger(logging.Discard()))
	if f.cache != nil {
		execOpts = append(execOpts, stage.WithCache(f.cache))
	}
	exec := stage.NewExecutor(f.store, f.fake, pool.New(2, 1), execOpts...)
	base := []Option{
		WithRegistry(f.registry),
		WithReporter(f.rep),
		WithLogger(logging.Discard()),
		WithVerifier(verify.New(f.prober, logging.Discard())),
	}
	return New(f.store, exec, f.prober, f.outDir, append(base, opts...)...)
}

func (f *fixture) preset(t *testing.T, name string) pipeline.Definition {
	t.Helper()
	def, err := f.registry.Lookup(name)
	require.NoError(t, err)
	return def
}

func (f *fixture) asset() *album.SourceAsset {
	return album.NewAsset(f.source, album.KindVideo)
}

func statuses(r RunResult) map[string]StageStatus {
	m := make(map[string]StageStatus, len(r.Stages))
	for _, s := range r.Stages {
		m[s.ID] = s.Status
	}
	return m
}

func runDirs(t *testing.T, f *fixture) []string {
	t.Helper()
	entries, err := os.ReadDir(f.store.Root())
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

func TestRunDolbyVisionSource(t *testing.T) {
	f := newFixture(t, "iphone_dolby_vision.json")
	o := f.orchestrator(t)

	res := o.Run(context.Background(), f.asset(), f.preset(t, "balanced"))
	require.NoError(t, res.Err)
	require.True(t, res.Succeeded())

	assert.Equal(t, map[string]StageStatus{
		pipeline.StageExtractBitstream: StageSucceeded,
		pipeline.StageExtractMetadata:  StageSucceeded,
		pipeline.StageEncode:           StageSucceeded,
		pipeline.StageInjectMetadata:   StageSucceeded,
		pipeline.StageMux:              StageSucceeded,
		pipeline.StageFinalize:         StageSucceeded,
		pipeline.StageEncodeStandard:   StageSkipped,
		pipeline.StageCopyMetadata:     StageSucceeded,
	}, statuses(res))

	want := filepath.Join(f.outDir, "IMG_0001.mp4")
	assert.Equal(t, want, res.OutputPath)
	assert.FileExists(t, want)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, res.Checksum[:12], res.RunID[:12])
	assert.Greater(t, res.MediaDuration.Seconds(), 10.0)

	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Compatible(), "problems: %v", res.Report.Problems())
	assert.Zero(t, res.Report.Count(verify.SeverityCritical))

	assert.Empty(t, runDirs(t, f), "successful run artifacts are removed by default")

	require.Len(t, f.rep.runs, 1)
	assert.True(t, f.rep.runs[0].Succeeded)
	require.Len(t, f.rep.verified, 1)
	assert.True(t, f.rep.verified[0].Compatible)
	assert.Len(t, f.rep.stages, 8)
}

func TestRunDolbyVisionStageWiring(t *testing.T) {
	f := newFixture(t, "iphone_dolby_vision.json")
	res := f.orchestrator(t, WithRetention(config.RetainAlways)).Run(context.Background(), f.asset(), f.preset(t, "balanced"))
	require.True(t, res.Succeeded(), "err: %v", res.Err)

	artifactOf := func(id string) string {
		s, ok := res.Stage(id)
		require.True(t, ok, id)
		return s.Artifact.Path
	}

	inject := f.fake.CallsTo("dovi_tool")
	require.Len(t, inject, 2)
	assert.Equal(t, "extract-rpu", inject[0].Args[0])
	assert.Equal(t, artifactOf(pipeline.StageExtractBitstream), inject[0].Args[1])
	assert.Equal(t, []string{
		"inject-rpu",
		"-i", artifactOf(pipeline.StageEncode),
		"-r", artifactOf(pipeline.StageExtractMetadata),
		"-o", artifactOf(pipeline.StageInjectMetadata),
	}, inject[1].Args)

	mux := f.fake.CallsTo("mp4muxer")
	require.Len(t, mux, 1)
	assert.Equal(t, artifactOf(pipeline.StageInjectMetadata), mux[0].Args[1])
	assert.Contains(t, mux[0].Args, "mp42,iso6,isom,msdh,dby1")

	exif := f.fake.CallsTo("exiftool")
	require.Len(t, exif, 1)
	assert.Equal(t, f.source, exif[0].Args[1])
	assert.Equal(t, artifactOf(pipeline.StageFinalize), exif[0].Args[len(exif[0].Args)-1])

	assert.Len(t, runDirs(t, f), 1, "retain always keeps the namespace")
}

func TestRunInjectFails(t *testing.T) {
	f := newFixture(t, "iphone_dolby_vision.json")
	f.fake.OnArg("dovi_tool", "inject-rpu", runnertest.Fail(2, "Error: RPU count mismatch"))

	res := f.orchestrator(t).Run(context.Background(), f.asset(), f.preset(t, "balanced"))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, pipeline.StageInjectMetadata, res.FailedStage)
	assert.Empty(t, res.OutputPath)
	assert.True(t, derrors.IsKind(res.Err, derrors.KindStageFailed), "err: %v", res.Err)
	assert.Contains(t, res.Stderr(), "RPU count mismatch")
	assert.NoFileExists(t, filepath.Join(f.outDir, "IMG_0001.mp4"))

	st := statuses(res)
	assert.Equal(t, StageFailed, st[pipeline.StageInjectMetadata])
	for _, id := range []string{pipeline.StageMux, pipeline.StageFinalize, pipeline.StageEncodeStandard, pipeline.StageCopyMetadata} {
		assert.Equal(t, StageNotRun, st[id], id)
	}
	assert.Empty(t, f.fake.CallsTo("mp4muxer"))

	for _, id := range []string{pipeline.StageExtractBitstream, pipeline.StageExtractMetadata, pipeline.StageEncode} {
		s, ok := res.Stage(id)
		require.True(t, ok)
		assert.FileExists(t, s.Artifact.Path, "%s artifact retained for diagnosis", id)
	}
	assert.Nil(t, res.Report)
	require.Len(t, f.rep.runs, 1)
	assert.False(t, f.rep.runs[0].Succeeded)
	assert.Equal(t, pipeline.StageInjectMetadata, f.rep.runs[0].FailedStage)
}

func TestRunFailureRetentionNever(t *testing.T) {
	f := newFixture(t, "iphone_dolby_vision.json")
	f.fake.OnArg("dovi_tool", "inject-rpu", runnertest.Fail(2, "boom"))

	res := f.orchestrator(t, WithRetention(config.RetainNever)).Run(context.Background(), f.asset(), f.preset(t, "balanced"))
	require.False(t, res.Succeeded())
	assert.Empty(t, runDirs(t, f))
}

func TestRunStandardSourceOnDolbyVisionPreset(t *testing.T) {
	f := newFixture(t, "video_1080p_sdr.json")

	res := f.orchestrator(t).Run(context.Background(), f.asset(), f.preset(t, "balanced"))
	require.True(t, res.Succeeded(), "err: %v", res.Err)

	st := statuses(res)
	for _, id := range []string{pipeline.StageExtractBitstream, pipeline.StageExtractMetadata, pipeline.StageEncode, pipeline.StageInjectMetadata, pipeline.StageMux, pipeline.StageFinalize} {
		assert.Equal(t, StageSkipped, st[id], id)
		s, _ := res.Stage(id)
		assert.Equal(t, f.source, s.Artifact.Path, "skipped stages pass the source through")
	}
	assert.Equal(t, StageSucceeded, st[pipeline.StageEncodeStandard])
	assert.Empty(t, f.fake.CallsTo("dovi_tool"))

	encodes := f.fake.CallsTo("ffmpeg")
	require.Len(t, encodes, 1)
	assert.NotContains(t, encodes[0].Args, "-vf", "1080p source is never upscaled to the 4k target")

	require.NotNil(t, res.Report)
	_, hasBoxes := res.Report.Finding(verify.CheckDVBoxes)
	assert.True(t, hasBoxes)
}

func TestRunNonFatalFailurePassesLastGoodArtifact(t *testing.T) {
	f := newFixture(t, "video_1080p_sdr.json")
	f.fake.OnTool("exiftool", runnertest.Fail(1, "Warning: bad maker notes"))

	def := pipeline.Definition{
		Name:    "tagged",
		Encoder: pipeline.EncoderX265,
		Mode:    pipeline.ModeCRF,
		CRF:     24,
		Preset:  "fast",
		Stages: []pipeline.StageSpec{
			{ID: pipeline.StageEncodeStandard, Inputs: []pipeline.Kind{pipeline.KindSource}, Output: pipeline.KindFinal,
				Template: "ffmpeg -y -i {source} {@video_args} {output}", Fatal: true, When: pipeline.Always},
			{ID: pipeline.StageCopyMetadata, Inputs: []pipeline.Kind{pipeline.KindFinal, pipeline.KindSource}, Output: pipeline.KindFinal,
				Template: "exiftool -tagsFromFile {source} -o {output} {final}", When: pipeline.Always},
			{ID: "faststart", Inputs: []pipeline.Kind{pipeline.KindFinal}, Output: pipeline.KindFinal,
				Template: "ffmpeg -y -i {final} -c copy -movflags +faststart {output}", Fatal: true, When: pipeline.Always},
		},
	}

	o := f.orchestrator(t, WithRegistry(nil), WithRetention(config.RetainAlways))
	res := o.Run(context.Background(), f.asset(), def)
	require.True(t, res.Succeeded(), "err: %v", res.Err)

	st := statuses(res)
	assert.Equal(t, StageFailed, st[pipeline.StageCopyMetadata])
	assert.Equal(t, StageSucceeded, st["faststart"])

	encoded, _ := res.Stage(pipeline.StageEncodeStandard)
	calls := f.fake.CallsTo("ffmpeg")
	require.Len(t, calls, 2)
	assert.Equal(t, encoded.Artifact.Path, calls[1].Args[2], "next stage receives the last good artifact")

	require.NotEmpty(t, f.rep.warnings)
	assert.Contains(t, f.rep.warnings[0], pipeline.StageCopyMetadata)
}

func TestRunPreconditions(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		f := newFixture(t, "iphone_dolby_vision.json")
		res := f.orchestrator(t).Run(context.Background(), album.NewAsset(filepath.Join(f.dir, "nope.mov"), album.KindVideo), f.preset(t, "balanced"))
		assert.True(t, derrors.IsKind(res.Err, derrors.KindInputMissing))
		assert.Empty(t, f.fake.Calls())
		assert.Empty(t, res.Stages)
	})

	t.Run("empty source", func(t *testing.T) {
		f := newFixture(t, "iphone_dolby_vision.json")
		require.NoError(t, os.WriteFile(f.source, nil, 0o644))
		res := f.orchestrator(t).Run(context.Background(), f.asset(), f.preset(t, "balanced"))
		assert.True(t, derrors.IsKind(res.Err, derrors.KindInputMissing))
		assert.Empty(t, f.fake.Calls())
	})

	t.Run("unregistered preset", func(t *testing.T) {
		f := newFixture(t, "iphone_dolby_vision.json")
		def := f.preset(t, "balanced")
		def.Name = "bespoke"
		res := f.orchestrator(t).Run(context.Background(), f.asset(), def)
		assert.True(t, derrors.IsKind(res.Err, derrors.KindInputMissing))
		assert.Empty(t, f.fake.Calls())
	})

	t.Run("nil asset", func(t *testing.T) {
		f := newFixture(t, "iphone_dolby_vision.json")
		res := f.orchestrator(t).Run(context.Background(), nil, f.preset(t, "balanced"))
		assert.Equal(t, StatusFailed, res.Status)
		assert.True(t, derrors.IsKind(res.Err, derrors.KindInputMissing))
	})
}

func TestRunProbeFailure(t *testing.T) {
	f := newFixture(t, "iphone_dolby_vision.json")
	f.fake.On(func(c runner.Command) bool {
		return filepath.Base(c.Name) == "ffprobe" && c.Args[len(c.Args)-1] == f.source
	}, runnertest.Fail(1, "Invalid data found when processing input"))

	res := f.orchestrator(t).Run(context.Background(), f.asset(), f.preset(t, "balanced"))
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, derrors.IsKind(res.Err, derrors.KindProbe), "err: %v", res.Err)
	assert.Empty(t, res.RunID)
	assert.Empty(t, runDirs(t, f))
}

func TestRunCancelledBetweenStages(t *testing.T) {
	f := newFixture(t, "iphone_dolby_vision.json")
	ctx, cancel := context.WithCancel(context.Background())
	f.fake.OnArg("dovi_tool", "extract-rpu", func(cmd runner.Command) runner.Outcome {
		cancel()
		return runnertest.Succeed(cmd)
	})

	res := f.orchestrator(t).Run(ctx, f.asset(), f.preset(t, "balanced"))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, pipeline.StageEncode, res.FailedStage)
	assert.True(t, derrors.IsCancelled(res.Err))
	assert.Empty(t, f.fake.CallsTo("mp4muxer"))
}

func TestRunReusesCachedExtraction(t *testing.T) {
	f := newFixture(t, "iphone_dolby_vision.json")
	cache, err := stagecache.Open(filepath.Join(f.dir, "cache"), 8, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	f.cache = cache

	o := f.orchestrator(t)
	first := o.Run(context.Background(), f.asset(), f.preset(t, "balanced"))
	require.True(t, first.Succeeded(), "err: %v", first.Err)

	second := o.Run(context.Background(), f.asset(), f.preset(t, "balanced"))
	require.True(t, second.Succeeded(), "err: %v", second.Err)
	st := statuses(second)
	assert.Equal(t, StageCached, st[pipeline.StageExtractBitstream])
	assert.Equal(t, StageCached, st[pipeline.StageExtractMetadata])
	assert.Equal(t, StageSucceeded, st[pipeline.StageEncode])
	assert.Len(t, f.fake.CallsTo("dovi_tool"), 3, "extract-rpu once, inject-rpu twice")
}

func TestOutputPathFavorite(t *testing.T) {
	f := newFixture(t, "iphone_dolby_vision.json")
	o := f.orchestrator(t, WithFavoriteSuffix("__FAV"))

	a := f.asset()
	a.Favorite = true
	assert.Equal(t, filepath.Join(f.outDir, "IMG_0001__FAV.mp4"), o.OutputPath(a))

	photo := album.NewAsset(filepath.Join(f.dir, "album", "IMG_0002.HEIC"), album.KindPhoto)
	assert.Equal(t, filepath.Join(f.outDir, "IMG_0002.HEIC"), o.OutputPath(photo))
}

func TestCopyPhoto(t *testing.T) {
	f := newFixture(t, "iphone_dolby_vision.json")
	photo := filepath.Join(f.dir, "album", "IMG_0002.HEIC")
	require.NoError(t, os.WriteFile(photo, []byte("heic bytes"), 0o644))
	a := album.NewAsset(photo, album.KindPhoto)
	a.Favorite = true

	res := f.orchestrator(t).Copy(context.Background(), a)
	require.True(t, res.Succeeded(), "err: %v", res.Err)
	assert.True(t, res.Copied)
	assert.Equal(t, "copy", res.Preset)
	assert.Equal(t, filepath.Join(f.outDir, "IMG_0002__FAV.HEIC"), res.OutputPath)
	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "heic bytes", string(data))
	assert.Empty(t, f.fake.Calls())
}

func TestResolveInputs(t *testing.T) {
	src := artifact.Source("/a/src.mov", "sum")
	bit := artifact.Artifact{Kind: pipeline.KindBitstream, Path: "/w/01-bitstream.hevc", RunID: "r"}
	meta := artifact.Artifact{Kind: pipeline.KindMetadata, Path: "/w/02-metadata.bin", RunID: "r"}
	enc := artifact.Artifact{Kind: pipeline.KindEncoded, Path: "/w/03-encoded.hevc", RunID: "r"}
	enc2 := artifact.Artifact{Kind: pipeline.KindEncoded, Path: "/w/04-encoded.hevc", RunID: "r"}

	tests := []struct {
		name     string
		kinds    []pipeline.Kind
		produced []artifact.Artifact
		want     []string
		wantErr  bool
	}{
		{"exact kind", []pipeline.Kind{pipeline.KindSource}, []artifact.Artifact{src, bit}, []string{src.Path}, false},
		{"most recent of kind", []pipeline.Kind{pipeline.KindEncoded, pipeline.KindMetadata}, []artifact.Artifact{src, bit, meta, enc, enc2}, []string{enc2.Path, meta.Path}, false},
		{"compatible raw stream", []pipeline.Kind{pipeline.KindEncoded}, []artifact.Artifact{src, bit}, []string{bit.Path}, false},
		{"compatible container", []pipeline.Kind{pipeline.KindFinal}, []artifact.Artifact{src}, []string{src.Path}, false},
		{"metadata has no substitute", []pipeline.Kind{pipeline.KindMetadata}, []artifact.Artifact{src, bit, enc}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveInputs(tt.kinds, tt.produced)
			if tt.wantErr {
				assert.True(t, derrors.IsKind(err, derrors.KindInputMissing))
				return
			}
			require.NoError(t, err)
			var paths []string
			for _, a := range got {
				paths = append(paths, a.Path)
			}
			assert.Equal(t, tt.want, paths)
		})
	}
}

func TestRunResultRatios(t *testing.T) {
	r := RunResult{InputSize: 1000, OutputSize: 250, MediaDuration: 20e9, Duration: 10e9}
	assert.InDelta(t, 4.0, r.CompressionRatio(), 1e-9)
	assert.InDelta(t, 2.0, r.SpeedRatio(), 1e-9)
	assert.Zero(t, RunResult{}.CompressionRatio())
	assert.Zero(t, RunResult{}.SpeedRatio())
}
