// Package stage executes a single pipeline stage: input checks, cache lookup,
// argv rendering, resource slots, the external invocation and outcome mapping.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/five82/dovetail/internal/artifact"
	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/pipeline"
	"github.com/five82/dovetail/internal/pool"
	"github.com/five82/dovetail/internal/runner"
	"github.com/five82/dovetail/internal/stagecache"
	"github.com/five82/dovetail/internal/util"
)

// DefaultStderrLimit is how much stderr a Failure keeps.
const DefaultStderrLimit = 4 * 1024

// Failure describes why a stage did not produce its output.
type Failure struct {
	Stage    string
	Err      error
	ExitCode int
	Stderr   string
	TimedOut bool
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is a successful stage execution.
type Result struct {
	Artifact artifact.Artifact
	Cached   bool
	Duration time.Duration
}

// Request is everything one stage execution needs.
type Request struct {
	RunID string
	Spec  pipeline.StageSpec
	// Inputs are the resolved artifacts, one per declared input kind, in declared order.
	Inputs []artifact.Artifact
	Vars   pipeline.Vars
	// StderrTap optionally observes the tool's stderr as it streams.
	StderrTap io.Writer
}

// Executor runs stages against an artifact store.
type Executor struct {
	store       *artifact.Store
	runner      runner.Runner
	pools       *pool.Pools
	cache       *stagecache.Cache
	tool        func(string) string
	stderrLimit int
	logger      *logging.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithCache enables the stage cache for cacheable stages.
func WithCache(c *stagecache.Cache) Option {
	return func(e *Executor) { e.cache = c }
}

// WithToolResolver maps template tool names to executable paths.
func WithToolResolver(fn func(string) string) Option {
	return func(e *Executor) { e.tool = fn }
}

// WithStderrLimit sets how much stderr a Failure keeps.
func WithStderrLimit(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.stderrLimit = n
		}
	}
}

// WithLogger sets the executor's logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor.
func NewExecutor(store *artifact.Store, r runner.Runner, pools *pool.Pools, opts ...Option) *Executor {
	e := &Executor{
		store:       store,
		runner:      r,
		pools:       pools,
		stderrLimit: DefaultStderrLimit,
		logger:      logging.Global(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Component("stage")
	return e
}

// Execute runs one stage. Exactly one of the returns is meaningful: a Result on success
// or a non-nil Failure.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, *Failure) {
	start := time.Now()
	spec := req.Spec
	log := e.logger.WithRun(req.RunID).With("stage", spec.ID)

	if f := checkInputs(spec, req.Inputs); f != nil {
		return Result{}, f
	}

	key := outputKey(spec, req.Inputs, req.Vars)

	if spec.Cacheable && e.cache != nil && key != "" {
		if res, ok := e.fromCache(ctx, req, key); ok {
			log.Info("stage output restored from cache", "path", res.Artifact.Path)
			res.Duration = time.Since(start)
			return res, nil
		}
	}

	output, err := e.store.Allocate(req.RunID, spec.Output, "")
	if err != nil {
		return Result{}, &Failure{Stage: spec.ID, Err: derrors.NewIOError("allocate output for "+spec.ID, err)}
	}

	argv, err := pipeline.Render(spec.Template, e.bindings(spec, req.Inputs, output, req.Vars))
	if err != nil {
		return Result{}, &Failure{Stage: spec.ID, Err: derrors.Wrap(derrors.NewConfigError(err.Error()), spec.ID)}
	}
	tool := filepath.Base(argv[0])

	resource := spec.Resource
	if resource == "" {
		resource = pipeline.ResourceCPU
	}
	release, err := e.pools.Acquire(ctx, resource)
	if err != nil {
		return Result{}, &Failure{Stage: spec.ID, Err: derrors.NewCancelledError()}
	}

	log.Debug("stage started", "tool", tool, "resource", resource, "timeout", spec.Timeout)
	out := e.runner.Invoke(ctx, runner.Command{
		Name:      argv[0],
		Args:      argv[1:],
		Timeout:   spec.Timeout,
		StderrTap: req.StderrTap,
	})
	release()

	if f := e.mapOutcome(ctx, spec, tool, output, out); f != nil {
		log.Warn("stage failed", "error", f.Err, "exit_code", f.ExitCode, "timed_out", f.TimedOut)
		return Result{}, f
	}

	a := artifact.Artifact{Kind: spec.Output, Path: output, RunID: req.RunID, Stage: spec.ID, Key: key}
	if spec.Cacheable && e.cache != nil && key != "" {
		if _, err := e.cache.Store(ctx, key, spec.ID, output); err != nil {
			log.Warn("failed to cache stage output", "error", err)
		}
	}

	log.Info("stage complete", "duration", out.Duration)
	return Result{Artifact: a, Duration: time.Since(start)}, nil
}

func (e *Executor) fromCache(ctx context.Context, req Request, key string) (Result, bool) {
	entry, ok, err := e.cache.Lookup(ctx, key)
	if err != nil {
		e.logger.Warn("stage cache lookup failed", "stage", req.Spec.ID, "error", err)
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	dst, err := e.store.Allocate(req.RunID, req.Spec.Output, filepath.Ext(entry.Path))
	if err != nil {
		return Result{}, false
	}
	if err := e.cache.Materialize(entry, dst); err != nil {
		e.logger.Warn("failed to materialize cached output", "stage", req.Spec.ID, "error", err)
		return Result{}, false
	}
	return Result{
		Artifact: artifact.Artifact{Kind: req.Spec.Output, Path: dst, RunID: req.RunID, Stage: req.Spec.ID, Key: key},
		Cached:   true,
	}, true
}

func (e *Executor) bindings(spec pipeline.StageSpec, inputs []artifact.Artifact, output string, vars pipeline.Vars) pipeline.Bindings {
	paths := make(map[string]string, len(inputs)+2)
	for i, k := range spec.Inputs {
		paths[string(k)] = inputs[i].Path
	}
	paths["input"] = inputs[0].Path
	paths["output"] = output
	return pipeline.Bindings{Paths: paths, Vars: vars, Tool: e.tool}
}

func (e *Executor) mapOutcome(ctx context.Context, spec pipeline.StageSpec, tool, output string, out runner.Outcome) *Failure {
	stderr := tail(out.Stderr, e.stderrLimit)
	f := &Failure{Stage: spec.ID, ExitCode: out.ExitCode, Stderr: stderr}

	switch {
	case out.Err != nil:
		switch {
		case ctx.Err() != nil:
			f.Err = derrors.NewCancelledError()
		case errors.Is(out.Err, exec.ErrNotFound) || errors.Is(out.Err, fs.ErrNotExist):
			f.Err = derrors.NewToolNotFoundError(tool, out.Err)
		default:
			f.Err = derrors.NewStageStartError(spec.ID, tool, out.Err)
		}
	case out.TimedOut:
		f.TimedOut = true
		f.Err = derrors.NewStageTimedOutError(spec.ID, tool, stderr)
	case out.ExitCode != 0:
		f.Err = derrors.NewStageFailedError(spec.ID, tool, out.ExitCode, stderr)
	case !util.NonEmptyFile(output):
		f.Err = derrors.NewStageNoOutputError(spec.ID, output)
	default:
		return nil
	}
	return f
}

func checkInputs(spec pipeline.StageSpec, inputs []artifact.Artifact) *Failure {
	if len(inputs) != len(spec.Inputs) {
		return &Failure{
			Stage: spec.ID,
			Err:   derrors.NewInputMissingError(fmt.Sprintf("%s expects %d inputs, got %d", spec.ID, len(spec.Inputs), len(inputs))),
		}
	}
	for i, in := range inputs {
		if !util.NonEmptyFile(in.Path) {
			return &Failure{
				Stage: spec.ID,
				Err:   derrors.NewInputMissingError(fmt.Sprintf("%s input %s missing or empty: %s", spec.ID, spec.Inputs[i], in.Path)),
			}
		}
	}
	return nil
}

// outputKey derives the content identity of a stage's output. It is empty when any input lacks one.
func outputKey(spec pipeline.StageSpec, inputs []artifact.Artifact, vars pipeline.Vars) string {
	keys := make([]string, 0, len(inputs)+1)
	for _, in := range inputs {
		if in.Key == "" {
			return ""
		}
		keys = append(keys, in.Key)
	}
	keys = append(keys, varsFingerprint(spec.Template, vars))
	return stagecache.Key(spec.ID, spec.Template, keys...)
}

// varsFingerprint covers only the variables the template references.
func varsFingerprint(tmpl string, vars pipeline.Vars) string {
	var parts []string
	for name, v := range vars.Scalars {
		if strings.Contains(tmpl, "{"+name+"}") {
			parts = append(parts, name+"="+v)
		}
	}
	for name, l := range vars.Lists {
		if strings.Contains(tmpl, "{@"+name+"}") {
			parts = append(parts, name+"=["+strings.Join(l, "\x1f")+"]")
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
