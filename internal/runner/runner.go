// Package runner is the single choke point for external tool execution.
//
// Every tool invocation goes through Runner.Invoke: argument vector in,
// structured Outcome out. Output is captured into bounded tail buffers and
// a wall-clock timeout terminates the whole process group, escalating from
// SIGTERM to SIGKILL after a grace window.
package runner

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/five82/dovetail/internal/logging"
)

const (
	// DefaultOutputLimit bounds captured stdout and stderr per invocation.
	DefaultOutputLimit = 64 * 1024
	// DefaultGrace is how long a terminated process group gets before SIGKILL.
	DefaultGrace = 10 * time.Second
)

// Command describes one external tool invocation.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration // zero means no timeout
	Dir     string
	Env     []string // nil inherits the parent environment

	StdoutLimit int // zero means DefaultOutputLimit
	StderrLimit int

	// StderrTap, when set, receives the full stderr stream in addition to the bounded capture.
	StderrTap io.Writer
}

// String renders the command as a shell-quoted line for logs.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Outcome is the structured result of an invocation.
type Outcome struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	TimedOut  bool
	Truncated bool
	// Err is set when the process could not be started or the context was cancelled.
	Err error
}

// Success reports whether the process ran and exited zero.
func (o Outcome) Success() bool {
	return o.Err == nil && !o.TimedOut && o.ExitCode == 0
}

// Runner executes external commands.
type Runner interface {
	Invoke(ctx context.Context, cmd Command) Outcome
}

// Exec runs commands as real child processes.
type Exec struct {
	grace  time.Duration
	limit  int
	logger *logging.Logger
}

// Option configures an Exec runner.
type Option func(*Exec)

// WithGrace sets the window between SIGTERM and SIGKILL.
func WithGrace(d time.Duration) Option {
	return func(e *Exec) {
		if d > 0 {
			e.grace = d
		}
	}
}

// WithOutputLimit sets the default capture size for stdout and stderr.
func WithOutputLimit(n int) Option {
	return func(e *Exec) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithLogger sets the logger used for command tracing.
func WithLogger(l *logging.Logger) Option {
	return func(e *Exec) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Exec runner.
func New(opts ...Option) *Exec {
	e := &Exec{
		grace:  DefaultGrace,
		limit:  DefaultOutputLimit,
		logger: logging.Global(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Component("runner")
	return e
}

// Invoke runs cmd to completion, timeout or cancellation. When Invoke returns,
// no process started by this invocation is still running.
func (e *Exec) Invoke(ctx context.Context, c Command) Outcome {
	start := time.Now()

	stdout := newTailBuffer(pick(c.StdoutLimit, e.limit))
	stderr := newTailBuffer(pick(c.StderrLimit, e.limit))

	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdout = stdout
	if c.StderrTap != nil {
		cmd.Stderr = io.MultiWriter(stderr, c.StderrTap)
	} else {
		cmd.Stderr = stderr
	}
	// Pipes held open by stray grandchildren must not block Wait forever.
	cmd.WaitDelay = e.grace
	configureProcessGroup(cmd)

	e.logger.Debug("invoke", "cmd", c.String(), "timeout", c.Timeout)

	if err := cmd.Start(); err != nil {
		return Outcome{ExitCode: -1, Duration: time.Since(start), Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if c.Timeout > 0 {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var (
		waitErr  error
		timedOut bool
		ctxErr   error
	)
	select {
	case waitErr = <-done:
	case <-timeout:
		timedOut = true
		waitErr = e.terminate(cmd, done)
	case <-ctx.Done():
		ctxErr = ctx.Err()
		waitErr = e.terminate(cmd, done)
	}
	// Sweep anything the leader left behind in its group.
	_ = signalGroup(cmd, sigKill)

	out := Outcome{
		ExitCode:  exitCode(cmd, waitErr),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		TimedOut:  timedOut,
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Err:       ctxErr,
	}
	if timedOut {
		out.ExitCode = -1
		e.logger.Warn("command timed out", "cmd", c.Name, "timeout", c.Timeout)
	}
	return out
}

// terminate signals the process group and waits for the leader, escalating to SIGKILL.
func (e *Exec) terminate(cmd *exec.Cmd, done <-chan error) error {
	_ = signalGroup(cmd, sigTerm)

	grace := time.NewTimer(e.grace)
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case <-grace.C:
		_ = signalGroup(cmd, sigKill)
		return <-done
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

func pick(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}
