// Package runnertest provides a scripted Runner for tests.
package runnertest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/five82/dovetail/internal/runner"
)

// Responder produces an outcome for a recorded command.
type Responder func(cmd runner.Command) runner.Outcome

type rule struct {
	match   func(runner.Command) bool
	respond Responder
}

// Fake records every invocation and answers from registered rules.
// Unmatched commands succeed and, if they name an output path, get a small file written there.
type Fake struct {
	mu    sync.Mutex
	rules []rule
	calls []runner.Command
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{}
}

// On registers a responder for commands accepted by match. Later rules win.
func (f *Fake) On(match func(runner.Command) bool, respond Responder) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, respond: respond})
	return f
}

// OnTool registers a responder for commands whose binary base name is tool.
func (f *Fake) OnTool(tool string, respond Responder) *Fake {
	return f.On(func(c runner.Command) bool { return filepath.Base(c.Name) == tool }, respond)
}

// OnArg registers a responder for tool invocations carrying arg anywhere in the argument list.
func (f *Fake) OnArg(tool, arg string, respond Responder) *Fake {
	return f.On(func(c runner.Command) bool {
		if filepath.Base(c.Name) != tool {
			return false
		}
		for _, a := range c.Args {
			if a == arg {
				return true
			}
		}
		return false
	}, respond)
}

// Invoke implements runner.Runner.
func (f *Fake) Invoke(ctx context.Context, cmd runner.Command) runner.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	var respond Responder
	for i := len(f.rules) - 1; i >= 0; i-- {
		if f.rules[i].match(cmd) {
			respond = f.rules[i].respond
			break
		}
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return runner.Outcome{ExitCode: -1, Err: err}
	}
	if respond == nil {
		respond = Succeed
	}
	out := respond(cmd)
	if cmd.StderrTap != nil && out.Stderr != "" {
		_, _ = io.WriteString(cmd.StderrTap, out.Stderr)
	}
	return out
}

// Calls returns a copy of every recorded command in invocation order.
func (f *Fake) Calls() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runner.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded commands for one tool.
func (f *Fake) CallsTo(tool string) []runner.Command {
	var out []runner.Command
	for _, c := range f.Calls() {
		if filepath.Base(c.Name) == tool {
			out = append(out, c)
		}
	}
	return out
}

// OutputPath guesses the output file of a command: the value after -o, else the last argument.
func OutputPath(cmd runner.Command) string {
	for i, a := range cmd.Args {
		if a == "-o" && i+1 < len(cmd.Args) {
			return cmd.Args[i+1]
		}
	}
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[len(cmd.Args)-1]
}

// Succeed writes placeholder content to the command's output path and exits zero.
// Existing files are left alone so probes of real inputs never clobber them.
func Succeed(cmd runner.Command) runner.Outcome {
	p := OutputPath(cmd)
	if !filepath.IsAbs(p) {
		return runner.Outcome{ExitCode: 0}
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		_, _ = f.WriteString(filepath.Base(cmd.Name) + " output\n")
		_ = f.Close()
	}
	return runner.Outcome{ExitCode: 0}
}

// Fail returns a responder that exits with code and stderr without producing output.
func Fail(code int, stderr string) Responder {
	return func(runner.Command) runner.Outcome {
		return runner.Outcome{ExitCode: code, Stderr: stderr}
	}
}

// TimeOut returns a responder that reports a timeout.
func TimeOut(stderr string) Responder {
	return func(runner.Command) runner.Outcome {
		return runner.Outcome{ExitCode: -1, TimedOut: true, Stderr: stderr}
	}
}

// Stdout returns a responder that exits zero printing s.
func Stdout(s string) Responder {
	return func(runner.Command) runner.Outcome {
		return runner.Outcome{ExitCode: 0, Stdout: s}
	}
}
