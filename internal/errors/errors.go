// Package errors provides structured error types for dovetail operations.
package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// ErrorKind represents the category of an error.
type ErrorKind int

const (
	// KindIO represents I/O errors.
	KindIO ErrorKind = iota
	// KindToolNotFound represents a missing external tool, detected before any run starts.
	KindToolNotFound
	// KindStageFailed represents an external tool exiting non-zero inside a stage.
	KindStageFailed
	// KindStageTimedOut represents a stage invocation that exceeded its timeout.
	// It is a cause tag on a stage failure, so IsKind(err, KindStageFailed) also matches it.
	KindStageTimedOut
	// KindInputMissing represents a precondition violation on run or stage inputs.
	KindInputMissing
	// KindConformance represents a compatibility finding. It never aborts a run.
	KindConformance
	// KindManifestConflict represents a manifest write outside the owning writer.
	KindManifestConflict
	// KindConfig represents configuration validation errors.
	KindConfig
	// KindProbe represents media probe failures or unparseable probe output.
	KindProbe
	// KindCancelled represents user-cancelled operations.
	KindCancelled
)

// String returns a string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "I/O error"
	case KindToolNotFound:
		return "Tool not found"
	case KindStageFailed:
		return "Stage failed"
	case KindStageTimedOut:
		return "Stage timed out"
	case KindInputMissing:
		return "Input missing"
	case KindConformance:
		return "Conformance violation"
	case KindManifestConflict:
		return "Manifest write conflict"
	case KindConfig:
		return "Configuration error"
	case KindProbe:
		return "Probe error"
	case KindCancelled:
		return "Operation cancelled"
	default:
		return "Unknown error"
	}
}

// CommandErrorKind represents the type of command error.
type CommandErrorKind int

const (
	// CommandStart means the command failed to start.
	CommandStart CommandErrorKind = iota
	// CommandFailed means the command returned non-zero exit status.
	CommandFailed
	// CommandTimedOut means the command was killed after its timeout.
	CommandTimedOut
)

// CommandError represents an error from executing an external command.
type CommandError struct {
	Command    string
	Kind       CommandErrorKind
	ExitCode   int
	Stderr     string
	Underlying error
}

func (e *CommandError) Error() string {
	switch e.Kind {
	case CommandStart:
		return fmt.Sprintf("failed to execute %s: %v", e.Command, e.Underlying)
	case CommandTimedOut:
		return fmt.Sprintf("command %s timed out", e.Command)
	case CommandFailed:
		if e.Stderr != "" {
			return fmt.Sprintf("command %s failed with exit code %d: %s", e.Command, e.ExitCode, e.Stderr)
		}
		return fmt.Sprintf("command %s failed with exit code %d", e.Command, e.ExitCode)
	default:
		return fmt.Sprintf("command %s error: %v", e.Command, e.Underlying)
	}
}

func (e *CommandError) Unwrap() error {
	return e.Underlying
}

// CoreError is the main error type for dovetail operations.
type CoreError struct {
	Kind       ErrorKind
	Message    string
	Underlying error
}

func (e *CoreError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Underlying
}

// Is reports whether target matches this error's kind.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.matches(t.Kind)
}

func (e *CoreError) matches(kind ErrorKind) bool {
	if e.Kind == kind {
		return true
	}
	return kind == KindStageFailed && e.Kind == KindStageTimedOut
}

// NewIOError creates a new I/O error.
func NewIOError(message string, underlying error) error {
	return crdb.WithStack(&CoreError{Kind: KindIO, Message: message, Underlying: underlying})
}

// NewToolNotFoundError creates an error for a tool that could not be resolved.
func NewToolNotFoundError(tool string, underlying error) error {
	err := &CoreError{Kind: KindToolNotFound, Message: tool, Underlying: underlying}
	return crdb.WithHintf(err, "install %s or set tools.%s in the config file", tool, tool)
}

// NewStageFailedError creates an error for a stage whose tool exited non-zero.
func NewStageFailedError(stage, cmd string, exitCode int, stderr string) error {
	cmdErr := &CommandError{
		Command:  cmd,
		Kind:     CommandFailed,
		ExitCode: exitCode,
		Stderr:   stderr,
	}
	return &CoreError{Kind: KindStageFailed, Message: stage, Underlying: cmdErr}
}

// NewStageStartError creates an error for a stage whose tool could not be started.
func NewStageStartError(stage, cmd string, err error) error {
	cmdErr := &CommandError{Command: cmd, Kind: CommandStart, Underlying: err}
	return &CoreError{Kind: KindStageFailed, Message: stage, Underlying: cmdErr}
}

// NewStageTimedOutError creates an error for a stage killed after its timeout.
func NewStageTimedOutError(stage, cmd string, stderr string) error {
	cmdErr := &CommandError{Command: cmd, Kind: CommandTimedOut, Stderr: stderr}
	err := &CoreError{Kind: KindStageTimedOut, Message: stage, Underlying: cmdErr}
	return crdb.WithHint(err, "raise the matching timeout under processing.timeouts")
}

// NewStageNoOutputError creates an error for a stage that exited zero without writing its output.
func NewStageNoOutputError(stage, output string) error {
	return &CoreError{Kind: KindStageFailed, Message: fmt.Sprintf("%s produced no output at %s", stage, output)}
}

// NewInputMissingError creates an error for a missing or empty input.
func NewInputMissingError(message string) error {
	return &CoreError{Kind: KindInputMissing, Message: message}
}

// NewConformanceError creates an advisory conformance error.
func NewConformanceError(message string) error {
	return &CoreError{Kind: KindConformance, Message: message}
}

// NewManifestConflictError creates an error for a write outside the manifest owner.
func NewManifestConflictError(message string) error {
	return crdb.WithStack(&CoreError{Kind: KindManifestConflict, Message: message})
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string) error {
	return &CoreError{Kind: KindConfig, Message: message}
}

// NewProbeError creates a new probe error.
func NewProbeError(message string, underlying error) error {
	return &CoreError{Kind: KindProbe, Message: message, Underlying: underlying}
}

// NewCancelledError creates an error for user-cancelled operations.
func NewCancelledError() error {
	return &CoreError{Kind: KindCancelled, Message: "operation was cancelled by the user"}
}

// IsKind checks if the error has the specified kind. A timed-out stage
// matches both KindStageTimedOut and KindStageFailed.
func IsKind(err error, kind ErrorKind) bool {
	var coreErr *CoreError
	if crdb.As(err, &coreErr) {
		return coreErr.matches(kind)
	}
	return false
}

// IsTimedOut checks if the error is a stage timeout.
func IsTimedOut(err error) bool {
	return IsKind(err, KindStageTimedOut)
}

// KindOf returns the kind of the first CoreError in the chain.
func KindOf(err error) (ErrorKind, bool) {
	var coreErr *CoreError
	if crdb.As(err, &coreErr) {
		return coreErr.Kind, true
	}
	return 0, false
}

// IsCancelled checks if the error is a cancellation error.
func IsCancelled(err error) bool {
	return IsKind(err, KindCancelled)
}

// Hint returns the user-facing hints attached anywhere in the chain.
func Hint(err error) string {
	return crdb.FlattenHints(err)
}

// Wrapf wraps err with a formatted message, keeping the kind reachable.
func Wrapf(err error, format string, args ...any) error {
	return crdb.Wrapf(err, format, args...)
}

// Wrap wraps err with a message, keeping the kind reachable.
func Wrap(err error, msg string) error {
	return crdb.Wrap(err, msg)
}

// WithHint attaches a user-facing hint to err.
func WithHint(err error, hint string) error {
	return crdb.WithHint(err, hint)
}

// New creates a plain error with a stack trace.
func New(msg string) error {
	return crdb.New(msg)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return crdb.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return crdb.As(err, target)
}
