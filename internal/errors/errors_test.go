package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected string
	}{
		{KindIO, "I/O error"},
		{KindToolNotFound, "Tool not found"},
		{KindStageFailed, "Stage failed"},
		{KindStageTimedOut, "Stage timed out"},
		{KindInputMissing, "Input missing"},
		{KindConformance, "Conformance violation"},
		{KindManifestConflict, "Manifest write conflict"},
		{KindConfig, "Configuration error"},
		{KindProbe, "Probe error"},
		{KindCancelled, "Operation cancelled"},
		{ErrorKind(99), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("ErrorKind.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCoreErrorError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &CoreError{
		Kind:       KindIO,
		Message:    "test message",
		Underlying: underlying,
	}

	got := err.Error()
	expected := "I/O error: test message: underlying error"
	if got != expected {
		t.Errorf("CoreError.Error() = %v, want %v", got, expected)
	}

	err2 := &CoreError{
		Kind:    KindConfig,
		Message: "config issue",
	}

	got2 := err2.Error()
	expected2 := "Configuration error: config issue"
	if got2 != expected2 {
		t.Errorf("CoreError.Error() = %v, want %v", got2, expected2)
	}
}

func TestCoreErrorIs(t *testing.T) {
	err1 := &CoreError{Kind: KindIO, Message: "test1"}
	err2 := &CoreError{Kind: KindIO, Message: "test2"}
	err3 := &CoreError{Kind: KindConfig, Message: "test3"}

	if !err1.Is(err2) {
		t.Error("Same kind errors should match")
	}

	if err1.Is(err3) {
		t.Error("Different kind errors should not match")
	}
}

func TestCommandError(t *testing.T) {
	startErr := &CommandError{
		Command:    "dovi_tool",
		Kind:       CommandStart,
		Underlying: errors.New("not found"),
	}
	if got := startErr.Error(); got != "failed to execute dovi_tool: not found" {
		t.Errorf("CommandStart error = %v", got)
	}

	timeoutErr := &CommandError{Command: "ffmpeg", Kind: CommandTimedOut}
	if got := timeoutErr.Error(); got != "command ffmpeg timed out" {
		t.Errorf("CommandTimedOut error = %v", got)
	}

	failedErr := &CommandError{
		Command:  "mp4muxer",
		Kind:     CommandFailed,
		ExitCode: 1,
		Stderr:   "bad input",
	}
	expected := "command mp4muxer failed with exit code 1: bad input"
	if got := failedErr.Error(); got != expected {
		t.Errorf("CommandFailed error = %v, want %v", got, expected)
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"NewIOError", NewIOError("disk full", errors.New("no space")), KindIO},
		{"NewToolNotFoundError", NewToolNotFoundError("dovi_tool", nil), KindToolNotFound},
		{"NewStageFailedError", NewStageFailedError("inject-metadata", "dovi_tool", 2, "boom"), KindStageFailed},
		{"NewStageStartError", NewStageStartError("mux", "mp4muxer", errors.New("exec format error")), KindStageFailed},
		{"NewStageTimedOutError", NewStageTimedOutError("encode", "ffmpeg", ""), KindStageTimedOut},
		{"NewStageNoOutputError", NewStageNoOutputError("mux", "/work/03-container.mp4"), KindStageFailed},
		{"NewInputMissingError", NewInputMissingError("source is empty"), KindInputMissing},
		{"NewConformanceError", NewConformanceError("hev1 tag"), KindConformance},
		{"NewManifestConflictError", NewManifestConflictError("writer closed"), KindManifestConflict},
		{"NewConfigError", NewConfigError("invalid preset"), KindConfig},
		{"NewProbeError", NewProbeError("bad json", nil), KindProbe},
		{"NewCancelledError", NewCancelledError(), KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindOf(tt.err)
			if !ok {
				t.Fatalf("KindOf(%v) found no CoreError", tt.err)
			}
			if kind != tt.kind {
				t.Errorf("KindOf() = %v, want %v", kind, tt.kind)
			}
		})
	}
}

func TestIsKindThroughWrapping(t *testing.T) {
	err := Wrapf(NewStageFailedError("encode", "ffmpeg", 1, ""), "run %s", "abc")

	if !IsKind(err, KindStageFailed) {
		t.Error("IsKind should see through Wrapf")
	}
	if IsKind(err, KindIO) {
		t.Error("IsKind should return false for non-matching kind")
	}
	if IsKind(errors.New("plain error"), KindConfig) {
		t.Error("IsKind should return false for non-CoreError")
	}
}

func TestHint(t *testing.T) {
	err := NewToolNotFoundError("mp4muxer", nil)
	if got := Hint(err); !strings.Contains(got, "tools.mp4muxer") {
		t.Errorf("Hint() = %q, want mention of tools.mp4muxer", got)
	}

	if got := Hint(NewConfigError("x")); got != "" {
		t.Errorf("Hint() = %q, want empty", got)
	}
}

func TestIsCancelled(t *testing.T) {
	if !IsCancelled(NewCancelledError()) {
		t.Error("IsCancelled should return true for cancelled error")
	}
	if IsCancelled(NewConfigError("test")) {
		t.Error("IsCancelled should return false for non-cancelled error")
	}
}

func TestTimeoutIsStageFailure(t *testing.T) {
	err := Wrapf(NewStageTimedOutError("encode", "ffmpeg", "frame=100"), "run %s", "abc")

	if !IsKind(err, KindStageFailed) {
		t.Error("a timed-out stage should match KindStageFailed")
	}
	if !IsTimedOut(err) {
		t.Error("IsTimedOut should match the timeout cause")
	}
	if kind, _ := KindOf(err); kind != KindStageTimedOut {
		t.Errorf("KindOf() = %v, want %v", kind, KindStageTimedOut)
	}
	if IsTimedOut(NewStageFailedError("encode", "ffmpeg", 1, "")) {
		t.Error("a non-zero exit is not a timeout")
	}
}
