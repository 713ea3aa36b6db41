package orchestrator

import (
	"time"

	"github.com/five82/dovetail/internal/artifact"
	"github.com/five82/dovetail/internal/verify"
)

// Status is the outcome of a whole run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StageStatus is the outcome of one stage within a run.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageCached    StageStatus = "cached"
	StageSkipped   StageStatus = "skipped"
	StageFailed    StageStatus = "failed"
	StageNotRun    StageStatus = "not-run"
)

// StageResult records what happened to one stage.
type StageResult struct {
	ID       string
	Status   StageStatus
	Duration time.Duration
	// Artifact is the stage output. Skipped stages carry the artifact that passed through them.
	Artifact artifact.Artifact
	Stderr   string
	Err      error
}

// RunResult is the outcome of one source through one preset.
type RunResult struct {
	RunID    string
	Source   string
	Checksum string
	Preset   string
	Status   Status
	Stages   []StageResult
	// OutputPath is empty unless the run succeeded.
	OutputPath  string
	Duration    time.Duration
	FailedStage string
	Err         error
	Report      *verify.Report
	InputSize   uint64
	OutputSize  uint64
	// MediaDuration is the source's playback length.
	MediaDuration time.Duration
	Favorite      bool
	Copied        bool
}

// Succeeded reports whether the run produced its output.
func (r RunResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Stage returns the result of the stage with the given ID.
func (r RunResult) Stage(id string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return StageResult{}, false
}

// CompressionRatio is input size over output size. Zero when either is unknown.
func (r RunResult) CompressionRatio() float64 {
	if r.InputSize == 0 || r.OutputSize == 0 {
		return 0
	}
	return float64(r.InputSize) / float64(r.OutputSize)
}

// SpeedRatio is media duration over wall time, so 2.0 means twice realtime.
func (r RunResult) SpeedRatio() float64 {
	if r.Duration <= 0 || r.MediaDuration <= 0 {
		return 0
	}
	return r.MediaDuration.Seconds() / r.Duration.Seconds()
}

// Stderr returns the captured stderr tail of the failed stage, if any.
func (r RunResult) Stderr() string {
	if r.FailedStage == "" {
		return ""
	}
	if s, ok := r.Stage(r.FailedStage); ok {
		return s.Stderr
	}
	return ""
}
