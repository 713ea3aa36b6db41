package batch

import (
	"path/filepath"
	"time"

	"github.com/five82/dovetail/internal/orchestrator"
	"github.com/five82/dovetail/internal/reporter"
	"github.com/five82/dovetail/internal/syncplan"
	"github.com/five82/dovetail/internal/util"
)

// Summary is the outcome of one batch.
type Summary struct {
	BatchID string
	Album   string
	Preset  string
	Total   int
	Plan    *syncplan.Plan
	// Results holds dispatched runs in plan order.
	Results []orchestrator.RunResult

	Succeeded     int
	Failed        int
	Copied        int
	NotDispatched int
	Verified      int
	Unverified    int
	InputBytes    uint64
	OutputBytes   uint64
	Duration      time.Duration
	Cancelled     bool
	// DryRun is set when the batch was only planned.
	DryRun bool
}

// Skipped returns how many assets were already up to date.
func (s *Summary) Skipped() int {
	if s.Plan == nil {
		return 0
	}
	return len(s.Plan.ToSkip)
}

// Deferred returns how many videos were left for a later sync by the transcode limit.
func (s *Summary) Deferred() int {
	if s.Plan == nil {
		return 0
	}
	return len(s.Plan.Deferred)
}

// Failures returns the runs that did not succeed.
func (s *Summary) Failures() []orchestrator.RunResult {
	var out []orchestrator.RunResult
	for _, r := range s.Results {
		if !r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}

func (s *Summary) collect(results []*orchestrator.RunResult) {
	for _, r := range results {
		if r == nil {
			s.NotDispatched++
			continue
		}
		s.Results = append(s.Results, *r)
		if !r.Succeeded() {
			s.Failed++
			continue
		}
		s.Succeeded++
		if r.Copied {
			s.Copied++
		}
		s.InputBytes += r.InputSize
		s.OutputBytes += r.OutputSize
		if r.Report != nil {
			if r.Report.Compatible() {
				s.Verified++
			} else {
				s.Unverified++
			}
		}
	}
}

// Report converts the summary into a reporter event.
func (s *Summary) Report() reporter.BatchSummary {
	out := reporter.BatchSummary{
		BatchID:            s.BatchID,
		Total:              s.Total,
		Succeeded:          s.Succeeded,
		Failed:             s.Failed,
		Skipped:            s.Skipped(),
		Copied:             s.Copied,
		TotalInputSize:     s.InputBytes,
		TotalOutputSize:    s.OutputBytes,
		TotalDuration:      s.Duration,
		VerificationPassed: s.Verified,
		VerificationFailed: s.Unverified,
		Cancelled:          s.Cancelled,
	}
	for _, r := range s.Results {
		status := "failed at " + r.FailedStage
		switch {
		case r.Copied && r.Succeeded():
			status = "copied"
		case r.Succeeded():
			status = "succeeded"
		case r.FailedStage == "":
			status = "failed"
		}
		out.FileResults = append(out.FileResults, reporter.FileResult{
			Filename:  filepath.Base(r.Source),
			Status:    status,
			Reduction: util.CalculateSizeReduction(r.InputSize, r.OutputSize),
		})
	}
	return out
}
