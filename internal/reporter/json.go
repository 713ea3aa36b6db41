package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/five82/dovetail/internal/util"
)

// JSONReporter outputs one JSON event per line.
type JSONReporter struct {
	writer io.Writer
	mu     sync.Mutex
	now    func() time.Time
}

// NewJSONReporter creates a new JSON reporter that writes to stdout.
func NewJSONReporter() *JSONReporter {
	return NewJSONReporterWithWriter(os.Stdout)
}

// NewJSONReporterWithWriter creates a JSON reporter with a custom writer.
func NewJSONReporterWithWriter(w io.Writer) *JSONReporter {
	return &JSONReporter{writer: w, now: time.Now}
}

func (r *JSONReporter) write(event map[string]any) {
	event["timestamp"] = r.now().Unix()

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.writer, string(data))
}

func (r *JSONReporter) Hardware(summary HardwareSummary) {
	r.write(map[string]any{
		"type":           "hardware",
		"hostname":       summary.Hostname,
		"os":             summary.OS,
		"arch":           summary.Arch,
		"logical_cores":  summary.LogicalCores,
		"total_memory":   summary.TotalMemory,
		"cpu_slots":      summary.CPUSlots,
		"gpu_slots":      summary.GPUSlots,
		"parallel_jobs":  summary.ParallelJobs,
		"artifacts_root": summary.ArtifactsRoot,
	})
}

func (r *JSONReporter) BatchStarted(info BatchStartInfo) {
	r.write(map[string]any{
		"type":       "batch_started",
		"batch_id":   info.BatchID,
		"album":      info.Album,
		"output_dir": info.OutputDir,
		"preset":     info.Preset,
		"total":      info.Total,
		"to_process": info.ToProcess,
		"to_skip":    info.ToSkip,
		"deferred":   info.Deferred,
		"dry_run":    info.DryRun,
		"file_list":  info.FileList,
	})
}

func (r *JSONReporter) RunStarted(info RunStartInfo) {
	r.write(map[string]any{
		"type":           "run_started",
		"run_id":         info.RunID,
		"index":          info.Index,
		"total":          info.Total,
		"input_file":     info.InputFile,
		"output_file":    info.OutputFile,
		"preset":         info.Preset,
		"preset_summary": info.PresetSummary,
		"resolution":     info.Resolution,
		"dynamic_range":  info.DynamicRange,
		"duration":       info.Duration,
	})
}

func (r *JSONReporter) StageProgress(update StageProgress) {
	r.write(map[string]any{
		"type":    "stage_progress",
		"run_id":  update.RunID,
		"stage":   update.Stage,
		"index":   update.Index,
		"total":   update.Total,
		"message": update.Message,
	})
}

func (r *JSONReporter) StageComplete(outcome StageOutcome) {
	event := map[string]any{
		"type":             "stage_complete",
		"run_id":           outcome.RunID,
		"stage":            outcome.Stage,
		"status":           outcome.Status,
		"duration_seconds": outcome.Duration.Seconds(),
	}
	if outcome.Error != "" {
		event["error"] = outcome.Error
	}
	r.write(event)
}

func (r *JSONReporter) VerificationComplete(summary VerificationSummary) {
	findings := make([]map[string]string, len(summary.Findings))
	for i, f := range summary.Findings {
		findings[i] = map[string]string{"check": f.Check, "severity": f.Severity, "message": f.Message}
	}
	r.write(map[string]any{
		"type":        "verification_complete",
		"run_id":      summary.RunID,
		"output_file": summary.OutputFile,
		"status":      summary.Status,
		"compatible":  summary.Compatible,
		"findings":    findings,
	})
}

func (r *JSONReporter) RunComplete(outcome RunOutcome) {
	event := map[string]any{
		"type":                   "run_complete",
		"run_id":                 outcome.RunID,
		"input_file":             outcome.InputFile,
		"output_file":            outcome.OutputFile,
		"output_path":            outcome.OutputPath,
		"preset":                 outcome.Preset,
		"succeeded":              outcome.Succeeded,
		"input_size":             outcome.InputSize,
		"output_size":            outcome.OutputSize,
		"duration_seconds":       outcome.TotalTime.Seconds(),
		"speed":                  outcome.Speed,
		"size_reduction_percent": util.CalculateSizeReduction(outcome.InputSize, outcome.OutputSize),
	}
	if !outcome.Succeeded {
		event["failed_stage"] = outcome.FailedStage
		event["error"] = outcome.Error
	}
	r.write(event)
}

func (r *JSONReporter) Warning(message string) {
	r.write(map[string]any{
		"type":    "warning",
		"message": message,
	})
}

func (r *JSONReporter) Error(err ReporterError) {
	r.write(map[string]any{
		"type":       "error",
		"title":      err.Title,
		"message":    err.Message,
		"context":    err.Context,
		"suggestion": err.Suggestion,
	})
}

func (r *JSONReporter) BatchComplete(summary BatchSummary) {
	results := make([]map[string]any, len(summary.FileResults))
	for i, fr := range summary.FileResults {
		results[i] = map[string]any{"file": fr.Filename, "status": fr.Status, "reduction": fr.Reduction}
	}
	r.write(map[string]any{
		"type":                         "batch_complete",
		"batch_id":                     summary.BatchID,
		"total":                        summary.Total,
		"succeeded":                    summary.Succeeded,
		"failed":                       summary.Failed,
		"skipped":                      summary.Skipped,
		"copied":                       summary.Copied,
		"total_input_size":             summary.TotalInputSize,
		"total_output_size":            summary.TotalOutputSize,
		"total_duration_seconds":       summary.TotalDuration.Seconds(),
		"total_size_reduction_percent": util.CalculateSizeReduction(summary.TotalInputSize, summary.TotalOutputSize),
		"verification_passed":          summary.VerificationPassed,
		"verification_failed":          summary.VerificationFailed,
		"cancelled":                    summary.Cancelled,
		"file_results":                 results,
	})
}

func (r *JSONReporter) Verbose(message string) {
	r.write(map[string]any{
		"type":    "verbose",
		"message": message,
	})
}
