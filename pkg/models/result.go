package models

import "time"

// ItemResult is the transient per-item outcome of one run. Only the
// aggregate counts survive in the workflow record; the full results are
// returned to the caller and optionally streamed through a progress callback.
type ItemResult struct {
	Key        string        `json:"key"`
	Title      string        `json:"title"`
	Success    bool          `json:"success"`
	OutputKey  string        `json:"output_key,omitempty"`
	Error      string        `json:"error,omitempty"`
	Skipped    bool          `json:"skipped"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Summary is what a run hands back to its caller.
type Summary struct {
	WorkflowID string         `json:"workflow_id"`
	TotalItems int            `json:"total_items"`
	Processed  int            `json:"processed"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Status     WorkflowStatus `json:"status"`

	// CanResume is true whenever retryable work remains: failed keys (the
	// re-derived remaining set includes every failed key but none of the
	// processed or skipped ones) or a paused run with unprocessed items.
	CanResume bool `json:"can_resume"`

	// DryRun reporting: what a real run would have processed.
	DryRun       bool     `json:"dry_run,omitempty"`
	WouldProcess []string `json:"would_process,omitempty"`

	Results []ItemResult `json:"results,omitempty"`
}

// NewSummary derives the caller-facing summary from a workflow record.
func NewSummary(w *Workflow, results []ItemResult) *Summary {
	return &Summary{
		WorkflowID: w.ID,
		TotalItems: w.TotalItems,
		Processed:  len(w.ProcessedKeys),
		Skipped:    len(w.SkippedKeys),
		Failed:     len(w.FailedKeys),
		Status:     w.Status,
		CanResume:  len(w.FailedKeys) > 0 || w.Status == WorkflowStatusPaused,
		Results:    results,
	}
}
