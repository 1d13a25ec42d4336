// Package models defines the core domain records for resumable batch-analysis workflows.
package models

import (
	"fmt"
	"slices"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow run.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"   // Processing loop may execute
	WorkflowStatusPaused    WorkflowStatus = "paused"    // Explicitly stopped, resumable
	WorkflowStatusCompleted WorkflowStatus = "completed" // Terminal, every item accounted for
	WorkflowStatusFailed    WorkflowStatus = "failed"    // Terminal, run-level error
)

// IsTerminal reports whether no further transition may leave the status.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

// SourceType names how a workflow's item set is derived.
type SourceType string

const (
	SourceTypeCollection SourceType = "collection" // Items of a named collection
	SourceTypeRecent     SourceType = "recent"     // The N most recently added items
)

// Workflow is the durable progress record of one batch-analysis run. It is
// owned by exactly one orchestrator at a time; every item outcome mutates it
// and the mutation is checkpointed before the next item starts.
type Workflow struct {
	ID               string            `json:"id"`
	SourceType       SourceType        `json:"source_type"       validate:"required,oneof=collection recent"`
	SourceIdentifier string            `json:"source_identifier" validate:"required"`
	TotalItems       int               `json:"total_items"       validate:"min=0"`
	ProcessedKeys    []string          `json:"processed_keys"`
	FailedKeys       map[string]string `json:"failed_keys"`
	SkippedKeys      []string          `json:"skipped_keys"`
	Status           WorkflowStatus    `json:"status"            validate:"required,oneof=running paused completed failed"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// NewWorkflow builds a fresh running workflow record. The ID is assigned by
// the checkpoint store.
func NewWorkflow(sourceType SourceType, sourceIdentifier string, totalItems int, metadata map[string]string) *Workflow {
	now := time.Now().UTC()

	return &Workflow{
		SourceType:       sourceType,
		SourceIdentifier: sourceIdentifier,
		TotalItems:       totalItems,
		ProcessedKeys:    []string{},
		FailedKeys:       map[string]string{},
		SkippedKeys:      []string{},
		Status:           WorkflowStatusRunning,
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata:         metadata,
	}
}

// MarkProcessed records a fully completed item. The key is removed from the
// failed and skipped groups first so the three groups stay disjoint.
func (w *Workflow) MarkProcessed(key string) {
	w.removeKey(key)
	w.ProcessedKeys = append(w.ProcessedKeys, key)
	w.touch()
}

// MarkFailed records an item-level failure with its last error message.
func (w *Workflow) MarkFailed(key, message string) {
	w.removeKey(key)

	if w.FailedKeys == nil {
		w.FailedKeys = map[string]string{}
	}

	w.FailedKeys[key] = message
	w.touch()
}

// MarkSkipped records an item deliberately not processed.
func (w *Workflow) MarkSkipped(key string) {
	w.removeKey(key)
	w.SkippedKeys = append(w.SkippedKeys, key)
	w.touch()
}

// Accounted returns how many items have a recorded outcome.
func (w *Workflow) Accounted() int {
	return len(w.ProcessedKeys) + len(w.FailedKeys) + len(w.SkippedKeys)
}

// IsAccounted reports whether the key already has any recorded outcome.
func (w *Workflow) IsAccounted(key string) bool {
	if _, ok := w.FailedKeys[key]; ok {
		return true
	}

	return slices.Contains(w.ProcessedKeys, key) || slices.Contains(w.SkippedKeys, key)
}

// Remaining returns, in input order, the IDs not yet processed or skipped.
// Failed keys stay remaining: a resumed run retries exactly the failures.
func (w *Workflow) Remaining(allIDs []string) []string {
	remaining := make([]string, 0, len(allIDs))

	for _, id := range allIDs {
		if slices.Contains(w.ProcessedKeys, id) || slices.Contains(w.SkippedKeys, id) {
			continue
		}

		remaining = append(remaining, id)
	}

	return remaining
}

// TransitionTo moves the workflow to the requested status, rejecting any
// transition out of a terminal state and any other move the lifecycle does
// not allow.
func (w *Workflow) TransitionTo(next WorkflowStatus) error {
	if w.Status == next {
		return nil
	}

	allowed := map[WorkflowStatus][]WorkflowStatus{
		WorkflowStatusRunning: {WorkflowStatusPaused, WorkflowStatusCompleted, WorkflowStatusFailed},
		WorkflowStatusPaused:  {WorkflowStatusRunning},
	}

	for _, candidate := range allowed[w.Status] {
		if candidate == next {
			w.Status = next
			w.touch()

			return nil
		}
	}

	return fmt.Errorf("invalid workflow status transition %q -> %q", w.Status, next)
}

func (w *Workflow) touch() {
	w.UpdatedAt = time.Now().UTC()
}

func (w *Workflow) removeKey(key string) {
	w.ProcessedKeys = removeKey(w.ProcessedKeys, key)
	w.SkippedKeys = removeKey(w.SkippedKeys, key)
	delete(w.FailedKeys, key)
}

func removeKey(keys []string, key string) []string {
	if i := slices.Index(keys, key); i >= 0 {
		return append(keys[:i], keys[i+1:]...)
	}

	return keys
}
