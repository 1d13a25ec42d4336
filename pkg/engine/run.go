package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/liuchzzyy/paperflow/pkg/models"
)

// run is the shared processing loop behind Start and Resume. The workflow
// record must already be persisted with status running. Bundles are fetched
// in chunks under the fetcher's concurrency gate; checkpoint mutation stays
// strictly sequential and the record is saved after every item outcome.
func (e *Engine) run(ctx context.Context, workflow *models.Workflow, allIDs []string, opts RunOptions) (*models.Summary, error) {
	logger := e.logger.With("workflow_id", workflow.ID)

	if err := e.checkpoints.Save(ctx, workflow); err != nil {
		return nil, NewStepError(StepFatal, "", fmt.Errorf("failed to save checkpoint: %w", err))
	}

	remaining := workflow.Remaining(allIDs)
	results := make([]models.ItemResult, 0, len(remaining))

	logger.Info("Processing items",
		"total_items", workflow.TotalItems, "remaining", len(remaining))

	// Keys failed in an earlier run are accounted yet still due a retry.
	retryable := make(map[string]bool, len(workflow.FailedKeys))
	for key := range workflow.FailedKeys {
		retryable[key] = true
	}

	batch := opts.fetchBatch()

	for start := 0; start < len(remaining); start += batch {
		end := min(start+batch, len(remaining))
		chunk := remaining[start:end]

		fetched := map[string]*models.Bundle{}
		for _, bundle := range e.fetcher.FetchMany(ctx, chunk, opts.fetchOptions()) {
			fetched[bundle.Key] = bundle
		}

		for _, key := range chunk {
			if err := ctx.Err(); err != nil {
				return e.interruptRun(ctx, workflow, results, err)
			}

			// A source can list the same key twice; the first outcome in
			// this run wins.
			if workflow.IsAccounted(key) && !retryable[key] {
				continue
			}

			delete(retryable, key)

			var result models.ItemResult

			bundle, ok := fetched[key]
			if !ok {
				stepErr := NewStepError(StepFetch, key, fmt.Errorf("bundle fetch failed"))
				workflow.MarkFailed(key, stepErr.Error())
				result = models.ItemResult{Key: key, Title: key, Error: stepErr.Error()}
			} else {
				result = e.processItem(ctx, workflow, bundle, opts)
			}

			results = append(results, result)

			if err := e.checkpoints.Save(ctx, workflow); err != nil {
				return e.failRun(ctx, workflow, results, fmt.Errorf("failed to save checkpoint after item %s: %w", key, err))
			}

			if opts.Progress != nil {
				opts.Progress(workflow.Accounted(), workflow.TotalItems, result.Title)
			}
		}
	}

	if err := workflow.TransitionTo(models.WorkflowStatusCompleted); err != nil {
		return e.failRun(ctx, workflow, results, err)
	}

	if err := e.checkpoints.Save(ctx, workflow); err != nil {
		return nil, NewStepError(StepFatal, "", fmt.Errorf("failed to save final checkpoint: %w", err))
	}

	summary := models.NewSummary(workflow, results)

	logger.Info("Workflow completed",
		"processed", summary.Processed, "skipped", summary.Skipped,
		"failed", summary.Failed, "can_resume", summary.CanResume)

	return summary, nil
}

// processItem runs the sequential pipeline for one fetched bundle: the
// skip-existing check, analysis, output persistence, then outcome marking on
// the workflow. A panic anywhere in the pipeline is confined to the item.
func (e *Engine) processItem(ctx context.Context, workflow *models.Workflow, bundle *models.Bundle, opts RunOptions) (result models.ItemResult) {
	start := time.Now()
	result = models.ItemResult{Key: bundle.Key, Title: bundle.Title()}

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stepErr := NewStepError(StepAnalyze, bundle.Key, fmt.Errorf("panic: %v", r))
			e.logger.Error("Recovered from panic while processing item",
				"workflow_id", workflow.ID, "item_key", bundle.Key, "panic", r)

			workflow.MarkFailed(bundle.Key, stepErr.Error())
			result.Success = false
			result.Error = stepErr.Error()
		}
	}()

	if opts.SkipExisting {
		exists, err := e.library.HasExistingOutput(ctx, bundle.Key)
		if err != nil {
			// Inconclusive check: process the item rather than silently skip.
			e.logger.Warn("Existing-output check failed, processing anyway",
				"workflow_id", workflow.ID, "item_key", bundle.Key, "error", err)
		} else if exists {
			workflow.MarkSkipped(bundle.Key)
			result.Skipped = true
			result.SkipReason = "output record already exists"

			return result
		}
	}

	content, err := e.analyzer.Analyze(ctx, bundle, opts.Analysis)
	if err != nil {
		stepErr := NewStepError(StepAnalyze, bundle.Key, err)
		workflow.MarkFailed(bundle.Key, stepErr.Error())
		result.Error = stepErr.Error()

		return result
	}

	outputKey, err := e.library.CreateOutputRecord(ctx, bundle.Key, content)
	if err != nil {
		stepErr := NewStepError(StepPersist, bundle.Key, err)
		workflow.MarkFailed(bundle.Key, stepErr.Error())
		result.Error = stepErr.Error()

		return result
	}

	workflow.MarkProcessed(bundle.Key)
	result.Success = true
	result.OutputKey = outputKey

	return result
}

// dryRun fetches what a real run would process and reports it without
// touching the checkpoint.
func (e *Engine) dryRun(ctx context.Context, workflow *models.Workflow, allIDs []string, opts RunOptions) *models.Summary {
	remaining := workflow.Remaining(allIDs)
	bundles := e.fetcher.FetchMany(ctx, remaining, opts.fetchOptions())

	would := make([]string, 0, len(bundles))
	for _, bundle := range bundles {
		would = append(would, bundle.Key)
	}

	summary := models.NewSummary(workflow, nil)
	summary.DryRun = true
	summary.WouldProcess = would

	e.logger.Info("Dry run finished",
		"workflow_id", workflow.ID, "would_process", len(would))

	return summary
}

// interruptRun handles context cancellation mid-run: the workflow is parked
// as paused so a later Resume picks up the unprocessed items. Failed status
// is reserved for genuine fatal errors.
func (e *Engine) interruptRun(ctx context.Context, workflow *models.Workflow, results []models.ItemResult, cause error) (*models.Summary, error) {
	e.logger.Info("Workflow run interrupted",
		"workflow_id", workflow.ID, "accounted", workflow.Accounted(), "total_items", workflow.TotalItems)

	if err := workflow.TransitionTo(models.WorkflowStatusPaused); err != nil {
		e.logger.Error("Failed to mark workflow paused", "workflow_id", workflow.ID, "error", err)
	}

	// The run context is already canceled; the final save must still land.
	if err := e.checkpoints.Save(context.WithoutCancel(ctx), workflow); err != nil {
		e.logger.Error("Failed to save interrupted workflow", "workflow_id", workflow.ID, "error", err)
	}

	return models.NewSummary(workflow, results), fmt.Errorf("run interrupted: %w", cause)
}

// failRun records a fatal run-level error on the workflow and returns the
// partial summary alongside the error. A failed run with item outcomes is
// still resumable when failed keys remain.
func (e *Engine) failRun(ctx context.Context, workflow *models.Workflow, results []models.ItemResult, cause error) (*models.Summary, error) {
	e.logger.Error("Workflow run failed",
		"workflow_id", workflow.ID, "error", cause)

	if workflow.Metadata == nil {
		workflow.Metadata = map[string]string{}
	}

	workflow.Metadata["last_error"] = cause.Error()

	if err := workflow.TransitionTo(models.WorkflowStatusFailed); err != nil {
		e.logger.Error("Failed to mark workflow failed", "workflow_id", workflow.ID, "error", err)
	}

	if err := e.checkpoints.Save(ctx, workflow); err != nil {
		e.logger.Error("Failed to save failed workflow", "workflow_id", workflow.ID, "error", err)
	}

	return models.NewSummary(workflow, results), NewStepError(StepFatal, "", cause)
}
