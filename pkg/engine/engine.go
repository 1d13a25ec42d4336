// Package engine orchestrates resumable batch-analysis workflows: it resolves
// an item set, fetches bundles in bounded-concurrency chunks, analyzes and
// persists each item sequentially, and checkpoints progress after every item
// so an interrupted run resumes where it stopped.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/liuchzzyy/paperflow/pkg/analysis"
	"github.com/liuchzzyy/paperflow/pkg/checkpoint"
	"github.com/liuchzzyy/paperflow/pkg/fetcher"
	"github.com/liuchzzyy/paperflow/pkg/itemstore"
	"github.com/liuchzzyy/paperflow/pkg/models"
)

// DefaultFetchBatch is how many remaining items are handed to the fetcher at
// a time. Fetching stays ahead of the sequential processing loop without
// buffering the whole item set.
const DefaultFetchBatch = 10

// ProgressFunc receives one synchronous call after each item outcome, in item
// order. Completed counts every accounted item, including skips and failures.
type ProgressFunc func(completed, total int, title string)

// RunOptions tune a single Start or Resume call.
type RunOptions struct {
	// SkipExisting marks items that already carry an output record as
	// skipped instead of re-analyzing them.
	SkipExisting bool

	// DryRun resolves and fetches but never analyzes, persists output, or
	// mutates the checkpoint.
	DryRun bool

	// FetchBatch is the chunk size handed to the fetcher; zero means
	// DefaultFetchBatch.
	FetchBatch int

	// Concurrency caps in-flight bundle fetches; zero means the fetcher's
	// default.
	Concurrency int

	IncludeFullText    bool
	IncludeAnnotations bool
	IncludeChildren    bool

	Analysis analysis.Options
	Progress ProgressFunc
}

func (o RunOptions) fetchBatch() int {
	if o.FetchBatch <= 0 {
		return DefaultFetchBatch
	}

	return o.FetchBatch
}

func (o RunOptions) fetchOptions() fetcher.Options {
	return fetcher.Options{
		IncludeFullText:    o.IncludeFullText,
		IncludeAnnotations: o.IncludeAnnotations,
		IncludeChildren:    o.IncludeChildren,
		Concurrency:        o.Concurrency,
	}
}

// Engine drives workflows end to end. All collaborators are injected; the
// engine owns no I/O of its own besides logging.
type Engine struct {
	checkpoints checkpoint.Store
	library     itemstore.Library
	fetcher     *fetcher.Fetcher
	analyzer    analysis.Analyzer
	validate    *validator.Validate
	logger      *slog.Logger
}

// New creates an engine over the given collaborators.
func New(
	checkpoints checkpoint.Store,
	library itemstore.Library,
	bundleFetcher *fetcher.Fetcher,
	analyzer analysis.Analyzer,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		checkpoints: checkpoints,
		library:     library,
		fetcher:     bundleFetcher,
		analyzer:    analyzer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
	}
}

// Start resolves the source into an item set, creates a checkpoint record and
// runs the processing loop over it. With DryRun set, no record is created and
// the summary reports what a real run would process.
func (e *Engine) Start(ctx context.Context, source models.Source, opts RunOptions) (*models.Summary, error) {
	if err := e.validate.Struct(source); err != nil {
		return nil, NewStepError(StepFatal, "", fmt.Errorf("invalid source: %w", err))
	}

	ids, err := e.resolveSource(ctx, source)
	if err != nil {
		return nil, NewStepError(StepFatal, "", fmt.Errorf("%w: %w", ErrSourceResolution, err))
	}

	e.logger.Info("Resolved workflow item set",
		"source_type", source.Type, "source_identifier", source.Identifier, "total_items", len(ids))

	if opts.DryRun {
		workflow := models.NewWorkflow(source.Type, source.Identifier, len(ids), nil)

		return e.dryRun(ctx, workflow, ids, opts), nil
	}

	workflow, err := e.checkpoints.Create(ctx, source.Type, source.Identifier, len(ids), metadataFromOptions(opts))
	if err != nil {
		return nil, NewStepError(StepFatal, "", fmt.Errorf("failed to create checkpoint: %w", err))
	}

	return e.run(ctx, workflow, ids, opts)
}

// Resume reloads a workflow record, re-resolves its item set and continues
// processing the remaining items. Failed keys are part of the remaining set,
// so resuming a run with failures retries exactly those. Analysis settings
// stored at Start time win over zero-valued options; explicitly set options
// override the stored ones.
func (e *Engine) Resume(ctx context.Context, workflowID string, opts RunOptions) (*models.Summary, error) {
	workflow, err := e.checkpoints.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	if !resumable(workflow) {
		return nil, fmt.Errorf("workflow %s is %s: %w", workflowID, workflow.Status, ErrNotResumable)
	}

	opts = mergeStoredOptions(workflow.Metadata, opts)

	ids, err := e.resolveSource(ctx, models.Source{Type: workflow.SourceType, Identifier: workflow.SourceIdentifier})
	if err != nil {
		return e.failRun(ctx, workflow, nil, fmt.Errorf("%w: %w", ErrSourceResolution, err))
	}

	if len(ids) != workflow.TotalItems {
		e.logger.Warn("Item set changed since the workflow was created",
			"workflow_id", workflow.ID, "was", workflow.TotalItems, "now", len(ids))

		workflow.TotalItems = len(ids)
	}

	if opts.DryRun {
		return e.dryRun(ctx, workflow, ids, opts), nil
	}

	if err := e.reopen(workflow); err != nil {
		return nil, err
	}

	e.logger.Info("Resuming workflow",
		"workflow_id", workflow.ID, "remaining", len(workflow.Remaining(ids)))

	return e.run(ctx, workflow, ids, opts)
}

// Get returns one workflow record.
func (e *Engine) Get(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return e.checkpoints.Load(ctx, workflowID)
}

// List returns workflow records, optionally filtered by status.
func (e *Engine) List(ctx context.Context, statusFilter *models.WorkflowStatus) ([]*models.Workflow, error) {
	return e.checkpoints.List(ctx, statusFilter)
}

// Delete removes a workflow record, reporting whether it existed.
func (e *Engine) Delete(ctx context.Context, workflowID string) (bool, error) {
	return e.checkpoints.Delete(ctx, workflowID)
}

// Prune removes terminal records older than the given age.
func (e *Engine) Prune(ctx context.Context, age time.Duration) (int, error) {
	return e.checkpoints.PruneOlderThan(ctx, age)
}

// Pause marks a running workflow as paused so a later Resume picks it up. It
// does not signal a live processing loop; it records operator intent on the
// checkpoint.
func (e *Engine) Pause(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := e.checkpoints.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	if err := workflow.TransitionTo(models.WorkflowStatusPaused); err != nil {
		return nil, err
	}

	if err := e.checkpoints.Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow %s: %w", workflowID, err)
	}

	return workflow, nil
}

func (e *Engine) resolveSource(ctx context.Context, source models.Source) ([]string, error) {
	switch source.Type {
	case models.SourceTypeCollection:
		return e.library.ListCollectionItems(ctx, source.Identifier)
	case models.SourceTypeRecent:
		limit, err := strconv.Atoi(source.Identifier)
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("recent source needs a positive item count, got %q", source.Identifier)
		}

		return e.library.ListRecentItems(ctx, limit)
	default:
		return nil, fmt.Errorf("unknown source type %q", source.Type)
	}
}

// resumable reports whether retryable work remains: a non-terminal record, or
// a terminal one holding failed keys or items that never got an outcome.
func resumable(workflow *models.Workflow) bool {
	if !workflow.Status.IsTerminal() {
		return true
	}

	return len(workflow.FailedKeys) > 0 || workflow.Accounted() < workflow.TotalItems
}

// reopen puts a resumable workflow back into running. The resume path is the
// one sanctioned exit from a terminal status, and only while retryable work
// remains.
func (e *Engine) reopen(workflow *models.Workflow) error {
	switch workflow.Status {
	case models.WorkflowStatusRunning:
		return nil
	case models.WorkflowStatusPaused:
		return workflow.TransitionTo(models.WorkflowStatusRunning)
	case models.WorkflowStatusCompleted, models.WorkflowStatusFailed:
		if !resumable(workflow) {
			return fmt.Errorf("workflow %s is %s: %w", workflow.ID, workflow.Status, ErrNotResumable)
		}

		workflow.Status = models.WorkflowStatusRunning

		return nil
	default:
		return fmt.Errorf("workflow %s has unknown status %q", workflow.ID, workflow.Status)
	}
}

// metadataFromOptions records the analysis settings on the workflow so a
// resume reproduces the original run's configuration.
func metadataFromOptions(opts RunOptions) map[string]string {
	metadata := map[string]string{}

	if opts.Analysis.Model != "" {
		metadata["model"] = opts.Analysis.Model
	}

	if opts.Analysis.MaxTokens > 0 {
		metadata["max_tokens"] = strconv.Itoa(opts.Analysis.MaxTokens)
	}

	if opts.Analysis.Temperature > 0 {
		metadata["temperature"] = strconv.FormatFloat(opts.Analysis.Temperature, 'f', -1, 64)
	}

	if opts.SkipExisting {
		metadata["skip_existing"] = "true"
	}

	return metadata
}

// mergeStoredOptions fills unset analysis options from the metadata stored at
// Start time. Options the caller set explicitly are kept as-is.
func mergeStoredOptions(metadata map[string]string, opts RunOptions) RunOptions {
	if opts.Analysis.Model == "" {
		opts.Analysis.Model = metadata["model"]
	}

	if opts.Analysis.MaxTokens == 0 {
		if v, err := strconv.Atoi(metadata["max_tokens"]); err == nil {
			opts.Analysis.MaxTokens = v
		}
	}

	if opts.Analysis.Temperature == 0 {
		if v, err := strconv.ParseFloat(metadata["temperature"], 64); err == nil {
			opts.Analysis.Temperature = v
		}
	}

	if metadata["skip_existing"] == "true" {
		opts.SkipExisting = true
	}

	return opts
}
