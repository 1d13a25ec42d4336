package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuchzzyy/paperflow/pkg/analysis"
	"github.com/liuchzzyy/paperflow/pkg/checkpoint"
	"github.com/liuchzzyy/paperflow/pkg/checkpoint/file"
	"github.com/liuchzzyy/paperflow/pkg/fetcher"
	"github.com/liuchzzyy/paperflow/pkg/models"
)

type fakeLibrary struct {
	mu sync.Mutex

	order      []string
	items      map[string]*models.ItemMetadata
	children   map[string][]models.Attachment
	fullText   map[string]string
	hasOutput  map[string]bool
	outputs    map[string]string
	failCreate map[string]bool
	failCheck  bool
	resolveErr error

	createCalls int
}

func newFakeLibrary(keys ...string) *fakeLibrary {
	lib := &fakeLibrary{
		order:      keys,
		items:      map[string]*models.ItemMetadata{},
		children:   map[string][]models.Attachment{},
		fullText:   map[string]string{},
		hasOutput:  map[string]bool{},
		outputs:    map[string]string{},
		failCreate: map[string]bool{},
	}

	for _, key := range keys {
		lib.items[key] = &models.ItemMetadata{Key: key, Title: "Paper " + key}
	}

	return lib
}

func (f *fakeLibrary) GetItem(_ context.Context, key string) (*models.ItemMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[key]
	if !ok {
		return nil, fmt.Errorf("no such item %s", key)
	}

	return item, nil
}

func (f *fakeLibrary) GetItemChildren(_ context.Context, key string) ([]models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.children[key], nil
}

func (f *fakeLibrary) GetFullText(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	text, ok := f.fullText[key]

	return text, ok, nil
}

func (f *fakeLibrary) GetAnnotations(context.Context, string) ([]models.Annotation, error) {
	return nil, nil
}

func (f *fakeLibrary) HasExistingOutput(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCheck {
		return false, errors.New("children endpoint unavailable")
	}

	return f.hasOutput[key], nil
}

func (f *fakeLibrary) CreateOutputRecord(_ context.Context, key, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++

	if f.failCreate[key] {
		return "", errors.New("write rejected")
	}

	f.outputs[key] = content
	f.hasOutput[key] = true

	return "note-" + key, nil
}

func (f *fakeLibrary) ListCollectionItems(_ context.Context, _ string) ([]string, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}

	return f.order, nil
}

func (f *fakeLibrary) ListRecentItems(_ context.Context, limit int) ([]string, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}

	if limit > len(f.order) {
		limit = len(f.order)
	}

	return f.order[:limit], nil
}

type fakeAnalyzer struct {
	mu sync.Mutex

	calls      map[string]int
	failFor    map[string]bool
	panicFor   map[string]bool
	lastOpts   analysis.Options
	lastBundle *models.Bundle
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		calls:    map[string]int{},
		failFor:  map[string]bool{},
		panicFor: map[string]bool{},
	}
}

func (f *fakeAnalyzer) Analyze(_ context.Context, bundle *models.Bundle, opts analysis.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[bundle.Key]++
	f.lastOpts = opts
	f.lastBundle = bundle

	if f.panicFor[bundle.Key] {
		panic("analyzer exploded on " + bundle.Key)
	}

	if f.failFor[bundle.Key] {
		return "", errors.New("model overloaded")
	}

	return "analysis of " + bundle.Key, nil
}

func (f *fakeAnalyzer) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[key]
}

func newTestEngine(t *testing.T, library *fakeLibrary, analyzer *fakeAnalyzer) (*Engine, checkpoint.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewStore(t.TempDir())

	return New(store, library, fetcher.New(library, logger), analyzer, logger), store
}

func TestStart_ProcessesAllItems(t *testing.T) {
	library := newFakeLibrary("A", "B", "C")
	analyzer := newFakeAnalyzer()
	engine, store := newTestEngine(t, library, analyzer)

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalItems)
	assert.Equal(t, 3, summary.Processed)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, models.WorkflowStatusCompleted, summary.Status)
	assert.False(t, summary.CanResume)

	assert.Equal(t, "analysis of B", library.outputs["B"])

	stored, err := store.Load(t.Context(), summary.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, stored.ProcessedKeys)
}

func TestStart_ItemFailureIsIsolated(t *testing.T) {
	library := newFakeLibrary("A", "B", "C")
	analyzer := newFakeAnalyzer()
	analyzer.failFor["B"] = true
	engine, _ := newTestEngine(t, library, analyzer)

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.WorkflowStatusCompleted, summary.Status)
	assert.True(t, summary.CanResume)

	require.Len(t, summary.Results, 3)
	assert.True(t, summary.Results[0].Success)
	assert.False(t, summary.Results[1].Success)
	assert.Contains(t, summary.Results[1].Error, "analyze")
	assert.True(t, summary.Results[2].Success)
}

func TestResume_RetriesOnlyFailures(t *testing.T) {
	library := newFakeLibrary("A", "B", "C")
	analyzer := newFakeAnalyzer()
	analyzer.failFor["B"] = true
	engine, _ := newTestEngine(t, library, analyzer)

	first, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)
	require.True(t, first.CanResume)

	analyzer.failFor["B"] = false

	second, err := engine.Resume(t.Context(), first.WorkflowID, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, second.Processed)
	assert.Zero(t, second.Failed)
	assert.False(t, second.CanResume)
	assert.Equal(t, models.WorkflowStatusCompleted, second.Status)

	// Succeeded items are not re-analyzed on resume.
	assert.Equal(t, 1, analyzer.callCount("A"))
	assert.Equal(t, 2, analyzer.callCount("B"))
	assert.Equal(t, 1, analyzer.callCount("C"))
}

func TestResume_CompletedWithoutFailures(t *testing.T) {
	library := newFakeLibrary("A")
	analyzer := newFakeAnalyzer()
	engine, _ := newTestEngine(t, library, analyzer)

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)

	_, err = engine.Resume(t.Context(), summary.WorkflowID, RunOptions{})
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestResume_UnknownWorkflow(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeLibrary("A"), newFakeAnalyzer())

	_, err := engine.Resume(t.Context(), "wf-missing", RunOptions{})
	assert.ErrorIs(t, err, checkpoint.ErrWorkflowNotFound)
}

func TestResume_UsesStoredAnalysisSettings(t *testing.T) {
	library := newFakeLibrary("A", "B")
	analyzer := newFakeAnalyzer()
	analyzer.failFor["B"] = true
	engine, _ := newTestEngine(t, library, analyzer)

	first, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{
		Analysis: analysis.Options{Model: "claude-opus", MaxTokens: 1234},
	})
	require.NoError(t, err)

	analyzer.failFor["B"] = false

	_, err = engine.Resume(t.Context(), first.WorkflowID, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, "claude-opus", analyzer.lastOpts.Model)
	assert.Equal(t, 1234, analyzer.lastOpts.MaxTokens)
}

func TestResume_ExplicitOptionOverridesStored(t *testing.T) {
	library := newFakeLibrary("A", "B")
	analyzer := newFakeAnalyzer()
	analyzer.failFor["B"] = true
	engine, _ := newTestEngine(t, library, analyzer)

	first, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{
		Analysis: analysis.Options{Model: "claude-opus"},
	})
	require.NoError(t, err)

	analyzer.failFor["B"] = false

	_, err = engine.Resume(t.Context(), first.WorkflowID, RunOptions{
		Analysis: analysis.Options{Model: "claude-haiku"},
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-haiku", analyzer.lastOpts.Model)
}

func TestStart_IncludeChildrenReachesAnalyzer(t *testing.T) {
	library := newFakeLibrary("A")
	library.children["A"] = []models.Attachment{
		{Key: "ATT1", Title: "paper.pdf", ItemType: "attachment", ContentType: "application/pdf"},
	}

	analyzer := newFakeAnalyzer()
	engine, _ := newTestEngine(t, library, analyzer)

	_, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{IncludeChildren: true})
	require.NoError(t, err)

	require.NotNil(t, analyzer.lastBundle)
	assert.True(t, analyzer.lastBundle.HasChildren)
	require.Len(t, analyzer.lastBundle.Children, 1)
	assert.Equal(t, "paper.pdf", analyzer.lastBundle.Children[0].Title)
}

func TestStart_DuplicateListingGetsOneOutcome(t *testing.T) {
	library := newFakeLibrary("A", "B")
	library.order = []string{"A", "A", "B"}

	analyzer := newFakeAnalyzer()
	engine, _ := newTestEngine(t, library, analyzer)

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, analyzer.callCount("A"))
	assert.Equal(t, 2, library.createCalls)
	require.Len(t, summary.Results, 2)
}

func TestStart_SkipExisting(t *testing.T) {
	library := newFakeLibrary("A", "B", "C")
	library.hasOutput["A"] = true
	library.hasOutput["B"] = true
	library.hasOutput["C"] = true

	analyzer := newFakeAnalyzer()
	engine, _ := newTestEngine(t, library, analyzer)

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{SkipExisting: true})
	require.NoError(t, err)

	assert.Zero(t, summary.Processed)
	assert.Equal(t, 3, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, analyzer.callCount("A"))
	assert.Zero(t, library.createCalls)
}

func TestStart_SkipCheckFailureProcessesAnyway(t *testing.T) {
	library := newFakeLibrary("A")
	library.failCheck = true

	analyzer := newFakeAnalyzer()
	engine, _ := newTestEngine(t, library, analyzer)

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{SkipExisting: true})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Skipped)
}

func TestStart_DryRunLeavesNoCheckpoint(t *testing.T) {
	library := newFakeLibrary("A", "B")
	analyzer := newFakeAnalyzer()
	engine, store := newTestEngine(t, library, analyzer)

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, []string{"A", "B"}, summary.WouldProcess)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, analyzer.callCount("A"))
	assert.Zero(t, library.createCalls)

	workflows, err := store.List(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestResume_DryRunDoesNotMutate(t *testing.T) {
	library := newFakeLibrary("A", "B")
	analyzer := newFakeAnalyzer()
	analyzer.failFor["B"] = true
	engine, store := newTestEngine(t, library, analyzer)

	first, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)

	summary, err := engine.Resume(t.Context(), first.WorkflowID, RunOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, []string{"B"}, summary.WouldProcess)

	stored, err := store.Load(t.Context(), first.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)
	assert.Len(t, stored.FailedKeys, 1)
}

func TestStart_SourceResolutionFailureIsFatal(t *testing.T) {
	library := newFakeLibrary("A")
	library.resolveErr = errors.New("library unreachable")
	engine, _ := newTestEngine(t, library, newFakeAnalyzer())

	_, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrSourceResolution)
}

func TestStart_InvalidSource(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeLibrary("A"), newFakeAnalyzer())

	_, err := engine.Start(t.Context(), models.Source{}, RunOptions{})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestStart_RecentSourceInvalidCount(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeLibrary("A"), newFakeAnalyzer())

	_, err := engine.Start(t.Context(), models.RecentSource("many"), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceResolution)
}

func TestStart_RecentSourceLimitsItems(t *testing.T) {
	library := newFakeLibrary("A", "B", "C")
	engine, _ := newTestEngine(t, library, newFakeAnalyzer())

	summary, err := engine.Start(t.Context(), models.RecentSource("2"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalItems)
	assert.Equal(t, 2, summary.Processed)
}

func TestStart_PersistFailureMarksItemFailed(t *testing.T) {
	library := newFakeLibrary("A", "B")
	library.failCreate["A"] = true
	engine, _ := newTestEngine(t, library, newFakeAnalyzer())

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[0].Error, "persist")
}

func TestStart_PanicIsConfinedToItem(t *testing.T) {
	library := newFakeLibrary("A", "B", "C")
	analyzer := newFakeAnalyzer()
	analyzer.panicFor["B"] = true
	engine, _ := newTestEngine(t, library, analyzer)

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[1].Error, "panic")
}

func TestStart_FetchFailureMarksItemFailed(t *testing.T) {
	library := newFakeLibrary("A", "B")
	delete(library.items, "B")
	engine, _ := newTestEngine(t, library, newFakeAnalyzer())

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[1].Error, "fetch")
	assert.True(t, summary.CanResume)
}

func TestStart_ProgressCallbackOrder(t *testing.T) {
	library := newFakeLibrary("A", "B", "C")
	engine, _ := newTestEngine(t, library, newFakeAnalyzer())

	type call struct {
		completed int
		total     int
		title     string
	}

	var calls []call

	opts := RunOptions{
		Progress: func(completed, total int, title string) {
			calls = append(calls, call{completed, total, title})
		},
	}

	_, err := engine.Start(t.Context(), models.CollectionSource("papers"), opts)
	require.NoError(t, err)

	require.Len(t, calls, 3)
	assert.Equal(t, call{1, 3, "Paper A"}, calls[0])
	assert.Equal(t, call{2, 3, "Paper B"}, calls[1])
	assert.Equal(t, call{3, 3, "Paper C"}, calls[2])
}

func TestStart_SavesCheckpointAfterEveryItem(t *testing.T) {
	library := newFakeLibrary("A", "B", "C")
	engine, store := newTestEngine(t, library, newFakeAnalyzer())

	var workflowID string

	seen := make([]int, 0, 3)

	// The record on disk must already reflect each item's outcome when the
	// progress callback fires. The ID is discovered through the store because
	// Create happens inside Start.
	opts := RunOptions{
		Progress: func(completed, _ int, _ string) {
			if workflowID == "" {
				all, listErr := store.List(t.Context(), nil)
				require.NoError(t, listErr)
				require.Len(t, all, 1)
				workflowID = all[0].ID
			}

			stored, loadErr := store.Load(t.Context(), workflowID)
			require.NoError(t, loadErr)
			seen = append(seen, len(stored.ProcessedKeys))
			assert.Equal(t, completed, stored.Accounted())
		},
	}

	_, err := engine.Start(t.Context(), models.CollectionSource("papers"), opts)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestPauseAndResume(t *testing.T) {
	library := newFakeLibrary("A", "B")
	analyzer := newFakeAnalyzer()
	analyzer.failFor["A"] = true
	analyzer.failFor["B"] = true
	engine, _ := newTestEngine(t, library, analyzer)

	first, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)

	// A completed record cannot be paused, even with failures remaining.
	paused, err := engine.Pause(t.Context(), first.WorkflowID)
	require.Error(t, err)
	assert.Nil(t, paused)

	analyzer.failFor["A"] = false
	analyzer.failFor["B"] = false

	second, err := engine.Resume(t.Context(), first.WorkflowID, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Processed)
}

func TestStart_CancelMidRunParksWorkflowPaused(t *testing.T) {
	library := newFakeLibrary("A", "B", "C")
	analyzer := newFakeAnalyzer()
	engine, store := newTestEngine(t, library, analyzer)

	ctx, cancel := context.WithCancel(t.Context())

	opts := RunOptions{
		FetchBatch: 1,
		Progress: func(completed, _ int, _ string) {
			if completed == 1 {
				cancel()
			}
		},
	}

	summary, err := engine.Start(ctx, models.CollectionSource("papers"), opts)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsFatal(err))

	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, models.WorkflowStatusPaused, summary.Status)
	assert.True(t, summary.CanResume)

	stored, err := store.Load(t.Context(), summary.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPaused, stored.Status)
	assert.Empty(t, stored.FailedKeys)

	second, err := engine.Resume(t.Context(), summary.WorkflowID, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, second.Processed)
	assert.Equal(t, models.WorkflowStatusCompleted, second.Status)

	// The item finished before the interruption is not re-analyzed.
	assert.Equal(t, 1, analyzer.callCount("A"))
}

func TestResume_FailedRunWithUnaccountedItems(t *testing.T) {
	library := newFakeLibrary("A", "B", "C")
	engine, store := newTestEngine(t, library, newFakeAnalyzer())

	// A run that died to a fatal error leaves a failed record with items
	// never accounted for. Those must stay reachable.
	workflow, err := store.Create(t.Context(), models.SourceTypeCollection, "papers", 3, nil)
	require.NoError(t, err)
	workflow.MarkProcessed("A")
	require.NoError(t, workflow.TransitionTo(models.WorkflowStatusFailed))
	require.NoError(t, store.Save(t.Context(), workflow))

	summary, err := engine.Resume(t.Context(), workflow.ID, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, models.WorkflowStatusCompleted, summary.Status)
}

func TestPause_InterruptedRunIsResumable(t *testing.T) {
	library := newFakeLibrary("A", "B")
	engine, store := newTestEngine(t, library, newFakeAnalyzer())

	// A record left in running models a run whose process died mid-flight.
	workflow, err := store.Create(t.Context(), models.SourceTypeCollection, "papers", 2, nil)
	require.NoError(t, err)

	paused, err := engine.Pause(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPaused, paused.Status)

	summary, err := engine.Resume(t.Context(), workflow.ID, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, models.WorkflowStatusCompleted, summary.Status)
}

func TestDelete(t *testing.T) {
	library := newFakeLibrary("A")
	engine, _ := newTestEngine(t, library, newFakeAnalyzer())

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{})
	require.NoError(t, err)

	existed, err := engine.Delete(t.Context(), summary.WorkflowID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = engine.Get(t.Context(), summary.WorkflowID)
	assert.ErrorIs(t, err, checkpoint.ErrWorkflowNotFound)
}

func TestStart_FetchBatchChunksWork(t *testing.T) {
	library := newFakeLibrary("A", "B", "C", "D", "E")
	engine, _ := newTestEngine(t, library, newFakeAnalyzer())

	summary, err := engine.Start(t.Context(), models.CollectionSource("papers"), RunOptions{FetchBatch: 2})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Processed)
	require.Len(t, summary.Results, 5)

	for i, key := range []string{"A", "B", "C", "D", "E"} {
		assert.Equal(t, key, summary.Results[i].Key)
	}
}
