// Package file provides file-based checkpoint storage, one JSON document per
// workflow record.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liuchzzyy/paperflow/pkg/checkpoint"
	"github.com/liuchzzyy/paperflow/pkg/models"
)

// Store implements checkpoint.Store on the local file system. Records live
// under <root>/workflows/<id>.json and every save is write-to-temp-then-rename
// so a crash never leaves a partial record behind.
type Store struct {
	root string
}

// NewStore creates a file-backed checkpoint store rooted at the given
// directory. A "file://" prefix on the root is accepted and stripped.
func NewStore(root string) *Store {
	return &Store{root: strings.TrimPrefix(root, "file://")}
}

func (s *Store) workflowsDir() string {
	return filepath.Join(s.root, "workflows")
}

func (s *Store) recordPath(id string) string {
	return filepath.Clean(filepath.Join(s.workflowsDir(), id+".json"))
}

// Create allocates an ID, persists the fresh record, and returns it.
func (s *Store) Create(ctx context.Context, sourceType models.SourceType, sourceIdentifier string, totalItems int, metadata map[string]string) (*models.Workflow, error) {
	workflow := models.NewWorkflow(sourceType, sourceIdentifier, totalItems, metadata)
	workflow.ID = "wf-" + uuid.New().String()

	if err := s.Save(ctx, workflow); err != nil {
		return nil, checkpoint.NewStoreError("Create", workflow.ID, err)
	}

	return workflow, nil
}

// Save writes the full record atomically, stamping UpdatedAt.
func (s *Store) Save(_ context.Context, workflow *models.Workflow) error {
	if err := os.MkdirAll(s.workflowsDir(), 0750); err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	workflow.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	finalPath := s.recordPath(workflow.ID)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write workflow %s: %w", workflow.ID, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to finalize workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// Load reads one record, returning ErrWorkflowNotFound for missing IDs.
func (s *Store) Load(_ context.Context, id string) (*models.Workflow, error) {
	body, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, checkpoint.NewStoreError("Load", id, checkpoint.ErrWorkflowNotFound)
		}

		return nil, checkpoint.NewStoreError("Load", id, err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(body, &workflow); err != nil {
		return nil, checkpoint.NewStoreError("Load", id, fmt.Errorf("failed to unmarshal record: %w", err))
	}

	return &workflow, nil
}

// List returns all records sorted by UpdatedAt descending, optionally
// filtered by status.
func (s *Store) List(ctx context.Context, statusFilter *models.WorkflowStatus) ([]*models.Workflow, error) {
	workflows, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	if statusFilter != nil {
		filtered := make([]*models.Workflow, 0, len(workflows))

		for _, w := range workflows {
			if w.Status == *statusFilter {
				filtered = append(filtered, w)
			}
		}

		workflows = filtered
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].UpdatedAt.After(workflows[j].UpdatedAt)
	})

	return workflows, nil
}

// Delete removes a record, reporting whether it existed.
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	err := os.Remove(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, checkpoint.NewStoreError("Delete", id, err)
	}

	return true, nil
}

// PruneOlderThan removes terminal records whose UpdatedAt predates the
// cutoff. Running and paused records are left untouched.
func (s *Store) PruneOlderThan(ctx context.Context, age time.Duration) (int, error) {
	workflows, err := s.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-age)
	pruned := 0

	for _, w := range workflows {
		if !w.Status.IsTerminal() || !w.UpdatedAt.Before(cutoff) {
			continue
		}

		removed, err := s.Delete(ctx, w.ID)
		if err != nil {
			return pruned, err
		}

		if removed {
			pruned++
		}
	}

	return pruned, nil
}

// HealthCheck verifies the root directory exists.
func (s *Store) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file storage there is nothing to
// clean up.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func (s *Store) loadAll(ctx context.Context) ([]*models.Workflow, error) {
	root := os.DirFS(s.workflowsDir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, checkpoint.NewStoreError("List", "", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id := strings.TrimSuffix(file, ".json")

		workflow, err := s.Load(ctx, id)
		if err != nil {
			// A record deleted between glob and read is not an error.
			if checkpoint.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}
