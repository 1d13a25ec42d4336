// Package checkpoint provides durable storage for workflow progress records.
package checkpoint

import (
	"context"
	"time"

	"github.com/liuchzzyy/paperflow/pkg/models"
)

// Store persists workflow records keyed by workflow ID. Implementations need
// no cross-process locking: the orchestrator guarantees a single writer per
// workflow, and concurrent saves of the same ID from two processes are out of
// contract.
type Store interface {
	// Create allocates a fresh workflow ID, persists the record with status
	// running, and returns it.
	Create(ctx context.Context, sourceType models.SourceType, sourceIdentifier string, totalItems int, metadata map[string]string) (*models.Workflow, error)

	// Save stamps UpdatedAt and writes the full record atomically.
	Save(ctx context.Context, workflow *models.Workflow) error

	// Load returns the record or ErrWorkflowNotFound.
	Load(ctx context.Context, id string) (*models.Workflow, error)

	// List returns records sorted by UpdatedAt descending, optionally
	// filtered by status.
	List(ctx context.Context, statusFilter *models.WorkflowStatus) ([]*models.Workflow, error)

	// Delete removes a record, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// PruneOlderThan deletes completed and failed records whose UpdatedAt
	// predates the cutoff and returns how many were removed. Running and
	// paused records are never pruned: an interrupted run stays resumable.
	PruneOlderThan(ctx context.Context, age time.Duration) (int, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
