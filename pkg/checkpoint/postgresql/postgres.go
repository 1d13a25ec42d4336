// Package postgresql provides PostgreSQL checkpoint storage.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver

	"github.com/liuchzzyy/paperflow/pkg/checkpoint"
	"github.com/liuchzzyy/paperflow/pkg/checkpoint/sqlbase"
	"github.com/liuchzzyy/paperflow/pkg/models"
)

// Store implements checkpoint.Store on a PostgreSQL database. The outcome
// sets are stored as JSONB so the record round-trips exactly as the file
// backend writes it.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore connects, runs migrations, and returns a ready store.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: database, logger: logger}, nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id TEXT PRIMARY KEY,
				source_type TEXT NOT NULL,
				source_identifier TEXT NOT NULL,
				total_items INTEGER NOT NULL DEFAULT 0,
				processed_keys JSONB NOT NULL DEFAULT '[]',
				failed_keys JSONB NOT NULL DEFAULT '{}',
				skipped_keys JSONB NOT NULL DEFAULT '[]',
				status TEXT NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows (status);
			CREATE INDEX IF NOT EXISTS idx_workflows_updated_at ON workflows (updated_at DESC);
		`,
	}
}

// Create allocates an ID and inserts the fresh record.
func (s *Store) Create(ctx context.Context, sourceType models.SourceType, sourceIdentifier string, totalItems int, metadata map[string]string) (*models.Workflow, error) {
	workflow := models.NewWorkflow(sourceType, sourceIdentifier, totalItems, metadata)
	workflow.ID = "wf-" + uuid.New().String()

	if err := s.Save(ctx, workflow); err != nil {
		return nil, checkpoint.NewStoreError("Create", workflow.ID, err)
	}

	return workflow, nil
}

// Save upserts the full record. The single statement keeps the write atomic.
func (s *Store) Save(ctx context.Context, workflow *models.Workflow) error {
	workflow.UpdatedAt = time.Now().UTC()

	processed, err := json.Marshal(workflow.ProcessedKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal processed keys: %w", err)
	}

	failed, err := json.Marshal(workflow.FailedKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal failed keys: %w", err)
	}

	skipped, err := json.Marshal(workflow.SkippedKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal skipped keys: %w", err)
	}

	metadata, err := json.Marshal(workflow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, source_type, source_identifier, total_items,
			processed_keys, failed_keys, skipped_keys, status, metadata,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			source_identifier = EXCLUDED.source_identifier,
			total_items = EXCLUDED.total_items,
			processed_keys = EXCLUDED.processed_keys,
			failed_keys = EXCLUDED.failed_keys,
			skipped_keys = EXCLUDED.skipped_keys,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, workflow.ID, string(workflow.SourceType), workflow.SourceIdentifier, workflow.TotalItems,
		processed, failed, skipped, string(workflow.Status), metadata,
		workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return checkpoint.NewStoreError("Save", workflow.ID, err)
	}

	return nil
}

// Load reads one record, returning ErrWorkflowNotFound for missing IDs.
func (s *Store) Load(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_type, source_identifier, total_items,
			processed_keys, failed_keys, skipped_keys, status, metadata,
			created_at, updated_at
		FROM workflows WHERE id = $1
	`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, checkpoint.NewStoreError("Load", id, checkpoint.ErrWorkflowNotFound)
		}

		return nil, checkpoint.NewStoreError("Load", id, err)
	}

	return workflow, nil
}

// List returns records sorted by UpdatedAt descending, optionally filtered
// by status.
func (s *Store) List(ctx context.Context, statusFilter *models.WorkflowStatus) ([]*models.Workflow, error) {
	query := `
		SELECT id, source_type, source_identifier, total_items,
			processed_keys, failed_keys, skipped_keys, status, metadata,
			created_at, updated_at
		FROM workflows
	`
	args := []any{}

	if statusFilter != nil {
		query += " WHERE status = $1"
		args = append(args, string(*statusFilter))
	}

	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, checkpoint.NewStoreError("List", "", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, checkpoint.NewStoreError("List", "", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, checkpoint.NewStoreError("List", "", err)
	}

	return workflows, nil
}

// Delete removes a record, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return false, checkpoint.NewStoreError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, checkpoint.NewStoreError("Delete", id, err)
	}

	return affected > 0, nil
}

// PruneOlderThan removes terminal records whose UpdatedAt predates the
// cutoff. Running and paused records are never pruned.
func (s *Store) PruneOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM workflows
		WHERE status IN ($1, $2) AND updated_at < $3
	`, string(models.WorkflowStatusCompleted), string(models.WorkflowStatusFailed), cutoff)
	if err != nil {
		return 0, checkpoint.NewStoreError("Prune", "", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, checkpoint.NewStoreError("Prune", "", err)
	}

	return int(affected), nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow  models.Workflow
		processed []byte
		failed    []byte
		skipped   []byte
		metadata  []byte
	)

	err := row.Scan(&workflow.ID, &workflow.SourceType, &workflow.SourceIdentifier,
		&workflow.TotalItems, &processed, &failed, &skipped, &workflow.Status,
		&metadata, &workflow.CreatedAt, &workflow.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(processed, &workflow.ProcessedKeys); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processed keys: %w", err)
	}

	if err := json.Unmarshal(failed, &workflow.FailedKeys); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed keys: %w", err)
	}

	if err := json.Unmarshal(skipped, &workflow.SkippedKeys); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skipped keys: %w", err)
	}

	if err := json.Unmarshal(metadata, &workflow.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &workflow, nil
}
