// Package checkpoint provides standardized error types for checkpoint stores.
package checkpoint

import (
	"errors"
	"fmt"

	"github.com/liuchzzyy/paperflow/pkg/models"
)

// Standard checkpoint error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates no record exists for the given ID.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidStatus indicates an unknown workflow status value.
	ErrInvalidStatus = errors.New("invalid workflow status")
)

// StoreError wraps checkpoint store errors with operation context.
type StoreError struct {
	Op         string // Operation being performed (e.g. "Load", "Save", "Prune")
	WorkflowID string // Workflow ID if applicable
	Err        error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.WorkflowID != "" {
		return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
	}

	return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, workflowID string, err error) *StoreError {
	return &StoreError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// IsWorkflowNotFound checks if an error indicates a missing workflow record.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// ParseStatus validates a status string from an external surface (CLI flag,
// query parameter) before it is used as a list filter.
func ParseStatus(s string) (models.WorkflowStatus, error) {
	status := models.WorkflowStatus(s)

	switch status {
	case models.WorkflowStatusRunning, models.WorkflowStatusPaused,
		models.WorkflowStatusCompleted, models.WorkflowStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}
