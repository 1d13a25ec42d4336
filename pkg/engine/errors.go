// Package engine provides standardized error types for pipeline steps.
package engine

import (
	"errors"
	"fmt"
)

// StepKind names which pipeline step produced an item failure. The run loop
// switches on kind, never on error text.
type StepKind string

const (
	StepFetch   StepKind = "fetch"
	StepAnalyze StepKind = "analyze"
	StepPersist StepKind = "persist"
	StepFatal   StepKind = "fatal"
)

// StepError wraps a pipeline step failure with its kind.
type StepError struct {
	Kind StepKind
	Key  string // Item key if item-scoped
	Err  error
}

func (e *StepError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s step failed for item %s: %v", e.Kind, e.Key, e.Err)
	}

	return fmt.Sprintf("%s step failed: %v", e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError creates a step error for one item.
func NewStepError(kind StepKind, key string, err error) *StepError {
	return &StepError{Kind: kind, Key: key, Err: err}
}

// Run-level errors.
var (
	// ErrNotResumable indicates a resume attempt on a workflow with nothing
	// left to retry.
	ErrNotResumable = errors.New("workflow has nothing left to resume")

	// ErrSourceResolution indicates the item set could not be resolved.
	ErrSourceResolution = errors.New("failed to resolve item set")
)

// IsFatal reports whether an error must abort the whole run rather than a
// single item.
func IsFatal(err error) bool {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Kind == StepFatal
	}

	return false
}
