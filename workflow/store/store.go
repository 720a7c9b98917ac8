// Package store provides checkpoint persistence for workflow executions.
//
// A checkpoint is an opaque, JSON-encoded execution snapshot written by the
// workflow engine after every state transition. The engine treats the latest
// checkpoint as the sole source of truth when resuming an execution, so
// implementations must persist Save calls durably and in order.
//
// Three implementations are provided: in-memory (testing and single-process
// runs), SQLite (local persistence with zero setup), and MySQL (production
// deployments with shared storage).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an execution has no checkpoints.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is one persisted execution snapshot.
type Checkpoint struct {
	// ExecutionID identifies the workflow execution.
	ExecutionID string

	// Seq orders checkpoints within an execution, starting at 1.
	Seq int

	// State is the JSON-encoded execution snapshot.
	State []byte

	// CreatedAt is when the checkpoint was written.
	CreatedAt time.Time
}

// CheckpointStore persists execution snapshots.
//
// Implementations must be safe for concurrent use.
type CheckpointStore interface {
	// Save persists one checkpoint. Saving the same (execution, seq) pair
	// twice overwrites the earlier write.
	Save(ctx context.Context, cp Checkpoint) error

	// LoadLatest returns the checkpoint with the highest Seq for the
	// execution, or ErrNotFound when none exists.
	LoadLatest(ctx context.Context, executionID string) (Checkpoint, error)

	// List returns every checkpoint for the execution in ascending Seq
	// order. An execution with no checkpoints yields an empty list.
	List(ctx context.Context, executionID string) ([]Checkpoint, error)

	// Delete removes all checkpoints for the execution. Deleting an
	// unknown execution is not an error.
	Delete(ctx context.Context, executionID string) error

	// Close releases any underlying resources.
	Close() error
}
