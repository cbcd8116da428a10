// Package store persists scan jobs and their findings. Memory keeps them in
// process; Postgres keeps them in PostgreSQL. Both return copies, so callers
// can never mutate stored records behind the store's back.
package store

import (
	"context"
	"time"

	"github.com/anstrom/vulnscan/internal/errors"
)

// Mutator changes a job in place. Returning an error discards the change.
// Only status, start time, end time and error are persisted; changes to
// immutable fields and findings are ignored.
type Mutator func(job *Job) error

// Reader is the read-only view handed to the HTTP layer.
type Reader interface {
	// Get returns a copy of the job with its findings.
	Get(ctx context.Context, id string) (*Job, error)
	// List returns copies of all jobs, newest first.
	List(ctx context.Context) ([]*Job, error)
}

// Store is the write-capable interface owned by the job orchestrator.
type Store interface {
	Reader
	// Create inserts a new job. The ID must be unused.
	Create(ctx context.Context, job *Job) error
	// Update applies mutate to the stored job atomically.
	Update(ctx context.Context, id string, mutate Mutator) error
	// AppendFindings adds findings to a running job.
	AppendFindings(ctx context.Context, id string, findings ...Finding) error
	// DeleteFinishedBefore removes terminal jobs that ended before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Close releases resources held by the store.
	Close() error
}

func errJobExists(id string) error {
	err := errors.NewJobError(errors.CodeConflict, "Scan already exists")
	err.JobID = id
	return err
}

func errNotRunning(id string, status Status) error {
	return errors.ErrJobNotRunning(id, string(status))
}
