package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anstrom/vulnscan/internal/errors"
)

type memoryRecord struct {
	job *Job
	seq uint64
}

// Memory is an in-process Store. Data is lost on restart.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	seq     uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*memoryRecord)}
}

// Create inserts a copy of job.
func (m *Memory) Create(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[job.ID]; exists {
		return errJobExists(job.ID)
	}
	m.seq++
	m.records[job.ID] = &memoryRecord{job: job.Clone(), seq: m.seq}
	return nil
}

// Get returns a copy of the job.
func (m *Memory) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, errors.ErrJobNotFound(id)
	}
	return rec.job.Clone(), nil
}

// List returns copies of all jobs, newest first.
func (m *Memory) List(_ context.Context) ([]*Job, error) {
	m.mu.RLock()
	snapshot := make([]memoryRecord, 0, len(m.records))
	for _, rec := range m.records {
		snapshot = append(snapshot, *rec)
	}
	m.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		a, b := snapshot[i].job.CreatedAt, snapshot[j].job.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return snapshot[i].seq > snapshot[j].seq
	})

	// Stored jobs are replaced on write, never mutated in place, so cloning
	// outside the lock is safe.
	jobs := make([]*Job, len(snapshot))
	for i, rec := range snapshot {
		jobs[i] = rec.job.Clone()
	}
	return jobs, nil
}

// Update applies mutate to a copy and stores the mutable fields.
func (m *Memory) Update(_ context.Context, id string, mutate Mutator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return errors.ErrJobNotFound(id)
	}

	working := rec.job.Clone()
	if err := mutate(working); err != nil {
		return err
	}

	next := rec.job.Clone()
	next.Status = working.Status
	next.StartedAt = working.StartedAt
	next.EndedAt = working.EndedAt
	next.Error = working.Error
	rec.job = next
	return nil
}

// AppendFindings adds findings to a running job.
func (m *Memory) AppendFindings(_ context.Context, id string, findings ...Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return errors.ErrJobNotFound(id)
	}
	if rec.job.Status != StatusRunning {
		return errNotRunning(id, rec.job.Status)
	}

	next := rec.job.Clone()
	for _, f := range findings {
		f = f.clone()
		f.JobID = id
		next.Findings = append(next.Findings, f)
	}
	rec.job = next
	return nil
}

// DeleteFinishedBefore removes terminal jobs that ended before cutoff.
func (m *Memory) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, rec := range m.records {
		job := rec.job
		if job.Status.Terminal() && job.EndedAt != nil && job.EndedAt.Before(cutoff) {
			delete(m.records, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
