package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/vulnscan/internal/errors"
	"github.com/anstrom/vulnscan/internal/rules"
)

func newJob(id string, created time.Time) *Job {
	return &Job{
		ID:        id,
		Target:    "10.0.0.5",
		Label:     "nightly",
		Status:    StatusQueued,
		CreatedAt: created,
	}
}

func TestMemory_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := newJob("j1", time.Now())

	require.NoError(t, m.Create(ctx, job))

	got, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job, got)
	assert.NotSame(t, job, got)

	err = m.Create(ctx, job)
	assert.True(t, errors.IsCode(err, errors.CodeConflict))

	_, err = m.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestMemory_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := newJob("j1", time.Now())
	require.NoError(t, m.Create(ctx, job))

	// Mutating the caller's record after Create has no effect.
	job.Status = StatusFailed

	got, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)

	got.Status = StatusAborted
	again, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, again.Status)
}

func TestMemory_Update(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, newJob("j1", time.Now())))

	started := time.Now()
	err := m.Update(ctx, "j1", func(j *Job) error {
		j.Status = StatusRunning
		j.StartedAt = &started
		j.Target = "10.9.9.9"
		return nil
	})
	require.NoError(t, err)

	got, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, "10.0.0.5", got.Target, "target is immutable")

	t.Run("mutator error discards change", func(t *testing.T) {
		err := m.Update(ctx, "j1", func(j *Job) error {
			j.Status = StatusFailed
			return fmt.Errorf("nope")
		})
		require.Error(t, err)

		got, err := m.Get(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, got.Status)
	})

	t.Run("unknown job", func(t *testing.T) {
		err := m.Update(ctx, "missing", func(*Job) error { return nil })
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestMemory_AppendFindings(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, newJob("j1", time.Now())))

	finding := Finding{ID: "f1", Port: 22, Protocol: "tcp", Service: "ssh", Severity: rules.SeverityLow}

	err := m.AppendFindings(ctx, "j1", finding)
	assert.True(t, errors.IsInvalidState(err), "queued job rejects findings")

	require.NoError(t, m.Update(ctx, "j1", func(j *Job) error {
		now := time.Now()
		j.Status = StatusRunning
		j.StartedAt = &now
		return nil
	}))
	require.NoError(t, m.AppendFindings(ctx, "j1", finding, Finding{ID: "f2", Port: 80}))

	got, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, got.Findings, 2)
	assert.Equal(t, "j1", got.Findings[0].JobID)

	require.NoError(t, m.Update(ctx, "j1", func(j *Job) error {
		now := time.Now()
		j.Status = StatusCompleted
		j.EndedAt = &now
		return nil
	}))
	err = m.AppendFindings(ctx, "j1", Finding{ID: "f3", Port: 443})
	assert.True(t, errors.IsInvalidState(err), "findings are frozen once terminal")

	err = m.AppendFindings(ctx, "missing", finding)
	assert.True(t, errors.IsNotFound(err))
}

func TestMemory_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()

	require.NoError(t, m.Create(ctx, newJob("old", base.Add(-time.Hour))))
	require.NoError(t, m.Create(ctx, newJob("new", base)))
	require.NoError(t, m.Create(ctx, newJob("same-time-later", base)))

	jobs, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "same-time-later", jobs[0].ID)
	assert.Equal(t, "new", jobs[1].ID)
	assert.Equal(t, "old", jobs[2].ID)
}

func TestMemory_DeleteFinishedBefore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	longAgo := now.Add(-48 * time.Hour)

	finished := newJob("finished", longAgo)
	finished.Status = StatusCompleted
	finished.StartedAt = &longAgo
	finished.EndedAt = &longAgo

	recent := newJob("recent", now)
	recent.Status = StatusFailed
	recent.StartedAt = &now
	recent.EndedAt = &now

	running := newJob("running", longAgo)
	running.Status = StatusRunning
	running.StartedAt = &longAgo

	for _, j := range []*Job{finished, recent, running} {
		require.NoError(t, m.Create(ctx, j))
	}

	removed, err := m.DeleteFinishedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = m.Get(ctx, "finished")
	assert.True(t, errors.IsNotFound(err))
	_, err = m.Get(ctx, "running")
	assert.NoError(t, err)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("j%d", i)
			_ = m.Create(ctx, newJob(id, time.Now()))
			_ = m.Update(ctx, id, func(j *Job) error {
				now := time.Now()
				j.Status = StatusRunning
				j.StartedAt = &now
				return nil
			})
			_ = m.AppendFindings(ctx, id, Finding{Port: 80})
		}(i)
		go func() {
			defer wg.Done()
			jobs, _ := m.List(ctx)
			for _, j := range jobs {
				_ = len(j.Findings)
			}
		}()
	}
	wg.Wait()

	jobs, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 20)
}

func TestJob_CloneAndDuration(t *testing.T) {
	start := time.Now()
	end := start.Add(90 * time.Second)
	cve := "CVE-2024-0001"
	job := &Job{
		ID:        "j1",
		StartedAt: &start,
		EndedAt:   &end,
		Findings:  []Finding{{ID: "f1", CVEID: &cve}},
	}

	c := job.Clone()
	assert.Equal(t, job, c)
	assert.NotSame(t, job.StartedAt, c.StartedAt)
	assert.NotSame(t, job.Findings[0].CVEID, c.Findings[0].CVEID)
	assert.Equal(t, 90*time.Second, c.Duration())

	var nilJob *Job
	assert.Nil(t, nilJob.Clone())
	assert.Zero(t, (&Job{}).Duration())
}

func TestStatus(t *testing.T) {
	for _, s := range Statuses {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("pending").Valid())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusAborted.Terminal())
}
