// Package scheduler runs periodic maintenance tasks on cron schedules. The
// service uses it to delete finished scan jobs once they pass the retention
// age.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/vulnscan/internal/errors"
	"github.com/anstrom/vulnscan/internal/logging"
)

// Task is the work performed on each tick of a schedule.
type Task func(ctx context.Context) error

// ScheduledJob is a named task and its schedule.
type ScheduledJob struct {
	Name       string
	Expression string
	CronID     cron.EntryID
	LastRun    time.Time
	NextRun    time.Time
	LastError  string
	Running    bool

	task Task
}

// Scheduler manages named tasks on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	jobs    map[string]*ScheduledJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(),
		logger: logger.WithComponent("scheduler"),
		jobs:   make(map[string]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.NewJobError(errors.CodeInvalidState, "scheduler is already running")
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// AddJob schedules task under name. expr is a standard five-field cron
// expression or a descriptor such as "@hourly".
func (s *Scheduler) AddJob(name, expr string, task Task) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		cfgErr := errors.ErrConfigInvalid("schedule", expr)
		cfgErr.Cause = err
		return cfgErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return errors.NewJobError(errors.CodeConflict, fmt.Sprintf("scheduled job %q already exists", name))
	}

	job := &ScheduledJob{
		Name:       name,
		Expression: expr,
		NextRun:    schedule.Next(time.Now()),
		task:       task,
	}
	job.CronID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(name) }))
	s.jobs[name] = job

	s.logger.Info("Added scheduled job", "name", name, "schedule", expr)
	return nil
}

// RemoveJob removes a scheduled job.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return errors.NewJobError(errors.CodeNotFound, fmt.Sprintf("scheduled job %q not found", name))
	}

	s.cron.Remove(job.CronID)
	delete(s.jobs, name)

	s.logger.Info("Removed scheduled job", "name", name)
	return nil
}

// GetJobs returns a snapshot of all scheduled jobs ordered by name.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		if entry := s.cron.Entry(job.CronID); !entry.Next.IsZero() {
			snapshot.NextRun = entry.Next
		}
		snapshot.task = nil
		jobs = append(jobs, snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// RunNow executes the named job immediately in the calling goroutine.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return errors.NewJobError(errors.CodeNotFound, fmt.Sprintf("scheduled job %q not found", name))
	}
	return s.execute(name)
}

// execute runs a job unless a previous run is still in progress.
func (s *Scheduler) execute(name string) error {
	job, ok := s.prepareJobExecution(name)
	if !ok {
		return nil
	}

	err := job.task(s.ctx)
	s.cleanupJobExecution(name, err)
	if err != nil {
		s.logger.Error("Scheduled job failed", "name", name, "error", err)
	}
	return err
}

// prepareJobExecution marks the job as running.
func (s *Scheduler) prepareJobExecution(name string) (*ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return nil, false
	}
	if job.Running {
		s.logger.Warn("Scheduled job is already running, skipping", "name", name)
		return nil, false
	}

	job.Running = true
	job.LastRun = time.Now()
	return job, true
}

// cleanupJobExecution marks the job as no longer running.
func (s *Scheduler) cleanupJobExecution(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[name]; exists {
		job.Running = false
		job.LastError = ""
		if err != nil {
			job.LastError = err.Error()
		}
	}
}
