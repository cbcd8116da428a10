// Package jobs runs scan jobs through their lifecycle. The Orchestrator is
// the only component holding the write side of the job store; every status
// change and every event published for a job comes from the job's own
// execution unit or from Abort, serialized by a per-job writer lock.
package jobs

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/vulnscan/internal/errors"
	"github.com/anstrom/vulnscan/internal/logging"
	"github.com/anstrom/vulnscan/internal/metrics"
	"github.com/anstrom/vulnscan/internal/notify"
	"github.com/anstrom/vulnscan/internal/rules"
	"github.com/anstrom/vulnscan/internal/scanning"
	"github.com/anstrom/vulnscan/internal/store"
	"github.com/anstrom/vulnscan/internal/workers"
)

var (
	errAborted  = stderrors.New("scan aborted by user")
	errShutdown = stderrors.New("service shutting down")
)

// Publisher is the part of the notification hub the orchestrator uses.
type Publisher interface {
	Publish(topic string, ev notify.Event)
	BroadcastCompletion(jobID string, summary notify.Summary)
}

// Classifier maps an open service to a finding classification.
type Classifier interface {
	Classify(service string, port int) rules.Classification
}

// Config controls job execution.
type Config struct {
	// MaxConcurrent caps running jobs; 0 means no cap.
	MaxConcurrent int
	// ScanTimeout bounds a single scan adapter call.
	ScanTimeout time.Duration
	// CheckpointDelay is the pause between the first two progress milestones.
	CheckpointDelay time.Duration
	// ShutdownTimeout bounds how long Close waits for running jobs.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default job execution settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   3,
		ScanTimeout:     5 * time.Minute,
		CheckpointDelay: time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records job activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClassifier replaces the default rule table.
func WithClassifier(c Classifier) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.rules = c
		}
	}
}

// Orchestrator accepts scan jobs and drives them to a terminal state.
type Orchestrator struct {
	config  Config
	store   store.Store
	scanner scanning.Scanner
	hub     Publisher
	rules   Classifier
	logger  *logging.Logger
	metrics *metrics.Metrics
	pool    *workers.Pool
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu     sync.RWMutex
	closed bool

	execMu sync.Mutex
	execs  map[string]*execution
}

// New creates an orchestrator and starts its worker pool.
func New(st store.Store, scanner scanning.Scanner, hub Publisher, config Config, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if config.MaxConcurrent < 0 {
		config.MaxConcurrent = 0
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = defaults.ScanTimeout
	}
	if config.CheckpointDelay < 0 {
		config.CheckpointDelay = 0
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	o := &Orchestrator{
		config:  config,
		store:   st,
		scanner: scanner,
		hub:     hub,
		rules:   rules.Default(),
		logger:  logging.NewDiscard(),
		now:     func() time.Time { return time.Now().UTC() },
		ctx:     ctx,
		cancel:  cancel,
		execs:   make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("jobs")

	o.pool = workers.New(workers.Config{
		Size:            config.MaxConcurrent,
		ShutdownTimeout: config.ShutdownTimeout,
		Logger:          o.logger,
	})
	o.pool.Start()
	return o
}

// Submit validates target, records a queued job and schedules it. The job
// is visible to readers before Submit returns.
func (o *Orchestrator) Submit(ctx context.Context, target, label string) (string, error) {
	target = strings.TrimSpace(target)
	if err := ValidateTarget(target); err != nil {
		return "", err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return "", errors.ErrUnavailable("scan orchestrator is shut down")
	}

	now := o.now()
	job := &store.Job{
		ID:        uuid.NewString(),
		Target:    target,
		Label:     SanitizeLabel(label, now),
		Status:    store.StatusQueued,
		CreatedAt: now,
	}
	if err := o.store.Create(ctx, job); err != nil {
		return "", err
	}

	exec := newExecution(o.ctx, job)
	o.execMu.Lock()
	o.execs[job.ID] = exec
	o.execMu.Unlock()

	err := o.pool.Submit(workers.Func{
		JobID:   job.ID,
		JobType: "scan",
		Run:     func(context.Context) error { return o.run(exec) },
	})
	if err != nil {
		// Only reachable if the pool was shut down underneath us.
		o.settle(exec, err)
		o.release(exec)
		return "", err
	}

	o.logger.InfoJob("Scan queued", job.ID, "target", job.Target, "label", job.Label)
	return job.ID, nil
}

// Abort cancels a running job and records it as aborted. Jobs in any other
// state are rejected with INVALID_STATE and left untouched.
func (o *Orchestrator) Abort(ctx context.Context, id string) error {
	exec := o.lookup(id)
	if exec == nil {
		return o.notRunning(ctx, id)
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()

	if !exec.started || exec.finished {
		return o.notRunning(ctx, id)
	}

	exec.cancel(errAborted)
	if err := o.finish(exec, store.StatusAborted, ""); err != nil {
		return err
	}
	o.hub.Publish(notify.JobTopic(id), notify.AbortedEvent(id))
	o.logger.InfoJob("Scan aborted", id)
	return nil
}

func (o *Orchestrator) notRunning(ctx context.Context, id string) error {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return errors.ErrJobNotRunning(id, string(job.Status))
}

// Status returns a copy of the job.
func (o *Orchestrator) Status(ctx context.Context, id string) (*store.Job, error) {
	return o.store.Get(ctx, id)
}

// List returns copies of all jobs, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]*store.Job, error) {
	return o.store.List(ctx)
}

// QueueStats reports how many jobs are waiting and running.
func (o *Orchestrator) QueueStats() workers.Stats {
	return o.pool.Stats()
}

// Close stops accepting jobs, cancels running ones and waits for them to
// record their final state.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.logger.Info("Stopping scan orchestrator")
	o.cancel(errShutdown)
	return o.pool.Shutdown(ctx)
}

func (o *Orchestrator) lookup(id string) *execution {
	o.execMu.Lock()
	defer o.execMu.Unlock()
	return o.execs[id]
}

func (o *Orchestrator) release(exec *execution) {
	exec.cancel(nil)
	o.execMu.Lock()
	delete(o.execs, exec.id)
	o.execMu.Unlock()
}
