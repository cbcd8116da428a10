// Package workers caps how many scan jobs run at once. Submitted jobs wait
// in an unbounded FIFO queue until one of the pool's workers is free, so
// submission never blocks and never rejects work while the pool is open.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anstrom/vulnscan/internal/errors"
	"github.com/anstrom/vulnscan/internal/logging"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job. The context is canceled when the pool shuts down.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for logging.
	Type() string
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines. Zero runs every job in its
	// own goroutine as soon as it is submitted.
	Size int
	// ShutdownTimeout is the maximum time Shutdown waits for running jobs.
	ShutdownTimeout time.Duration
	// Logger receives pool lifecycle and job failure logs.
	Logger *logging.Logger
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            3,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers int `json:"workers"`
	Queued  int `json:"queued"`
	Active  int `json:"active"`
}

// Pool runs submitted jobs on a fixed number of workers.
type Pool struct {
	config Config
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Job
	active int
	closed bool

	wg        sync.WaitGroup
	startOnce sync.Once
}

// New creates a new worker pool with the given configuration.
func New(config Config) *Pool {
	if config.Size < 0 {
		config.Size = 0
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config: config,
		logger: logger.WithComponent("workers"),
		ctx:    ctx,
		cancel: cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Jobs submitted before Start wait in the queue.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("Starting worker pool", "worker_count", p.config.Size)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return
		}
		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Submit queues job for execution. It fails only once the pool is shut down.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.ErrUnavailable("worker pool is shut down")
	}

	if p.config.Size == 0 {
		p.active++
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.execute(job)
		}()
		return nil
	}

	p.queue = append(p.queue, job)
	p.cond.Signal()
	p.logger.Debug("Job queued", "job_id", job.ID(), "job_type", job.Type(), "queued", len(p.queue))
	return nil
}

// Stats returns the current queue length and number of running jobs.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Workers: p.config.Size, Queued: len(p.queue), Active: p.active}
}

// Shutdown stops accepting jobs and cancels the context handed to running
// ones. Jobs still queued are executed with the canceled context so they can
// settle their own state. Shutdown waits up to ShutdownTimeout or until ctx
// is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.logger.Info("Shutting down worker pool")
	p.cancel()

	// A pool that was never started still owes its queued jobs a run.
	p.startOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info("Worker pool shutdown completed")
		return nil
	case <-timer.C:
		p.logger.Warn("Worker pool shutdown timed out", "timeout", p.config.ShutdownTimeout)
		return errors.NewJobError(errors.CodeTimeout, "worker pool shutdown timed out")
	case <-ctx.Done():
		return errors.WrapJobError(errors.CodeCanceled, "worker pool shutdown interrupted", ctx.Err())
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", "worker_id", id)
	defer p.logger.Debug("Worker stopped", "worker_id", id)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active++
		p.mu.Unlock()

		p.execute(job)
	}
}

// execute runs one job and never lets its panic take the worker down.
func (p *Pool) execute(job Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Job panicked",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"panic", fmt.Sprint(r))
		}
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	err := job.Execute(p.ctx)
	duration := time.Since(start)

	if err != nil {
		p.logger.Warn("Job returned error",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"duration", duration,
			"error", err)
		return
	}
	p.logger.Debug("Job completed",
		"job_id", job.ID(),
		"job_type", job.Type(),
		"duration", duration)
}

// Func adapts a function to the Job interface.
type Func struct {
	JobID   string
	JobType string
	Run     func(ctx context.Context) error
}

// Execute implements the Job interface.
func (f Func) Execute(ctx context.Context) error {
	return f.Run(ctx)
}

// ID implements the Job interface.
func (f Func) ID() string {
	return f.JobID
}

// Type implements the Job interface.
func (f Func) Type() string {
	return f.JobType
}
