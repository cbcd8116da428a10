package jobs

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/vulnscan/internal/errors"
	"github.com/anstrom/vulnscan/internal/notify"
	"github.com/anstrom/vulnscan/internal/scanning"
	"github.com/anstrom/vulnscan/internal/store"
)

// errSettled stops an execution unit whose job already reached a terminal
// state through Abort.
var errSettled = stderrors.New("job already settled")

// execution is the runtime state of one job's execution unit. mu is the
// job's writer lock: every store write and every publish for the job happens
// while holding it.
type execution struct {
	id     string
	target string
	label  string

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	finished  bool
}

func newExecution(parent context.Context, job *store.Job) *execution {
	ctx, cancel := context.WithCancelCause(parent)
	return &execution{
		id:     job.ID,
		target: job.Target,
		label:  job.Label,
		ctx:    ctx,
		cancel: cancel,
	}
}

// step runs fn under the writer lock unless the job is settled or canceled.
func (e *execution) step(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		return errSettled
	}
	if e.ctx.Err() != nil {
		return context.Cause(e.ctx)
	}
	return fn()
}

// pause waits for d or until the job is canceled.
func (e *execution) pause(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-e.ctx.Done():
		return context.Cause(e.ctx)
	}
}

// writeContext is used for store writes, which must complete even when the
// job's context has been canceled.
func (e *execution) writeContext() context.Context {
	return context.WithoutCancel(e.ctx)
}

func (o *Orchestrator) run(exec *execution) error {
	defer o.release(exec)

	err := o.execute(exec)
	if err != nil {
		o.settle(exec, err)
	}
	return err
}

func (o *Orchestrator) execute(exec *execution) error {
	if err := exec.step(func() error { return o.markRunning(exec) }); err != nil {
		return err
	}

	if err := exec.pause(o.config.CheckpointDelay); err != nil {
		return err
	}

	err := exec.step(func() error {
		o.progress(exec.id, 30, notify.PhasePortScan, "Scanning top 50 ports...")
		return nil
	})
	if err != nil {
		return err
	}

	result, err := o.scan(exec)
	if err != nil {
		return err
	}

	err = exec.step(func() error {
		o.progress(exec.id, 70, notify.PhaseVulnerabilityAnalysis, "Analyzing vulnerabilities...")
		return nil
	})
	if err != nil {
		return err
	}

	return exec.step(func() error { return o.complete(exec, result) })
}

func (o *Orchestrator) markRunning(exec *execution) error {
	now := o.now()
	err := o.store.Update(exec.writeContext(), exec.id, func(job *store.Job) error {
		if job.Status != store.StatusQueued {
			return errors.NewJobError(errors.CodeInvalidState,
				fmt.Sprintf("Scan is not queued (status: %s)", job.Status))
		}
		job.Status = store.StatusRunning
		job.StartedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	exec.started = true
	exec.startedAt = now
	o.metrics.JobStarted()
	o.progress(exec.id, 0, notify.PhaseInitializing, "Starting Nmap scan...")
	o.logger.InfoJob("Scan started", exec.id, "target", exec.target)
	return nil
}

type scanOutcome struct {
	result *scanning.Result
	err    error
}

// scan calls the adapter, bounded by ScanTimeout and raced against
// cancellation. A result arriving after cancellation is dropped.
func (o *Orchestrator) scan(exec *execution) (*scanning.Result, error) {
	ctx, cancel := context.WithTimeout(exec.ctx, o.config.ScanTimeout)
	defer cancel()

	out := make(chan scanOutcome, 1)
	go func() {
		result, err := o.scanner.Scan(ctx, exec.target)
		out <- scanOutcome{result: result, err: err}
	}()

	select {
	case res := <-out:
		if exec.ctx.Err() != nil {
			return nil, context.Cause(exec.ctx)
		}
		if res.err != nil {
			if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, o.timeoutError(res.err)
			}
			return nil, errors.ErrScanFailed(exec.target, res.err)
		}
		return res.result, nil
	case <-ctx.Done():
		if exec.ctx.Err() != nil {
			return nil, context.Cause(exec.ctx)
		}
		return nil, o.timeoutError(ctx.Err())
	}
}

func (o *Orchestrator) timeoutError(cause error) error {
	return errors.WrapJobError(errors.CodeTimeout,
		fmt.Sprintf("Scan timed out after %s", o.config.ScanTimeout), cause)
}

// complete turns every open port into exactly one finding and marks the
// job completed.
func (o *Orchestrator) complete(exec *execution, result *scanning.Result) error {
	open := result.OpenPorts()
	detected := o.now()

	findings := make([]store.Finding, 0, len(open))
	for _, p := range open {
		c := o.rules.Classify(p.Service, int(p.Number))
		f := store.Finding{
			ID:          uuid.NewString(),
			Port:        int(p.Number),
			Protocol:    p.Protocol,
			Service:     p.Service,
			Version:     serviceVersion(p),
			Name:        c.Name,
			Description: c.Description,
			Remediation: c.Remediation,
			Severity:    c.Severity,
			DetectedAt:  detected,
		}
		if c.CVEID != "" {
			cve := c.CVEID
			f.CVEID = &cve
		}
		findings = append(findings, f)
	}

	if len(findings) > 0 {
		if err := o.store.AppendFindings(exec.writeContext(), exec.id, findings...); err != nil {
			return err
		}
		for _, f := range findings {
			o.metrics.FindingRecorded(string(f.Severity))
		}
	}

	if err := o.finish(exec, store.StatusCompleted, ""); err != nil {
		return err
	}

	o.progress(exec.id, 100, notify.PhaseCompleted, "Scan completed successfully")
	o.hub.BroadcastCompletion(exec.id, notify.Summary{
		TargetIP:           exec.target,
		ScanName:           exec.label,
		VulnerabilityCount: len(findings),
		Status:             string(store.StatusCompleted),
	})
	o.logger.InfoJob("Scan completed", exec.id, "findings", len(findings))
	return nil
}

// settle records a failure unless the job already reached a terminal state.
func (o *Orchestrator) settle(exec *execution, cause error) {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	if exec.finished {
		return
	}

	reason := failureReason(cause)
	if err := o.finish(exec, store.StatusFailed, reason); err != nil {
		o.logger.ErrorJob("Failed to record scan failure", exec.id, err)
	}
	o.hub.Publish(notify.JobTopic(exec.id), notify.FailedEvent(exec.id, reason))
	o.logger.ErrorJob("Scan failed", exec.id, cause, "reason", reason)
}

// finish writes a terminal status. The caller holds exec.mu.
func (o *Orchestrator) finish(exec *execution, status store.Status, reason string) error {
	now := o.now()
	err := o.store.Update(exec.writeContext(), exec.id, func(job *store.Job) error {
		if job.Status.Terminal() {
			return errors.ErrJobNotRunning(job.ID, string(job.Status))
		}
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		job.Status = status
		job.EndedAt = &now
		job.Error = reason
		return nil
	})
	if err != nil {
		return err
	}

	exec.finished = true
	var duration time.Duration
	if exec.started {
		duration = now.Sub(exec.startedAt)
	}
	o.metrics.JobFinished(string(status), duration, exec.started)
	return nil
}

func (o *Orchestrator) progress(id string, percent int, phase, message string) {
	o.hub.Publish(notify.JobTopic(id), notify.ProgressEvent(id, percent, phase, message))
}

func failureReason(err error) string {
	switch {
	case stderrors.Is(err, errShutdown):
		return "Scan interrupted: service shutting down"
	case stderrors.Is(err, errAborted):
		return "Scan was aborted by user"
	}

	var jobErr *errors.JobError
	if stderrors.As(err, &jobErr) {
		if jobErr.Code == errors.CodeScanFailed && jobErr.Cause != nil {
			return jobErr.Cause.Error()
		}
		return jobErr.Message
	}
	return err.Error()
}

func serviceVersion(p scanning.Port) string {
	return strings.TrimSpace(p.Product + " " + p.Version)
}
