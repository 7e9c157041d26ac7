package bulk

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/logging"
)

// Listener is called synchronously right after a job is created remotely.
// Listeners cannot fail the run; they log their own problems.
type Listener func(ctx context.Context, job *Job)

// RunOptions describes one end-to-end run
type RunOptions struct {
	Job JobOptions
	// Input is the record sequence, or the query text for a query job
	Input interface{}
	// GetResults makes the run wait for the batches and collect their results
	GetResults bool
	Poll       PollOptions
}

// Outcome is what a run produced
type Outcome struct {
	Job *Job
	// Close is the platform's answer to closing the job
	Close *JobInfo
	// Batches holds the terminal batches, only when results were requested
	Batches []*Batch
}

// Driver runs jobs end to end: create, submit, close and optionally wait
// and collect results
type Driver struct {
	conn Transport

	mu                sync.RWMutex
	listeners         []Listener
	submitConcurrency int
}

// NewDriver creates a driver that talks through conn
func NewDriver(conn Transport) *Driver {
	return &Driver{conn: conn, submitConcurrency: 1}
}

// OnJobCreated registers a listener. Listeners run in registration order.
func (d *Driver) OnJobCreated(l Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// SetSubmitConcurrency sets how many batches may be posted at once
func (d *Driver) SetSubmitConcurrency(n int) {
	if n <= 0 {
		n = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitConcurrency = n
}

// Run executes one job. Input is validated before anything is sent. The
// job is closed even when nobody waits for it; if waiting times out the
// outcome still carries the job so its id can be used to resume.
func (d *Driver) Run(ctx context.Context, opts RunOptions) (*Outcome, error) {
	job, err := NewJob(d.conn, opts.Job)
	if err != nil {
		return nil, err
	}
	plan, err := Split(job.Operation, opts.Input, job.BatchSizeLimit)
	if err != nil {
		return nil, err
	}

	job.RunID = uuid.NewString()
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"runId":     job.RunID,
		"operation": string(job.Operation),
		"object":    job.Object,
	})
	ctx = logging.WithLogger(ctx, logger)

	if err := job.Create(ctx); err != nil {
		return nil, err
	}
	out := &Outcome{Job: job}
	d.notify(ctx, job)

	d.mu.RLock()
	concurrency := d.submitConcurrency
	d.mu.RUnlock()
	if err := job.Submit(ctx, plan, concurrency); err != nil {
		return out, err
	}

	info, err := job.Close(ctx)
	if err != nil {
		return out, err
	}
	out.Close = info

	if !opts.GetResults {
		return out, nil
	}

	batches, err := job.Wait(ctx, opts.Poll)
	out.Batches = batches
	if err != nil {
		if errors.IsTimeout(err) {
			logger.WithField("jobId", job.ID()).Warn("Run ended before all batches finished")
		}
		return out, err
	}
	if err := job.FetchResults(ctx, batches); err != nil {
		return out, err
	}

	logger.WithFields(map[string]interface{}{
		"jobId":   job.ID(),
		"batches": len(batches),
	}).Info("Run complete")
	return out, nil
}

func (d *Driver) notify(ctx context.Context, job *Job) {
	d.mu.RLock()
	listeners := make([]Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, job)
	}
}
