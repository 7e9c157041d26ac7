// Package service is the entry point for running bulk jobs: one call per
// operation with loader-wide defaults, request counters, job-created
// listeners and optional persistence of what each run did.
package service

import (
	"context"
	"time"

	"github.com/bulk-loader/internal/bulk"
	"github.com/bulk-loader/internal/config"
	"github.com/bulk-loader/internal/logging"
	"github.com/bulk-loader/internal/models"
	"github.com/bulk-loader/internal/transport"
	"github.com/bulk-loader/internal/types"
)

// Connection is the transport the client drives jobs through
type Connection interface {
	bulk.Transport
	Counters() transport.Counters
}

// JobRegistry remembers jobs that were created but not yet seen finished
type JobRegistry interface {
	Register(ctx context.Context, job *models.OpenJob) error
	Complete(ctx context.Context, jobID string) error
}

// JobHistory keeps a durable record of jobs and their batches
type JobHistory interface {
	SaveJob(ctx context.Context, job *models.JobRecord) error
	SaveBatches(ctx context.Context, jobID string, batches []*models.BatchRecord) error
}

// Defaults apply to every call unless an Option overrides them
type Defaults struct {
	BatchSize         int
	Timeout           time.Duration
	PollInterval      time.Duration
	SendNulls         bool
	NullExclusions    []string
	Serial            bool
	SubmitConcurrency int
}

// DefaultsFromConfig builds Defaults from the bulk configuration
func DefaultsFromConfig(cfg *config.BulkConfig) Defaults {
	return Defaults{
		BatchSize:         cfg.BatchSize,
		Timeout:           cfg.Timeout,
		PollInterval:      cfg.PollInterval,
		SendNulls:         cfg.SendNulls,
		NullExclusions:    cfg.NullExclusions,
		Serial:            cfg.Serial,
		SubmitConcurrency: cfg.SubmitConcurrency,
	}
}

// Counters reports traffic and work done through a client
type Counters struct {
	HTTPGet    int64                     `json:"httpGet"`
	HTTPPost   int64                     `json:"httpPost"`
	Operations map[types.Operation]int64 `json:"operations"`
}

// Client runs bulk jobs
type Client struct {
	conn     Connection
	driver   *bulk.Driver
	defaults Defaults
	monitor  *RunMonitor
	registry JobRegistry
	history  JobHistory
	now      func() time.Time
}

// NewClient creates a client over conn. Zero defaults fall back to the
// platform limits.
func NewClient(conn Connection, defaults Defaults) *Client {
	if defaults.BatchSize <= 0 {
		defaults.BatchSize = config.DefaultBatchSize
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = config.DefaultTimeout
	}
	if defaults.PollInterval <= 0 {
		defaults.PollInterval = config.DefaultPollInterval
	}

	driver := bulk.NewDriver(conn)
	driver.SetSubmitConcurrency(defaults.SubmitConcurrency)

	return &Client{
		conn:     conn,
		driver:   driver,
		defaults: defaults,
		monitor:  NewRunMonitor(),
		now:      time.Now,
	}
}

// OnJobCreated registers a listener called with every job the client creates
func (c *Client) OnJobCreated(l bulk.Listener) {
	c.driver.OnJobCreated(l)
}

// UseRegistry records every created job in r until a run sees it finish
func (c *Client) UseRegistry(r JobRegistry) {
	c.registry = r
	c.driver.OnJobCreated(func(ctx context.Context, job *bulk.Job) {
		entry := &models.OpenJob{
			JobID:     job.ID(),
			RunID:     job.RunID,
			Operation: string(job.Operation),
			Object:    job.Object,
			CreatedAt: c.now().UTC(),
		}
		if err := r.Register(ctx, entry); err != nil {
			logging.FromContext(ctx).WithError(err).WithField("jobId", job.ID()).Warn("Failed to register open job")
		}
	})
}

// UseHistory saves every run's job and batches to h
func (c *Client) UseHistory(h JobHistory) {
	c.history = h
}

// Insert creates records
func (c *Client) Insert(ctx context.Context, object string, records interface{}, opts ...Option) (*bulk.Outcome, error) {
	return c.run(ctx, types.OperationInsert, object, "", records, opts)
}

// Create is Insert under the platform's other name for it
func (c *Client) Create(ctx context.Context, object string, records interface{}, opts ...Option) (*bulk.Outcome, error) {
	return c.run(ctx, types.OperationInsert, object, "", records, opts)
}

// Update modifies records identified by Id
func (c *Client) Update(ctx context.Context, object string, records interface{}, opts ...Option) (*bulk.Outcome, error) {
	return c.run(ctx, types.OperationUpdate, object, "", records, opts)
}

// Upsert inserts or updates records matched on externalKey
func (c *Client) Upsert(ctx context.Context, object, externalKey string, records interface{}, opts ...Option) (*bulk.Outcome, error) {
	return c.run(ctx, types.OperationUpsert, object, externalKey, records, opts)
}

// Delete removes records identified by Id
func (c *Client) Delete(ctx context.Context, object string, records interface{}, opts ...Option) (*bulk.Outcome, error) {
	return c.run(ctx, types.OperationDelete, object, "", records, opts)
}

// Query runs query against object and always collects the rows
func (c *Client) Query(ctx context.Context, object, query string, opts ...Option) (*bulk.Outcome, error) {
	return c.run(ctx, types.OperationQuery, object, "", query, append(opts, WithResults()))
}

// Run executes op with the given input; it backs the per-operation helpers
// and callers that pick the operation at runtime
func (c *Client) Run(ctx context.Context, op types.Operation, object, externalKey string, input interface{}, opts ...Option) (*bulk.Outcome, error) {
	if op == types.OperationQuery {
		opts = append(opts, WithResults())
	}
	return c.run(ctx, op, object, externalKey, input, opts)
}

func (c *Client) run(ctx context.Context, op types.Operation, object, externalKey string, input interface{}, opts []Option) (*bulk.Outcome, error) {
	o := c.resolve(opts)

	c.monitor.RecordStart(op)
	start := c.now()

	out, err := c.driver.Run(ctx, bulk.RunOptions{
		Job: bulk.JobOptions{
			Operation:        op,
			Object:           object,
			ExternalKeyField: externalKey,
			Serial:           o.serial,
			BatchSize:        o.batchSize,
			SendNulls:        o.sendNulls,
			NullExclusions:   o.nullExclusions,
		},
		Input:      input,
		GetResults: o.getResults,
		Poll:       bulk.PollOptions{Timeout: o.timeout, Interval: o.pollInterval},
	})
	c.monitor.RecordFinish(c.now().Sub(start), err)

	if out != nil && out.Job != nil && out.Job.ID() != "" {
		c.persist(ctx, out.Job, out.Close, err)
		if o.getResults && err == nil {
			c.complete(ctx, out.Job.ID())
		}
	}
	return out, err
}

// JobFromID rebuilds a handle for a job created earlier
func (c *Client) JobFromID(id string, op types.Operation) *bulk.Job {
	return bulk.JobFromID(c.conn, id, op)
}

// Resume waits for the batches of an existing job and collects their
// results, typically after a run timed out. A job that is still open stays
// in the registry.
func (c *Client) Resume(ctx context.Context, jobID string, opts ...Option) (*bulk.Outcome, error) {
	o := c.resolve(opts)

	probe := bulk.JobFromID(c.conn, jobID, "")
	info, err := probe.Status(ctx)
	if err != nil {
		return nil, err
	}
	job := c.JobFromID(jobID, info.Operation)
	job.Object = info.Object
	if err := job.LoadBatches(ctx); err != nil {
		return nil, err
	}

	out := &bulk.Outcome{Job: job, Close: info}
	batches, err := job.Wait(ctx, bulk.PollOptions{Timeout: o.timeout, Interval: o.pollInterval})
	out.Batches = batches
	if err == nil {
		err = job.FetchResults(ctx, batches)
	}

	c.persist(ctx, job, info, err)
	if err == nil && finished(info, job) {
		c.complete(ctx, jobID)
	}
	return out, err
}

// finished reports whether a job can take no more work: it is closed and
// every batch reached a terminal state
func finished(info *bulk.JobInfo, job *bulk.Job) bool {
	if info.State != types.JobStateClosed {
		return false
	}
	for _, b := range job.Batches {
		if !b.State().IsTerminal() {
			return false
		}
	}
	return true
}

// Inspect returns the job's current info and the state of every batch
func (c *Client) Inspect(ctx context.Context, jobID string) (*bulk.JobInfo, []*bulk.Batch, error) {
	probe := bulk.JobFromID(c.conn, jobID, "")
	info, err := probe.Status(ctx)
	if err != nil {
		return nil, nil, err
	}
	job := c.JobFromID(jobID, info.Operation)
	if err := job.LoadBatches(ctx); err != nil {
		return nil, nil, err
	}
	return info, job.Batches, nil
}

// Close closes an existing job
func (c *Client) Close(ctx context.Context, jobID string) (*bulk.JobInfo, error) {
	return bulk.JobFromID(c.conn, jobID, "").Close(ctx)
}

// Counters returns request counts from the connection and run counts per operation
func (c *Client) Counters() Counters {
	conn := c.conn.Counters()
	return Counters{
		HTTPGet:    conn.Get,
		HTTPPost:   conn.Post,
		Operations: c.monitor.Operations(),
	}
}

// Stats returns run statistics
func (c *Client) Stats() *RunStats {
	return c.monitor.GetStats()
}

func (c *Client) persist(ctx context.Context, job *bulk.Job, info *bulk.JobInfo, runErr error) {
	if c.history == nil {
		return
	}
	logger := logging.FromContext(ctx).WithField("jobId", job.ID())

	if err := c.history.SaveJob(ctx, toJobRecord(job, info, runErr, c.now().UTC())); err != nil {
		logger.WithError(err).Warn("Failed to save job history")
		return
	}
	if err := c.history.SaveBatches(ctx, job.ID(), toBatchRecords(job, c.now().UTC())); err != nil {
		logger.WithError(err).Warn("Failed to save batch history")
	}
}

func (c *Client) complete(ctx context.Context, jobID string) {
	if c.registry == nil {
		return
	}
	if err := c.registry.Complete(ctx, jobID); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("jobId", jobID).Warn("Failed to complete open job")
	}
}
