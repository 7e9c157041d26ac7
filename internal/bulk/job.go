// Package bulk drives jobs on the platform's asynchronous bulk API: it
// creates a job, splits records into batches, encodes and submits them,
// closes the job, waits for the batches to finish and collects results.
//
// A Job is owned by a single caller; nothing in this package locks it.
package bulk

import (
	"context"
	"fmt"
	"time"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/types"
)

// DefaultBatchSize is used when JobOptions leaves BatchSize unset
const DefaultBatchSize = 10000

// Transport is the connection the job talks through. Both methods return
// the raw response body and fail only for connection level problems.
type Transport interface {
	PostPayload(ctx context.Context, path string, body []byte, headers map[string]string) ([]byte, error)
	GetResource(ctx context.Context, path string, headers map[string]string) ([]byte, error)
}

// PayloadKind says what a batch carries
type PayloadKind string

const (
	PayloadRecordSet PayloadKind = "recordSet"
	PayloadRawQuery  PayloadKind = "rawQuery"
)

// JobOptions describes a job before it exists remotely
type JobOptions struct {
	Operation types.Operation
	Object    string
	// ExternalKeyField is only sent for upserts
	ExternalKeyField string
	Serial           bool
	BatchSize        int
	SendNulls        bool
	NullExclusions   []string
}

// Job is the in-memory handle of a remote bulk job
type Job struct {
	id string
	// RunID correlates the job with the run that created it, for logs and history
	RunID string

	Operation        types.Operation
	Object           string
	ExternalKeyField string
	ConcurrencyMode  types.ConcurrencyMode
	BatchSizeLimit   int
	SendNulls        bool
	NullExclusions   map[string]struct{}
	Batches          []*Batch

	conn Transport
	now  func() time.Time
}

// NewJob validates opts and returns a job that has not been created yet
func NewJob(conn Transport, opts JobOptions) (*Job, error) {
	if conn == nil {
		return nil, errors.NewValidationError("transport", "is required")
	}
	op, err := types.ParseOperation(string(opts.Operation))
	if err != nil {
		return nil, errors.NewValidationError("operation", err.Error())
	}
	opts.Operation = op
	if opts.Object == "" {
		return nil, errors.NewValidationError("object", "is required")
	}
	if opts.BatchSize < 0 {
		return nil, errors.NewValidationError("batch size", "must be positive")
	}
	if opts.Operation == types.OperationUpsert && opts.ExternalKeyField == "" {
		return nil, errors.NewValidationError("external key field", "is required for upsert")
	}

	job := &Job{
		Operation:       opts.Operation,
		Object:          opts.Object,
		ConcurrencyMode: types.ConcurrencyParallel,
		BatchSizeLimit:  opts.BatchSize,
		SendNulls:       opts.SendNulls,
		NullExclusions:  make(map[string]struct{}, len(opts.NullExclusions)),
		conn:            conn,
		now:             time.Now,
	}
	if job.BatchSizeLimit == 0 {
		job.BatchSizeLimit = DefaultBatchSize
	}
	if opts.Operation == types.OperationUpsert {
		job.ExternalKeyField = opts.ExternalKeyField
	}
	if opts.Serial {
		job.ConcurrencyMode = types.ConcurrencySerial
	}
	for _, f := range opts.NullExclusions {
		job.NullExclusions[f] = struct{}{}
	}
	return job, nil
}

// JobFromID rebuilds a handle for a job created earlier, typically to
// observe batches that outlived a previous wait
func JobFromID(conn Transport, id string, op types.Operation) *Job {
	return &Job{
		id:              id,
		Operation:       op,
		ConcurrencyMode: types.ConcurrencyParallel,
		BatchSizeLimit:  DefaultBatchSize,
		NullExclusions:  map[string]struct{}{},
		conn:            conn,
		now:             time.Now,
	}
}

// ID returns the remote job id, empty until Create succeeds
func (j *Job) ID() string {
	return j.id
}

func (j *Job) assignID(id string) error {
	if j.id != "" {
		return errors.NewInternalError(fmt.Sprintf("job id already assigned: %s", j.id), nil)
	}
	j.id = id
	return nil
}

// Batch looks up a batch by id
func (j *Job) Batch(id string) *Batch {
	for _, b := range j.Batches {
		if b.id == id {
			return b
		}
	}
	return nil
}

func (j *Job) isExcluded(field string) bool {
	_, ok := j.NullExclusions[field]
	return ok
}

// Batch is one chunk of records, or the single query, of a job
type Batch struct {
	id           string
	state        types.BatchState
	StateMessage string

	Kind    PayloadKind
	Records []*types.Record
	Query   string

	RecordsProcessed int
	RecordsFailed    int

	ResultsFetched bool
	// Results holds per-record outcomes of a non-query batch
	Results []RecordResult
	// Rows holds the rows returned by a query batch
	Rows []*types.Record
}

// ID returns the remote batch id, empty until submitted
func (b *Batch) ID() string {
	return b.id
}

// State returns the last state observed from the platform
func (b *Batch) State() types.BatchState {
	return b.state
}

func (b *Batch) assignID(id string) error {
	if b.id != "" {
		return errors.NewInternalError(fmt.Sprintf("batch id already assigned: %s", b.id), nil)
	}
	b.id = id
	return nil
}

// observe caches what the platform reported about the batch
func (b *Batch) observe(info *BatchInfo) {
	if info == nil {
		return
	}
	if info.State != "" {
		b.state = info.State
	}
	b.StateMessage = info.StateMessage
	b.RecordsProcessed = info.NumberRecordsProcessed
	b.RecordsFailed = info.NumberRecordsFailed
}

// BatchReport is a serializable view of a batch
type BatchReport struct {
	ID               string                   `json:"id"`
	State            types.BatchState         `json:"state"`
	StateMessage     string                   `json:"stateMessage,omitempty"`
	RecordsProcessed int                      `json:"recordsProcessed"`
	RecordsFailed    int                      `json:"recordsFailed"`
	Results          []RecordResult           `json:"results,omitempty"`
	Rows             []map[string]interface{} `json:"rows,omitempty"`
}

// Report returns a serializable view of the batch
func (b *Batch) Report() BatchReport {
	report := BatchReport{
		ID:               b.id,
		State:            b.state,
		StateMessage:     b.StateMessage,
		RecordsProcessed: b.RecordsProcessed,
		RecordsFailed:    b.RecordsFailed,
		Results:          b.Results,
	}
	for _, row := range b.Rows {
		report.Rows = append(report.Rows, row.Map())
	}
	return report
}
