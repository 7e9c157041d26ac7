package models

import (
	"time"
)

// JobRecord represents a bulk job in the history store
type JobRecord struct {
	JobID            string     `json:"jobId" db:"job_id"`
	RunID            string     `json:"runId,omitempty" db:"run_id"`
	Operation        string     `json:"operation" db:"operation"`
	Object           string     `json:"object" db:"object"`
	ExternalKeyField *string    `json:"externalKeyField,omitempty" db:"external_key_field"`
	ConcurrencyMode  string     `json:"concurrencyMode" db:"concurrency_mode"`
	State            string     `json:"state" db:"state"` // Open, Closed, Aborted, Failed
	BatchCount       int        `json:"batchCount" db:"batch_count"`
	RecordCount      int        `json:"recordCount" db:"record_count"`
	RecordsProcessed int        `json:"recordsProcessed" db:"records_processed"`
	RecordsFailed    int        `json:"recordsFailed" db:"records_failed"`
	CreatedAt        time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time  `json:"updatedAt" db:"updated_at"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty" db:"finished_at"`
	Error            *string    `json:"error,omitempty" db:"error"`
}

// BatchRecord represents one batch of a job in the history store
type BatchRecord struct {
	JobID            string    `json:"jobId" db:"job_id"`
	BatchID          string    `json:"batchId" db:"batch_id"`
	Position         int       `json:"position" db:"position"` // submission order within the job
	State            string    `json:"state" db:"state"`       // Queued, InProgress, Completed, Failed, NotProcessed
	StateMessage     *string   `json:"stateMessage,omitempty" db:"state_message"`
	RecordCount      int       `json:"recordCount" db:"record_count"`
	RecordsProcessed int       `json:"recordsProcessed" db:"records_processed"`
	RecordsFailed    int       `json:"recordsFailed" db:"records_failed"`
	ResultsFetched   bool      `json:"resultsFetched" db:"results_fetched"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

// OpenJob is a job that was created but not yet observed to completion.
// Kept in Redis so an interrupted run can be resumed.
type OpenJob struct {
	JobID     string    `json:"jobId"`
	RunID     string    `json:"runId,omitempty"`
	Operation string    `json:"operation"`
	Object    string    `json:"object"`
	CreatedAt time.Time `json:"createdAt"`
}
