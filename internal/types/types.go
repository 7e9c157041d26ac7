// Package types provides common type definitions for the bulk loader.
package types

import "fmt"

// Operation represents the kind of work a bulk job performs
type Operation string

const (
	// OperationInsert creates new records
	OperationInsert Operation = "insert"
	// OperationUpdate modifies existing records by id
	OperationUpdate Operation = "update"
	// OperationUpsert inserts or updates records matched on an external key field
	OperationUpsert Operation = "upsert"
	// OperationDelete removes records by id
	OperationDelete Operation = "delete"
	// OperationQuery runs a query and returns the matching rows
	OperationQuery Operation = "query"
)

// ParseOperation converts a string into an Operation
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OperationInsert, OperationUpdate, OperationUpsert, OperationDelete, OperationQuery:
		return op, nil
	case "create":
		return OperationInsert, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// IsQuery reports whether the operation reads rows instead of writing records
func (o Operation) IsQuery() bool {
	return o == OperationQuery
}

// ConcurrencyMode controls whether the platform may process a job's batches in parallel
type ConcurrencyMode string

const (
	// ConcurrencyParallel lets the platform process batches concurrently (platform default)
	ConcurrencyParallel ConcurrencyMode = "Parallel"
	// ConcurrencySerial forces batches to be processed one at a time
	ConcurrencySerial ConcurrencyMode = "Serial"
)

// JobState is the remote state of a job
type JobState string

const (
	JobStateOpen    JobState = "Open"
	JobStateClosed  JobState = "Closed"
	JobStateAborted JobState = "Aborted"
	JobStateFailed  JobState = "Failed"
)

// BatchState is the remote state of a batch. The platform is the only
// authority advancing it; the loader only records what it observed.
type BatchState string

const (
	// BatchStateQueued represents a batch waiting to be processed
	BatchStateQueued BatchState = "Queued"
	// BatchStateInProgress represents a batch currently being processed
	BatchStateInProgress BatchState = "InProgress"
	// BatchStateCompleted represents a processed batch; individual records may still have failed
	BatchStateCompleted BatchState = "Completed"
	// BatchStateFailed represents a batch the platform could not process
	BatchStateFailed BatchState = "Failed"
	// BatchStateNotProcessed represents a batch skipped by the platform
	BatchStateNotProcessed BatchState = "NotProcessed"
)

// IsTerminal reports whether the batch will not change state anymore
func (s BatchState) IsTerminal() bool {
	return s != "" && s != BatchStateQueued && s != BatchStateInProgress
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
