package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/models"
)

// JobRepository handles job and batch history persistence
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

// JobFilter narrows ListJobs
type JobFilter struct {
	Object    string
	Operation string
	State     string
	Limit     int
	Offset    int
}

// SaveJob inserts or updates a job. A later save from a resumed run keeps
// the original creation time, run id and record count.
func (r *JobRepository) SaveJob(ctx context.Context, job *models.JobRecord) error {
	query := `
		INSERT INTO bulk_jobs (
			job_id, run_id, operation, object, external_key_field, concurrency_mode, state,
			batch_count, record_count, records_processed, records_failed,
			created_at, updated_at, finished_at, error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (job_id) DO UPDATE SET
			run_id = COALESCE(NULLIF(bulk_jobs.run_id, ''), EXCLUDED.run_id),
			object = COALESCE(NULLIF(EXCLUDED.object, ''), bulk_jobs.object),
			state = EXCLUDED.state,
			batch_count = GREATEST(bulk_jobs.batch_count, EXCLUDED.batch_count),
			record_count = GREATEST(bulk_jobs.record_count, EXCLUDED.record_count),
			records_processed = EXCLUDED.records_processed,
			records_failed = EXCLUDED.records_failed,
			updated_at = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at,
			error = EXCLUDED.error
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.JobID,
		job.RunID,
		job.Operation,
		job.Object,
		job.ExternalKeyField,
		job.ConcurrencyMode,
		job.State,
		job.BatchCount,
		job.RecordCount,
		job.RecordsProcessed,
		job.RecordsFailed,
		job.CreatedAt,
		job.UpdatedAt,
		job.FinishedAt,
		job.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.JobID, err)
	}
	return nil
}

// SaveBatches upserts every batch of a job in one transaction
func (r *JobRepository) SaveBatches(ctx context.Context, jobID string, batches []*models.BatchRecord) error {
	if len(batches) == 0 {
		return nil
	}

	query := `
		INSERT INTO bulk_batches (
			job_id, batch_id, position, state, state_message,
			record_count, records_processed, records_failed, results_fetched, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id, batch_id) DO UPDATE SET
			state = EXCLUDED.state,
			state_message = EXCLUDED.state_message,
			record_count = GREATEST(bulk_batches.record_count, EXCLUDED.record_count),
			records_processed = EXCLUDED.records_processed,
			records_failed = EXCLUDED.records_failed,
			results_fetched = bulk_batches.results_fetched OR EXCLUDED.results_fetched,
			updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for _, b := range batches {
		batch.Queue(query,
			jobID,
			b.BatchID,
			b.Position,
			b.State,
			b.StateMessage,
			b.RecordCount,
			b.RecordsProcessed,
			b.RecordsFailed,
			b.ResultsFetched,
			b.UpdatedAt,
		)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	results := tx.SendBatch(ctx, batch)
	for range batches {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to save batches of job %s: %w", jobID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to save batches of job %s: %w", jobID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batches of job %s: %w", jobID, err)
	}
	return nil
}

const jobColumns = `job_id, run_id, operation, object, external_key_field, concurrency_mode, state,
	batch_count, record_count, records_processed, records_failed,
	created_at, updated_at, finished_at, error`

func scanJob(row pgx.Row) (*models.JobRecord, error) {
	var job models.JobRecord
	err := row.Scan(
		&job.JobID,
		&job.RunID,
		&job.Operation,
		&job.Object,
		&job.ExternalKeyField,
		&job.ConcurrencyMode,
		&job.State,
		&job.BatchCount,
		&job.RecordCount,
		&job.RecordsProcessed,
		&job.RecordsFailed,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.FinishedAt,
		&job.Error,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob retrieves a job by id
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM bulk_jobs WHERE job_id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("job", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first
func (r *JobRepository) ListJobs(ctx context.Context, filter JobFilter) ([]*models.JobRecord, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := `
		SELECT ` + jobColumns + `
		FROM bulk_jobs
		WHERE ($1 = '' OR object = $1)
		  AND ($2 = '' OR operation = $2)
		  AND ($3 = '' OR state = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.db.Pool().Query(ctx, query, filter.Object, filter.Operation, filter.State, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.JobRecord, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// ListBatches returns a job's batches in submission order
func (r *JobRepository) ListBatches(ctx context.Context, jobID string) ([]*models.BatchRecord, error) {
	query := `
		SELECT job_id, batch_id, position, state, state_message,
			   record_count, records_processed, records_failed, results_fetched, updated_at
		FROM bulk_batches
		WHERE job_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches := make([]*models.BatchRecord, 0)
	for rows.Next() {
		var b models.BatchRecord
		if err := rows.Scan(
			&b.JobID,
			&b.BatchID,
			&b.Position,
			&b.State,
			&b.StateMessage,
			&b.RecordCount,
			&b.RecordsProcessed,
			&b.RecordsFailed,
			&b.ResultsFetched,
			&b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}
	return batches, nil
}
