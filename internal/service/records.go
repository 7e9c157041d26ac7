package service

import (
	"time"

	"github.com/bulk-loader/internal/bulk"
	"github.com/bulk-loader/internal/models"
	"github.com/bulk-loader/internal/types"
)

func toJobRecord(job *bulk.Job, info *bulk.JobInfo, runErr error, now time.Time) *models.JobRecord {
	rec := &models.JobRecord{
		JobID:           job.ID(),
		RunID:           job.RunID,
		Operation:       string(job.Operation),
		Object:          job.Object,
		ConcurrencyMode: string(job.ConcurrencyMode),
		State:           string(types.JobStateOpen),
		BatchCount:      len(job.Batches),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if job.ExternalKeyField != "" {
		key := job.ExternalKeyField
		rec.ExternalKeyField = &key
	}
	if info != nil {
		rec.State = string(info.State)
		if rec.Object == "" {
			rec.Object = info.Object
		}
	}

	finished := len(job.Batches) > 0
	for _, b := range job.Batches {
		rec.RecordCount += len(b.Records)
		rec.RecordsProcessed += b.RecordsProcessed
		rec.RecordsFailed += b.RecordsFailed
		if !b.State().IsTerminal() {
			finished = false
		}
	}
	if finished {
		rec.FinishedAt = &now
	}
	if runErr != nil {
		msg := runErr.Error()
		rec.Error = &msg
	}
	return rec
}

func toBatchRecords(job *bulk.Job, now time.Time) []*models.BatchRecord {
	out := make([]*models.BatchRecord, 0, len(job.Batches))
	for i, b := range job.Batches {
		rec := &models.BatchRecord{
			JobID:            job.ID(),
			BatchID:          b.ID(),
			Position:         i,
			State:            string(b.State()),
			RecordCount:      len(b.Records),
			RecordsProcessed: b.RecordsProcessed,
			RecordsFailed:    b.RecordsFailed,
			ResultsFetched:   b.ResultsFetched,
			UpdatedAt:        now,
		}
		if b.StateMessage != "" {
			msg := b.StateMessage
			rec.StateMessage = &msg
		}
		out = append(out, rec)
	}
	return out
}
