package bulk

import (
	"context"
	"fmt"

	"github.com/bulk-loader/internal/logging"
	"github.com/bulk-loader/internal/types"
)

// FetchResults downloads the results of every Completed batch in batches
// that has not been fetched yet. Failed and NotProcessed batches keep only
// their state and message.
//
// A query batch's result is a list of result-set ids; each set is fetched
// in turn and the rows are concatenated in list order.
func (j *Job) FetchResults(ctx context.Context, batches []*Batch) error {
	for _, b := range batches {
		if b.state != types.BatchStateCompleted || b.ResultsFetched {
			continue
		}
		if err := j.fetchBatchResults(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) fetchBatchResults(ctx context.Context, b *Batch) error {
	path := fmt.Sprintf("job/%s/batch/%s/result", j.id, b.id)
	body, err := j.get(ctx, path)
	if err != nil {
		return err
	}

	if b.Kind != PayloadRawQuery {
		var list recordResultList
		if err := decodeResponse("batch result", body, &list); err != nil {
			return err
		}
		b.Results = list.Results
		b.ResultsFetched = true
		return nil
	}

	var list queryResultList
	if err := decodeResponse("query result list", body, &list); err != nil {
		return err
	}
	var rows []*types.Record
	for _, rid := range list.ResultIDs {
		data, err := j.get(ctx, path+"/"+rid)
		if err != nil {
			return err
		}
		set, err := decodeQueryRows(data)
		if err != nil {
			return err
		}
		rows = append(rows, set...)
	}
	b.Rows = rows
	b.ResultsFetched = true

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":      j.id,
		"batchId":    b.id,
		"resultSets": len(list.ResultIDs),
		"rows":       len(rows),
	}).Debug("Fetched query results")
	return nil
}
