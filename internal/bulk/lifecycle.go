package bulk

import (
	"context"
	stderrors "errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/logging"
	"github.com/bulk-loader/internal/types"
)

// Create creates the job remotely and records its id
func (j *Job) Create(ctx context.Context) error {
	if j.id != "" {
		return errors.NewValidationError("job", "already created as "+j.id)
	}

	doc := jobInfoRequest{
		Operation:   string(j.Operation),
		Object:      j.Object,
		ContentType: contentXML,
	}
	if j.Operation == types.OperationUpsert {
		doc.ExternalIDFieldName = j.ExternalKeyField
	}
	if j.ConcurrencyMode == types.ConcurrencySerial {
		doc.ConcurrencyMode = string(types.ConcurrencySerial)
	}
	body, err := marshalDoc(doc)
	if err != nil {
		return err
	}

	resp, err := j.post(ctx, "job", body)
	if err != nil {
		return err
	}
	var info JobInfo
	if err := decodeResponse("job info", resp, &info); err != nil {
		return err
	}
	if info.ID == "" {
		return errors.NewMalformedResponseError("job info", fmt.Errorf("missing job id"))
	}
	if err := j.assignID(info.ID); err != nil {
		return err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":     j.id,
		"operation": string(j.Operation),
		"object":    j.Object,
	}).Info("Created bulk job")
	return nil
}

// AddBatches splits records into batches and submits them in order
func (j *Job) AddBatches(ctx context.Context, records interface{}) error {
	if j.Operation.IsQuery() {
		return errors.NewValidationError("operation", "query jobs take a query, not records")
	}
	plan, err := Split(j.Operation, records, j.BatchSizeLimit)
	if err != nil {
		return err
	}
	return j.Submit(ctx, plan, 1)
}

// AddQuery submits the single query batch of a query job
func (j *Job) AddQuery(ctx context.Context, query string) error {
	if !j.Operation.IsQuery() {
		return errors.NewValidationError("operation", "only query jobs take a query")
	}
	plan, err := Split(j.Operation, query, j.BatchSizeLimit)
	if err != nil {
		return err
	}
	return j.Submit(ctx, plan, 1)
}

// Submit encodes and posts every batch of plan. Up to concurrency batches
// are in flight at once; the job's batch list keeps plan order either way.
// On failure the batches that were accepted are still recorded.
func (j *Job) Submit(ctx context.Context, plan *Plan, concurrency int) error {
	if j.id == "" {
		return errors.NewValidationError("job", "must be created before adding batches")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	enc := NewEncoder(plan.Fields, j.SendNulls, j.NullExclusions)
	payloads := make([][]byte, len(plan.Batches))
	for i, b := range plan.Batches {
		payload, err := enc.Encode(b)
		if err != nil {
			return err
		}
		payloads[i] = payload
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range plan.Batches {
		b, payload := plan.Batches[i], payloads[i]
		g.Go(func() error {
			return j.submitBatch(gctx, b, payload)
		})
	}
	err := g.Wait()

	for _, b := range plan.Batches {
		if b.id != "" {
			j.Batches = append(j.Batches, b)
		}
	}
	if err != nil {
		return err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":   j.id,
		"batches": len(plan.Batches),
		"records": plan.RecordCount(),
	}).Info("Submitted batches")
	return nil
}

func (j *Job) submitBatch(ctx context.Context, b *Batch, payload []byte) error {
	resp, err := j.post(ctx, fmt.Sprintf("job/%s/batch", j.id), payload)
	if err != nil {
		return err
	}
	var info BatchInfo
	if err := decodeResponse("batch info", resp, &info); err != nil {
		return err
	}
	if info.ID == "" {
		return errors.NewMalformedResponseError("batch info", fmt.Errorf("missing batch id"))
	}
	if err := b.assignID(info.ID); err != nil {
		return err
	}
	b.observe(&info)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":   j.id,
		"batchId": b.id,
		"records": len(b.Records),
	}).Debug("Added batch")
	return nil
}

// Close tells the platform no more batches are coming. Closing a job that
// is already closed succeeds and returns its current info.
func (j *Job) Close(ctx context.Context) (*JobInfo, error) {
	if j.id == "" {
		return nil, errors.NewValidationError("job", "must be created before closing")
	}

	body, err := marshalDoc(jobInfoRequest{State: string(types.JobStateClosed)})
	if err != nil {
		return nil, err
	}
	resp, err := j.post(ctx, "job/"+j.id, body)
	if err != nil {
		return nil, err
	}

	var info JobInfo
	err = decodeResponse("job info", resp, &info)
	if err != nil {
		if ce := errors.Categorize(err); ce.Category == errors.CategoryProtocol && ce.Code == exceptionInvalidJobState {
			current, statusErr := j.Status(ctx)
			if statusErr == nil && current.State == types.JobStateClosed {
				return current, nil
			}
		}
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId": j.id,
		"state": string(info.State),
	}).Info("Closed bulk job")
	return &info, nil
}

// Status fetches the job's current info
func (j *Job) Status(ctx context.Context) (*JobInfo, error) {
	if j.id == "" {
		return nil, errors.NewValidationError("job", "has no id")
	}
	resp, err := j.get(ctx, "job/"+j.id)
	if err != nil {
		return nil, err
	}
	var info JobInfo
	if err := decodeResponse("job info", resp, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// BatchStatus fetches one batch's current info. A batch known to the job
// has the observed state cached.
func (j *Job) BatchStatus(ctx context.Context, batchID string) (*BatchInfo, error) {
	if j.id == "" {
		return nil, errors.NewValidationError("job", "has no id")
	}
	if batchID == "" {
		return nil, errors.NewValidationError("batch id", "is required")
	}
	resp, err := j.get(ctx, fmt.Sprintf("job/%s/batch/%s", j.id, batchID))
	if err != nil {
		return nil, err
	}
	var info BatchInfo
	if err := decodeResponse("batch info", resp, &info); err != nil {
		return nil, err
	}
	if b := j.Batch(batchID); b != nil {
		b.observe(&info)
	}
	return &info, nil
}

// LoadBatches lists the job's batches on the platform, adding unknown ones
// to the job and refreshing the state of known ones
func (j *Job) LoadBatches(ctx context.Context) error {
	if j.id == "" {
		return errors.NewValidationError("job", "has no id")
	}
	resp, err := j.get(ctx, fmt.Sprintf("job/%s/batch", j.id))
	if err != nil {
		return err
	}
	var list batchInfoList
	if err := decodeResponse("batch info list", resp, &list); err != nil {
		return err
	}

	kind := PayloadRecordSet
	if j.Operation.IsQuery() {
		kind = PayloadRawQuery
	}
	for i := range list.Batches {
		info := &list.Batches[i]
		b := j.Batch(info.ID)
		if b == nil {
			b = &Batch{id: info.ID, Kind: kind}
			j.Batches = append(j.Batches, b)
		}
		b.observe(info)
	}
	return nil
}

func (j *Job) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	resp, err := j.conn.PostPayload(ctx, path, body, xmlHeaders)
	if err != nil {
		return nil, asTransportError("POST "+path, err)
	}
	return resp, nil
}

func (j *Job) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := j.conn.GetResource(ctx, path, nil)
	if err != nil {
		return nil, asTransportError("GET "+path, err)
	}
	return resp, nil
}

// asTransportError leaves categorized errors alone and files anything else
// a Transport returns under the transport category
func asTransportError(op string, err error) error {
	var ce *errors.CategorizedError
	if stderrors.As(err, &ce) {
		return err
	}
	return errors.NewTransportError(op, err)
}
