package bulk

import (
	"fmt"
	"strings"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/types"
)

// Plan is the result of splitting a job's input into batches
type Plan struct {
	// Fields is the union of field names across all records, in first-seen order
	Fields  []string
	Batches []*Batch
}

// RecordCount returns the number of records across all batches
func (p *Plan) RecordCount() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Records)
	}
	return n
}

// Split turns input into batches of at most limit records. A query
// operation takes the query text and always yields exactly one batch.
// Record order is preserved within and across batches.
func Split(op types.Operation, input interface{}, limit int) (*Plan, error) {
	if op.IsQuery() {
		query, err := toQuery(input)
		if err != nil {
			return nil, err
		}
		return &Plan{Batches: []*Batch{{Kind: PayloadRawQuery, Query: query}}}, nil
	}

	if limit <= 0 {
		return nil, errors.NewValidationError("batch size", "must be positive")
	}
	records, err := toRecords(input)
	if err != nil {
		return nil, err
	}
	fields, err := FieldUnion(records)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Fields: fields}
	for start := 0; start < len(records); start += limit {
		end := start + limit
		if end > len(records) {
			end = len(records)
		}
		plan.Batches = append(plan.Batches, &Batch{
			Kind:    PayloadRecordSet,
			Records: records[start:end:end],
		})
	}
	return plan, nil
}

// FieldUnion returns every field name that appears in any record, in the
// order each was first seen
func FieldUnion(records []*types.Record) ([]string, error) {
	seen := make(map[string]struct{})
	var fields []string
	for _, rec := range records {
		for _, f := range rec.Fields() {
			if _, ok := seen[f]; ok {
				continue
			}
			if !validFieldName(f) {
				return nil, errors.NewValidationError("field name", fmt.Sprintf("%q is not a valid element name", f))
			}
			seen[f] = struct{}{}
			fields = append(fields, f)
		}
	}
	return fields, nil
}

func toQuery(input interface{}) (string, error) {
	var query string
	switch q := input.(type) {
	case string:
		query = q
	case []byte:
		query = string(q)
	default:
		return "", errors.NewValidationError("query", fmt.Sprintf("must be query text, got %T", input))
	}
	if strings.TrimSpace(query) == "" {
		return "", errors.NewValidationError("query", "is empty")
	}
	return query, nil
}

// toRecords accepts the record shapes callers commonly hold
func toRecords(input interface{}) ([]*types.Record, error) {
	switch in := input.(type) {
	case nil:
		return nil, errors.NewValidationError("records", "are required")
	case []*types.Record:
		for i, rec := range in {
			if rec == nil {
				return nil, errors.NewValidationError("records", fmt.Sprintf("entry %d is nil", i))
			}
		}
		return in, nil
	case []types.Record:
		out := make([]*types.Record, len(in))
		for i := range in {
			out[i] = &in[i]
		}
		return out, nil
	case []map[string]interface{}:
		out := make([]*types.Record, 0, len(in))
		for i, m := range in {
			rec, err := types.RecordFromMap(m)
			if err != nil {
				return nil, errors.NewValidationError("records", fmt.Sprintf("entry %d: %v", i, err))
			}
			out = append(out, rec)
		}
		return out, nil
	case []interface{}:
		out := make([]*types.Record, 0, len(in))
		for i, item := range in {
			rec, err := toRecord(item)
			if err != nil {
				return nil, errors.NewValidationError("records", fmt.Sprintf("entry %d: %v", i, err))
			}
			out = append(out, rec)
		}
		return out, nil
	default:
		return nil, errors.NewValidationError("records", fmt.Sprintf("must be a sequence of field mappings, got %T", input))
	}
}

func toRecord(item interface{}) (*types.Record, error) {
	switch v := item.(type) {
	case *types.Record:
		if v == nil {
			return nil, fmt.Errorf("is nil")
		}
		return v, nil
	case types.Record:
		return &v, nil
	case map[string]interface{}:
		return types.RecordFromMap(v)
	default:
		return nil, fmt.Errorf("not a field mapping: %T", item)
	}
}

// validFieldName reports whether name can be used as an XML element name
func validFieldName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '-' || r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}
