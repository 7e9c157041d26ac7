package bulk

import (
	"bytes"
	"encoding/xml"
	stderrors "errors"
	"io"
	"strings"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/types"
)

const (
	// Namespace is the XML namespace of every bulk API document
	Namespace    = "http://www.force.com/2009/06/asyncapi/dataload"
	xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"
	xmlHeader    = `<?xml version="1.0" encoding="utf-8" ?>`

	contentTypeXML = "application/xml; charset=utf-8"
	contentXML     = "XML"

	// exceptionInvalidJobState is returned when closing a job that is already closed
	exceptionInvalidJobState = "InvalidJobState"
)

var xmlHeaders = map[string]string{"Content-Type": contentTypeXML}

// jobInfoRequest is the job-control document sent to create or close a job
type jobInfoRequest struct {
	XMLName             xml.Name `xml:"http://www.force.com/2009/06/asyncapi/dataload jobInfo"`
	Operation           string   `xml:"operation,omitempty"`
	Object              string   `xml:"object,omitempty"`
	ExternalIDFieldName string   `xml:"externalIdFieldName,omitempty"`
	ConcurrencyMode     string   `xml:"concurrencyMode,omitempty"`
	ContentType         string   `xml:"contentType,omitempty"`
	State               string   `xml:"state,omitempty"`
}

func marshalDoc(doc interface{}) ([]byte, error) {
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode job document", err)
	}
	return append([]byte(xmlHeader), body...), nil
}

// JobInfo is the platform's description of a job
type JobInfo struct {
	ID                      string                `xml:"id" json:"id"`
	Operation               types.Operation       `xml:"operation" json:"operation"`
	Object                  string                `xml:"object" json:"object"`
	CreatedDate             string                `xml:"createdDate" json:"createdDate,omitempty"`
	State                   types.JobState        `xml:"state" json:"state"`
	ExternalIDFieldName     string                `xml:"externalIdFieldName" json:"externalIdFieldName,omitempty"`
	ConcurrencyMode         types.ConcurrencyMode `xml:"concurrencyMode" json:"concurrencyMode"`
	ContentType             string                `xml:"contentType" json:"contentType"`
	NumberBatchesQueued     int                   `xml:"numberBatchesQueued" json:"numberBatchesQueued"`
	NumberBatchesInProgress int                   `xml:"numberBatchesInProgress" json:"numberBatchesInProgress"`
	NumberBatchesCompleted  int                   `xml:"numberBatchesCompleted" json:"numberBatchesCompleted"`
	NumberBatchesFailed     int                   `xml:"numberBatchesFailed" json:"numberBatchesFailed"`
	NumberBatchesTotal      int                   `xml:"numberBatchesTotal" json:"numberBatchesTotal"`
	NumberRecordsProcessed  int                   `xml:"numberRecordsProcessed" json:"numberRecordsProcessed"`
	NumberRecordsFailed     int                   `xml:"numberRecordsFailed" json:"numberRecordsFailed"`
	APIVersion              string                `xml:"apiVersion" json:"apiVersion,omitempty"`
}

// BatchInfo is the platform's description of a batch
type BatchInfo struct {
	ID                     string           `xml:"id" json:"id"`
	JobID                  string           `xml:"jobId" json:"jobId"`
	State                  types.BatchState `xml:"state" json:"state"`
	StateMessage           string           `xml:"stateMessage" json:"stateMessage,omitempty"`
	CreatedDate            string           `xml:"createdDate" json:"createdDate,omitempty"`
	NumberRecordsProcessed int              `xml:"numberRecordsProcessed" json:"numberRecordsProcessed"`
	NumberRecordsFailed    int              `xml:"numberRecordsFailed" json:"numberRecordsFailed"`
}

type batchInfoList struct {
	Batches []BatchInfo `xml:"batchInfo"`
}

// RecordResult is the outcome of one record of a non-query batch, in the
// order the records were submitted
type RecordResult struct {
	ID      string        `xml:"id" json:"id,omitempty"`
	Success bool          `xml:"success" json:"success"`
	Created bool          `xml:"created" json:"created"`
	Errors  []RecordError `xml:"errors" json:"errors,omitempty"`
}

// RecordError explains why a record failed
type RecordError struct {
	StatusCode string   `xml:"statusCode" json:"statusCode"`
	Message    string   `xml:"message" json:"message"`
	Fields     []string `xml:"fields" json:"fields,omitempty"`
}

type recordResultList struct {
	Results []RecordResult `xml:"result"`
}

// queryResultList names the result sets holding a query batch's rows
type queryResultList struct {
	ResultIDs []string `xml:"result"`
}

type exceptionDoc struct {
	ExceptionCode    string `xml:"exceptionCode"`
	ExceptionMessage string `xml:"exceptionMessage"`
}

// checkException turns an embedded exception document into a protocol error
func checkException(body []byte) error {
	if !bytes.Contains(body, []byte("exceptionCode")) {
		return nil
	}
	var exc exceptionDoc
	if err := xml.Unmarshal(body, &exc); err != nil {
		return nil
	}
	if exc.ExceptionCode == "" {
		return nil
	}
	return errors.NewProtocolError(exc.ExceptionCode, exc.ExceptionMessage)
}

// decodeResponse checks body for an embedded exception, then decodes it into v
func decodeResponse(what string, body []byte, v interface{}) error {
	if err := checkException(body); err != nil {
		return err
	}
	if err := xml.Unmarshal(body, v); err != nil {
		return errors.NewMalformedResponseError(what, err)
	}
	return nil
}

// decodeQueryRows reads the records of a query result set. Relationship
// fields become nested records and xsi:nil elements become nulls.
func decodeQueryRows(body []byte) ([]*types.Record, error) {
	if err := checkException(body); err != nil {
		return nil, err
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	var rows []*types.Record
	for {
		tok, err := dec.Token()
		if stderrors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, errors.NewMalformedResponseError("query result", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "records" {
			continue
		}
		v, err := decodeElement(dec, start)
		if err != nil {
			return nil, errors.NewMalformedResponseError("query result", err)
		}
		row := v.Record()
		if row == nil {
			row = types.NewRecord()
		}
		rows = append(rows, row)
	}
}

// decodeElement consumes tokens up to the end of start
func decodeElement(dec *xml.Decoder, start xml.StartElement) (types.FieldValue, error) {
	isNil := false
	for _, attr := range start.Attr {
		if attr.Name.Local == "nil" && attr.Value == "true" {
			isNil = true
		}
	}

	var text strings.Builder
	var nested *types.Record
	for {
		tok, err := dec.Token()
		if err != nil {
			return types.FieldValue{}, err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			child, err := decodeElement(dec, t)
			if err != nil {
				return types.FieldValue{}, err
			}
			if nested == nil {
				nested = types.NewRecord()
			}
			// the platform repeats Id in some rows; the first one wins
			if !nested.Has(t.Name.Local) {
				nested.Set(t.Name.Local, child)
			}
		case xml.EndElement:
			switch {
			case nested != nil:
				return types.Nested(nested), nil
			case isNil:
				return types.Null(), nil
			default:
				return types.Text(text.String()), nil
			}
		}
	}
}
