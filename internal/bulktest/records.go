package bulktest

import (
	"bytes"
	"encoding/xml"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bulk-loader/internal/bulk"
	"github.com/bulk-loader/internal/types"
)

const (
	xmlHeader    = `<?xml version="1.0" encoding="UTF-8"?>`
	xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"
)

type jobInfoDoc struct {
	XMLName xml.Name `xml:"http://www.force.com/2009/06/asyncapi/dataload jobInfo"`
	bulk.JobInfo
}

type batchInfoDoc struct {
	XMLName xml.Name `xml:"http://www.force.com/2009/06/asyncapi/dataload batchInfo"`
	bulk.BatchInfo
}

type batchInfoListDoc struct {
	XMLName xml.Name         `xml:"http://www.force.com/2009/06/asyncapi/dataload batchInfoList"`
	Batches []bulk.BatchInfo `xml:"batchInfo"`
}

type resultsDoc struct {
	XMLName xml.Name            `xml:"http://www.force.com/2009/06/asyncapi/dataload results"`
	Results []bulk.RecordResult `xml:"result"`
}

type resultListDoc struct {
	XMLName   xml.Name `xml:"http://www.force.com/2009/06/asyncapi/dataload result-list"`
	ResultIDs []string `xml:"result"`
}

type errorDoc struct {
	XMLName          xml.Name `xml:"http://www.force.com/2009/06/asyncapi/dataload error"`
	ExceptionCode    string   `xml:"exceptionCode"`
	ExceptionMessage string   `xml:"exceptionMessage"`
}

func writeXML(w http.ResponseWriter, status int, doc interface{}) {
	body, err := xml.Marshal(doc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(xmlHeader))
	_, _ = w.Write(body)
}

func writeException(w http.ResponseWriter, status int, code, message string) {
	writeXML(w, status, errorDoc{ExceptionCode: code, ExceptionMessage: message})
}

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return xml.Unmarshal(body, v)
}

// applyLocked runs a write batch against the object's table
func (s *Server) applyLocked(job *fakeJob, b *fakeBatch, records []*types.Record) {
	for _, rec := range records {
		res := s.applyOneLocked(job, rec)
		b.results = append(b.results, res)
		b.processed++
		if !res.Success {
			b.failed++
		}
	}
}

func (s *Server) applyOneLocked(job *fakeJob, rec *types.Record) bulk.RecordResult {
	object := job.info.Object

	switch job.info.Operation {
	case types.OperationInsert:
		return s.insertLocked(object, rec)

	case types.OperationUpdate:
		row := s.findLocked(object, "Id", rec.Get("Id").String())
		if row == nil {
			return failure("INVALID_CROSS_REFERENCE_KEY", "invalid cross reference id", "Id")
		}
		merge(row, rec)
		return bulk.RecordResult{ID: row.Get("Id").String(), Success: true}

	case types.OperationUpsert:
		key := job.info.ExternalIDFieldName
		value := rec.Get(key).String()
		if value == "" {
			return failure("MISSING_ARGUMENT", key+" not specified", key)
		}
		if row := s.findLocked(object, key, value); row != nil {
			merge(row, rec)
			return bulk.RecordResult{ID: row.Get("Id").String(), Success: true}
		}
		return s.insertLocked(object, rec)

	case types.OperationDelete:
		id := rec.Get("Id").String()
		table := s.tables[object]
		for i, row := range table {
			if row.Get("Id").String() == id {
				s.tables[object] = append(table[:i:i], table[i+1:]...)
				return bulk.RecordResult{ID: id, Success: true}
			}
		}
		return failure("ENTITY_IS_DELETED", "entity is deleted", "Id")
	}
	return failure("INVALID_OPERATION", "unsupported operation", "")
}

func (s *Server) insertLocked(object string, rec *types.Record) bulk.RecordResult {
	if s.requiredField != "" && rec.Get(s.requiredField).IsEmpty() {
		return failure("REQUIRED_FIELD_MISSING", "Required fields are missing: ["+s.requiredField+"]", s.requiredField)
	}
	id := newID("001")
	row := types.NewRecord().Set("Id", types.Text(id))
	merge(row, rec)
	s.tables[object] = append(s.tables[object], row)
	return bulk.RecordResult{ID: id, Success: true, Created: true}
}

func (s *Server) findLocked(object, field, value string) *types.Record {
	if value == "" {
		return nil
	}
	for _, row := range s.tables[object] {
		if row.Get(field).String() == value {
			return row
		}
	}
	return nil
}

// merge copies rec onto row; null and empty fields clear the column
func merge(row, rec *types.Record) {
	for _, f := range rec.Fields() {
		if f == "Id" {
			continue
		}
		v := rec.Get(f)
		if v.IsEmpty() {
			row.Delete(f)
			continue
		}
		row.Set(f, v)
	}
}

func failure(code, message, field string) bulk.RecordResult {
	e := bulk.RecordError{StatusCode: code, Message: message}
	if field != "" {
		e.Fields = []string{field}
	}
	return bulk.RecordResult{Errors: []bulk.RecordError{e}}
}

// runQueryLocked answers a query with the object's rows projected onto the
// selected fields. Filters are ignored.
func (s *Server) runQueryLocked(job *fakeJob, b *fakeBatch, query string) {
	fields, err := selectedFields(query)
	if err != nil {
		b.info.State = types.BatchStateFailed
		b.info.StateMessage = "MALFORMED_QUERY: " + err.Error()
		return
	}

	var rows []*types.Record
	for _, row := range s.tables[job.info.Object] {
		projected := types.NewRecord()
		for _, f := range fields {
			v := row.Get(f)
			if v.IsAbsent() {
				v = types.Null()
			}
			projected.Set(f, v)
		}
		rows = append(rows, projected)
	}

	b.resultSets = make(map[string][]*types.Record)
	for start := 0; start == 0 || start < len(rows); start += s.resultSetSize {
		end := start + s.resultSetSize
		if end > len(rows) {
			end = len(rows)
		}
		id := newID("752")
		b.resultIDs = append(b.resultIDs, id)
		b.resultSets[id] = rows[start:end]
	}
	b.processed = len(rows)
}

func selectedFields(query string) ([]string, error) {
	upper := strings.ToUpper(query)
	if !strings.HasPrefix(strings.TrimSpace(upper), "SELECT ") {
		return nil, fmt.Errorf("expected SELECT")
	}
	from := strings.Index(upper, " FROM ")
	if from < 0 {
		return nil, fmt.Errorf("expected FROM")
	}
	list := strings.TrimSpace(query[strings.Index(upper, "SELECT ")+len("SELECT ") : from])
	var fields []string
	for _, f := range strings.Split(list, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields selected")
	}
	return fields, nil
}

func renderQueryResult(rows []*types.Record) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	fmt.Fprintf(&buf, `<queryResult xmlns="%s" xmlns:xsi="%s">`, bulk.Namespace, xsiNamespace)
	for _, row := range rows {
		buf.WriteString(`<records xsi:type="sObject">`)
		renderFields(&buf, row)
		buf.WriteString(`</records>`)
	}
	buf.WriteString(`</queryResult>`)
	return buf.Bytes()
}

func renderFields(buf *bytes.Buffer, rec *types.Record) {
	for _, f := range rec.Fields() {
		v := rec.Get(f)
		switch {
		case v.IsNested():
			fmt.Fprintf(buf, `<%s xsi:type="sObject">`, f)
			renderFields(buf, v.Record())
			fmt.Fprintf(buf, `</%s>`, f)
		case v.Kind() == types.KindNull:
			fmt.Fprintf(buf, `<%s xsi:nil="true"/>`, f)
		default:
			fmt.Fprintf(buf, "<%s>", f)
			_ = xml.EscapeText(buf, []byte(v.String()))
			fmt.Fprintf(buf, "</%s>", f)
		}
	}
}

// parseSObjects reads the records of a batch payload
func parseSObjects(body []byte) ([]*types.Record, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var out []*types.Record
	for {
		tok, err := dec.Token()
		if stderrors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "sObject" {
			continue
		}
		rec, err := parseRecord(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// parseRecord reads the fields of an sObject element up to its end tag
func parseRecord(dec *xml.Decoder) (*types.Record, error) {
	rec := types.NewRecord()
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			v, err := parseField(dec, t)
			if err != nil {
				return nil, err
			}
			rec.Set(t.Name.Local, v)
		case xml.EndElement:
			return rec, nil
		}
	}
}

// parseField reads one field. A relationship reference holds exactly one
// sObject element; any other child element is rejected.
func parseField(dec *xml.Decoder, start xml.StartElement) (types.FieldValue, error) {
	isNil := false
	for _, a := range start.Attr {
		if a.Name.Local == "nil" && a.Value == "true" {
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
			if t.Name.Local != "sObject" || nested != nil {
				return types.FieldValue{}, fmt.Errorf("field %s: unexpected element %s", start.Name.Local, t.Name.Local)
			}
			if nested, err = parseRecord(dec); err != nil {
				return types.FieldValue{}, err
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
