package bulk

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bulk-loader/internal/types"
)

const testJobID = "750J0000001"

type recordedCall struct {
	method string
	path   string
	body   string
}

type fakeBatch struct {
	id      string
	payload string
	polls   int
	state   types.BatchState
}

// fakePlatform is an in-memory stand-in for the bulk API
type fakePlatform struct {
	mu sync.Mutex

	jobState types.JobState
	created  bool
	batches  []*fakeBatch
	calls    []recordedCall

	// pollsToFinish is how many status reads a batch needs before it turns
	// finalState; negative keeps batches queued forever
	pollsToFinish int
	finalState    types.BatchState
	// createException and closeException make those calls return an exception document
	createException string
	closeException  string
	// queryResultSets maps result-set id to its rows document
	queryResultSetIDs []string
	queryResultSets   map[string]string
	// failEvery marks every nth record result as failed
	failEvery int
	// transportErr is returned for every call when set
	transportErr error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		finalState:      types.BatchStateCompleted,
		queryResultSets: map[string]string{},
	}
}

func (p *fakePlatform) PostPayload(ctx context.Context, path string, body []byte, headers map[string]string) ([]byte, error) {
	return p.handle("POST", path, string(body))
}

func (p *fakePlatform) GetResource(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	return p.handle("GET", path, "")
}

func (p *fakePlatform) Calls() []recordedCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedCall, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *fakePlatform) handle(method, path, body string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, recordedCall{method: method, path: path, body: body})
	if p.transportErr != nil {
		return nil, p.transportErr
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case method == "POST" && len(parts) == 1:
		if p.createException != "" {
			return exceptionXML(p.createException), nil
		}
		p.created = true
		p.jobState = types.JobStateOpen
		return p.jobXML(), nil

	case method == "POST" && len(parts) == 2:
		if p.closeException != "" {
			return exceptionXML(p.closeException), nil
		}
		p.jobState = types.JobStateClosed
		return p.jobXML(), nil

	case method == "POST" && len(parts) == 3:
		b := &fakeBatch{
			id:      fmt.Sprintf("751B%03d", len(p.batches)+1),
			payload: body,
			state:   types.BatchStateQueued,
		}
		p.batches = append(p.batches, b)
		return batchXML(b), nil

	case method == "GET" && len(parts) == 2:
		return p.jobXML(), nil

	case method == "GET" && len(parts) == 3:
		var sb strings.Builder
		sb.WriteString(`<batchInfoList xmlns="` + Namespace + `">`)
		for _, b := range p.batches {
			sb.Write(batchXML(b))
		}
		sb.WriteString(`</batchInfoList>`)
		return []byte(sb.String()), nil

	case method == "GET" && len(parts) == 4:
		b := p.batch(parts[3])
		if b == nil {
			return exceptionXML("InvalidBatch"), nil
		}
		b.polls++
		if p.pollsToFinish >= 0 && b.polls > p.pollsToFinish {
			b.state = p.finalState
		}
		return batchXML(b), nil

	case method == "GET" && len(parts) == 5:
		b := p.batch(parts[3])
		if b == nil {
			return exceptionXML("InvalidBatch"), nil
		}
		if !strings.Contains(b.payload, "<sObjects") {
			var sb strings.Builder
			sb.WriteString(`<result-list xmlns="` + Namespace + `">`)
			for _, rid := range p.queryResultSetIDs {
				sb.WriteString("<result>" + rid + "</result>")
			}
			sb.WriteString(`</result-list>`)
			return []byte(sb.String()), nil
		}
		return p.recordResultsXML(b), nil

	case method == "GET" && len(parts) == 6:
		doc, ok := p.queryResultSets[parts[5]]
		if !ok {
			return exceptionXML("InvalidQueryResult"), nil
		}
		return []byte(doc), nil
	}
	return exceptionXML("InvalidUrl"), nil
}

func (p *fakePlatform) batch(id string) *fakeBatch {
	for _, b := range p.batches {
		if b.id == id {
			return b
		}
	}
	return nil
}

func (p *fakePlatform) jobXML() []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>`+
		`<jobInfo xmlns="%s"><id>%s</id><operation>insert</operation><object>Account</object>`+
		`<state>%s</state><concurrencyMode>Parallel</concurrencyMode><contentType>XML</contentType>`+
		`<numberBatchesTotal>%d</numberBatchesTotal><apiVersion>32.0</apiVersion></jobInfo>`,
		Namespace, testJobID, p.jobState, len(p.batches)))
}

func (p *fakePlatform) recordResultsXML(b *fakeBatch) []byte {
	n := strings.Count(b.payload, "<sObject>")
	var sb strings.Builder
	sb.WriteString(`<results xmlns="` + Namespace + `">`)
	for i := 0; i < n; i++ {
		if p.failEvery > 0 && (i+1)%p.failEvery == 0 {
			sb.WriteString(`<result><id xsi:nil="true" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"/>` +
				`<success>false</success><created>false</created>` +
				`<errors><fields>Name</fields><message>Required fields are missing</message>` +
				`<statusCode>REQUIRED_FIELD_MISSING</statusCode></errors></result>`)
			continue
		}
		fmt.Fprintf(&sb, `<result><id>001%s%04d</id><success>true</success><created>true</created></result>`, b.id, i)
	}
	sb.WriteString(`</results>`)
	return []byte(sb.String())
}

func batchXML(b *fakeBatch) []byte {
	msg := ""
	if b.state == types.BatchStateFailed {
		msg = "<stateMessage>InvalidBatch : Records not processed</stateMessage>"
	}
	return []byte(fmt.Sprintf(`<batchInfo xmlns="%s"><id>%s</id><jobId>%s</jobId><state>%s</state>%s`+
		`<numberRecordsProcessed>0</numberRecordsProcessed><numberRecordsFailed>0</numberRecordsFailed></batchInfo>`,
		Namespace, b.id, testJobID, b.state, msg))
}

func exceptionXML(code string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><error xmlns="%s">`+
		`<exceptionCode>%s</exceptionCode><exceptionMessage>%s happened</exceptionMessage></error>`,
		Namespace, code, code))
}

func accountRecords(n int) []*types.Record {
	out := make([]*types.Record, n)
	for i := range out {
		out[i] = types.NewRecord().
			Set("Name", types.Text(fmt.Sprintf("Account %d", i))).
			Set("NumberOfEmployees", types.Int(int64(i)))
	}
	return out
}
