// Package bulktest runs an in-memory imitation of the platform's
// asynchronous bulk API over HTTP, for tests of everything that talks to it.
//
// Each object type is a small table. Write batches are applied when they
// are submitted; their state is revealed after a configurable number of
// status reads. Query batches return the object's rows projected onto the
// selected fields, split into result sets.
package bulktest

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/bulk-loader/internal/bulk"
	"github.com/bulk-loader/internal/types"
)

// SessionID is the session the server accepts unless WithSessionID says otherwise
const SessionID = "00Dtest!session"

// Option configures a Server
type Option func(*Server)

// WithSessionID sets the only session id the server accepts
func WithSessionID(id string) Option {
	return func(s *Server) { s.sessionID = id }
}

// WithPollsToFinish sets how many status reads a batch needs before it
// reaches its final state. Negative values keep batches queued forever.
func WithPollsToFinish(n int) Option {
	return func(s *Server) { s.pollsToFinish = n }
}

// WithFinalState sets the state batches end in (default: Completed)
func WithFinalState(state types.BatchState) Option {
	return func(s *Server) { s.finalState = state }
}

// WithRequiredField makes records without a value for field fail
func WithRequiredField(field string) Option {
	return func(s *Server) { s.requiredField = field }
}

// WithResultSetSize sets how many query rows go into one result set
func WithResultSetSize(n int) Option {
	return func(s *Server) { s.resultSetSize = n }
}

// WithRows seeds an object's table
func WithRows(object string, rows ...*types.Record) Option {
	return func(s *Server) {
		for _, r := range rows {
			s.tables[object] = append(s.tables[object], r)
		}
	}
}

type fakeJob struct {
	info    bulk.JobInfo
	batches []*fakeBatch
}

type fakeBatch struct {
	info       bulk.BatchInfo
	polls      int
	results    []bulk.RecordResult
	resultIDs  []string
	resultSets map[string][]*types.Record
	processed  int
	failed     int
}

// Server is the fake platform
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	jobs          map[string]*fakeJob
	tables        map[string][]*types.Record
	sessionID     string
	pollsToFinish int
	finalState    types.BatchState
	requiredField string
	resultSetSize int

	requests atomic.Int64
}

// NewServer starts a fake platform; stop it with Close
func NewServer(opts ...Option) *Server {
	s := &Server{
		jobs:          make(map[string]*fakeJob),
		tables:        make(map[string][]*types.Record),
		sessionID:     SessionID,
		finalState:    types.BatchStateCompleted,
		resultSetSize: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/services/async/{version}").Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/job", s.handleCreateJob).Methods(http.MethodPost)
	api.HandleFunc("/job/{jobId}", s.handleCloseJob).Methods(http.MethodPost)
	api.HandleFunc("/job/{jobId}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/job/{jobId}/batch", s.handleAddBatch).Methods(http.MethodPost)
	api.HandleFunc("/job/{jobId}/batch", s.handleListBatches).Methods(http.MethodGet)
	api.HandleFunc("/job/{jobId}/batch/{batchId}", s.handleGetBatch).Methods(http.MethodGet)
	api.HandleFunc("/job/{jobId}/batch/{batchId}/result", s.handleGetResult).Methods(http.MethodGet)
	api.HandleFunc("/job/{jobId}/batch/{batchId}/result/{resultId}", s.handleGetResultSet).Methods(http.MethodGet)
	return r
}

// InstanceURL is the base URL to configure a transport with
func (s *Server) InstanceURL() string {
	return s.URL
}

// Requests returns how many API requests the server has handled
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// SetPollsToFinish changes batch progression for batches polled from now on
func (s *Server) SetPollsToFinish(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollsToFinish = n
}

// Rows returns a copy of an object's table
func (s *Server) Rows(object string) []*types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Record, len(s.tables[object]))
	copy(out, s.tables[object])
	return out
}

// JobState returns the state of a job, or "" if it does not exist
func (s *Server) JobState(jobID string) types.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		return j.info.State
	}
	return ""
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if r.Header.Get("X-SFDC-Session") != s.sessionID {
			writeException(w, http.StatusBadRequest, "InvalidSessionId", "Invalid session id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type jobRequest struct {
	XMLName             xml.Name `xml:"jobInfo"`
	Operation           string   `xml:"operation"`
	Object              string   `xml:"object"`
	ExternalIDFieldName string   `xml:"externalIdFieldName"`
	ConcurrencyMode     string   `xml:"concurrencyMode"`
	ContentType         string   `xml:"contentType"`
	State               string   `xml:"state"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeBody(r, &req); err != nil {
		writeException(w, http.StatusBadRequest, "InvalidXML", err.Error())
		return
	}
	op, err := types.ParseOperation(req.Operation)
	if err != nil {
		writeException(w, http.StatusBadRequest, "InvalidJob", "Invalid operation: "+req.Operation)
		return
	}
	if req.Object == "" {
		writeException(w, http.StatusBadRequest, "InvalidJob", "Object is required")
		return
	}
	if op == types.OperationUpsert && req.ExternalIDFieldName == "" {
		writeException(w, http.StatusBadRequest, "InvalidJob", "External ID was blank for "+req.Object)
		return
	}

	mode := types.ConcurrencyParallel
	if req.ConcurrencyMode == string(types.ConcurrencySerial) {
		mode = types.ConcurrencySerial
	}
	job := &fakeJob{info: bulk.JobInfo{
		ID:                  newID("750"),
		Operation:           op,
		Object:              req.Object,
		State:               types.JobStateOpen,
		ExternalIDFieldName: req.ExternalIDFieldName,
		ConcurrencyMode:     mode,
		ContentType:         req.ContentType,
		APIVersion:          mux.Vars(r)["version"],
	}}

	s.mu.Lock()
	s.jobs[job.info.ID] = job
	info := job.info
	s.mu.Unlock()

	writeXML(w, http.StatusCreated, jobInfoDoc{JobInfo: info})
}

func (s *Server) handleCloseJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeBody(r, &req); err != nil {
		writeException(w, http.StatusBadRequest, "InvalidXML", err.Error())
		return
	}

	s.mu.Lock()
	job, ok := s.jobs[mux.Vars(r)["jobId"]]
	if !ok {
		s.mu.Unlock()
		writeException(w, http.StatusBadRequest, "InvalidJob", "Unable to find job")
		return
	}
	if types.JobState(req.State) != types.JobStateClosed || job.info.State != types.JobStateOpen {
		state := job.info.State
		s.mu.Unlock()
		writeException(w, http.StatusBadRequest, "InvalidJobState",
			fmt.Sprintf("Job is %s, cannot change to %s", state, req.State))
		return
	}
	job.info.State = types.JobStateClosed
	info := s.jobInfoLocked(job)
	s.mu.Unlock()

	writeXML(w, http.StatusOK, jobInfoDoc{JobInfo: info})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job, ok := s.jobs[mux.Vars(r)["jobId"]]
	if !ok {
		s.mu.Unlock()
		writeException(w, http.StatusBadRequest, "InvalidJob", "Unable to find job")
		return
	}
	info := s.jobInfoLocked(job)
	s.mu.Unlock()

	writeXML(w, http.StatusOK, jobInfoDoc{JobInfo: info})
}

func (s *Server) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeException(w, http.StatusBadRequest, "ClientInputError", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[mux.Vars(r)["jobId"]]
	if !ok {
		writeException(w, http.StatusBadRequest, "InvalidJob", "Unable to find job")
		return
	}
	if job.info.State != types.JobStateOpen {
		writeException(w, http.StatusBadRequest, "InvalidJobState", "Job is not open")
		return
	}

	batch := &fakeBatch{info: bulk.BatchInfo{
		ID:    newID("751"),
		JobID: job.info.ID,
		State: types.BatchStateQueued,
	}}

	if job.info.Operation.IsQuery() {
		s.runQueryLocked(job, batch, string(body))
	} else {
		records, err := parseSObjects(body)
		if err != nil {
			writeException(w, http.StatusBadRequest, "InvalidBatch", err.Error())
			return
		}
		s.applyLocked(job, batch, records)
	}
	job.batches = append(job.batches, batch)

	writeXML(w, http.StatusCreated, batchInfoDoc{BatchInfo: batch.info})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job, ok := s.jobs[mux.Vars(r)["jobId"]]
	if !ok {
		s.mu.Unlock()
		writeException(w, http.StatusBadRequest, "InvalidJob", "Unable to find job")
		return
	}
	doc := batchInfoListDoc{}
	for _, b := range job.batches {
		doc.Batches = append(doc.Batches, b.info)
	}
	s.mu.Unlock()

	writeXML(w, http.StatusOK, doc)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	batch := s.batchLocked(mux.Vars(r)["jobId"], mux.Vars(r)["batchId"])
	if batch == nil {
		s.mu.Unlock()
		writeException(w, http.StatusBadRequest, "InvalidBatch", "Unable to find batch")
		return
	}
	batch.polls++
	if !batch.info.State.IsTerminal() && s.pollsToFinish >= 0 && batch.polls > s.pollsToFinish {
		s.finishLocked(batch)
	}
	info := batch.info
	s.mu.Unlock()

	writeXML(w, http.StatusOK, batchInfoDoc{BatchInfo: info})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job := s.jobs[mux.Vars(r)["jobId"]]
	batch := s.batchLocked(mux.Vars(r)["jobId"], mux.Vars(r)["batchId"])
	if batch == nil || batch.info.State != types.BatchStateCompleted {
		s.mu.Unlock()
		writeException(w, http.StatusBadRequest, "InvalidBatch", "Batch not completed")
		return
	}
	if job.info.Operation.IsQuery() {
		doc := resultListDoc{ResultIDs: batch.resultIDs}
		s.mu.Unlock()
		writeXML(w, http.StatusOK, doc)
		return
	}
	doc := resultsDoc{Results: batch.results}
	s.mu.Unlock()

	writeXML(w, http.StatusOK, doc)
}

func (s *Server) handleGetResultSet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.mu.Lock()
	batch := s.batchLocked(vars["jobId"], vars["batchId"])
	if batch == nil || batch.resultSets == nil {
		s.mu.Unlock()
		writeException(w, http.StatusBadRequest, "InvalidBatch", "Unable to find batch")
		return
	}
	rows, ok := batch.resultSets[vars["resultId"]]
	if !ok {
		s.mu.Unlock()
		writeException(w, http.StatusBadRequest, "InvalidQueryResult", "Unable to find result")
		return
	}
	body := renderQueryResult(rows)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) batchLocked(jobID, batchID string) *fakeBatch {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	for _, b := range job.batches {
		if b.info.ID == batchID {
			return b
		}
	}
	return nil
}

func (s *Server) finishLocked(b *fakeBatch) {
	b.info.State = s.finalState
	switch s.finalState {
	case types.BatchStateCompleted:
		b.info.NumberRecordsProcessed = b.processed
		b.info.NumberRecordsFailed = b.failed
	case types.BatchStateFailed:
		b.info.StateMessage = "InvalidBatch : Failed to process batch"
	case types.BatchStateNotProcessed:
		b.info.StateMessage = "Job was closed before the batch was processed"
	}
}

func (s *Server) jobInfoLocked(job *fakeJob) bulk.JobInfo {
	info := job.info
	for _, b := range job.batches {
		info.NumberBatchesTotal++
		switch b.info.State {
		case types.BatchStateQueued:
			info.NumberBatchesQueued++
		case types.BatchStateInProgress:
			info.NumberBatchesInProgress++
		case types.BatchStateCompleted:
			info.NumberBatchesCompleted++
		case types.BatchStateFailed, types.BatchStateNotProcessed:
			info.NumberBatchesFailed++
		}
		info.NumberRecordsProcessed += b.info.NumberRecordsProcessed
		info.NumberRecordsFailed += b.info.NumberRecordsFailed
	}
	return info
}

// newID returns a 15 character id with the platform's key prefix
func newID(prefix string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
}
