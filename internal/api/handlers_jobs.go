package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/bulk-loader/internal/bulk"
	"github.com/bulk-loader/internal/models"
	"github.com/bulk-loader/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobDetail is a recorded job with its batches
type JobDetail struct {
	Job     *models.JobRecord     `json:"job"`
	Batches []*models.BatchRecord `json:"batches"`
}

// LiveStatus is what the platform currently reports for a job
type LiveStatus struct {
	Job     *bulk.JobInfo      `json:"job"`
	Batches []bulk.BatchReport `json:"batches"`
}

// handleListJobs lists recorded jobs, newest first
// Query: object, operation, state, limit (default 50, max 500), offset
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.JobFilter{
		Object:    q.Get("object"),
		Operation: q.Get("operation"),
		State:     q.Get("state"),
		Limit:     defaultListLimit,
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a number", nil)
			return
		}
		switch {
		case limit <= 0:
			limit = defaultListLimit
		case limit > maxListLimit:
			limit = maxListLimit
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "offset must be a number", nil)
			return
		}
		if offset > 0 {
			filter.Offset = offset
		}
	}

	jobs, err := s.history.ListJobs(r.Context(), filter)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// handleGetJob returns one recorded job with its batches
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	job, err := s.history.GetJob(r.Context(), jobID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	batches, err := s.history.ListBatches(r.Context(), jobID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, JobDetail{Job: job, Batches: batches})
}

// handleListBatches returns a recorded job's batches in submission order
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	if _, err := s.history.GetJob(r.Context(), jobID); err != nil {
		s.respondServiceError(w, err)
		return
	}
	batches, err := s.history.ListBatches(r.Context(), jobID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":   jobID,
		"batches": batches,
	})
}

// handleLiveStatus asks the platform for the job's state right now
func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	if s.inspector == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "live status is not configured", nil)
		return
	}

	info, batches, err := s.inspector.Inspect(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	status := LiveStatus{Job: info, Batches: make([]bulk.BatchReport, 0, len(batches))}
	for _, b := range batches {
		status.Batches = append(status.Batches, b.Report())
	}
	respondJSON(w, http.StatusOK, status)
}

// handleListOpenJobs lists jobs nobody has seen finish yet
func (s *Server) handleListOpenJobs(w http.ResponseWriter, r *http.Request) {
	if s.open == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "open job registry is not configured", nil)
		return
	}

	jobs, err := s.open.ListOpen(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}
