package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/sksarvesh007/gpuflow/internal/models"
	"github.com/sksarvesh007/gpuflow/internal/store"
)

type createJobRequest struct {
	// Code is the serialized function the assigned machine will run.
	// The coordinator treats it as opaque bytes.
	Code string `json:"code"`
}

type updateJobRequest struct {
	Status       models.JobStatus `json:"status"`
	Result       string           `json:"result,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}

	var req createJobRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	job, err := s.store.CreateJob(r.Context(), user.ID, []byte(req.Code))
	if err != nil {
		s.internalError(w, r.Context(), err)
		return
	}

	// The job is durable once created; a failed enqueue leaves it
	// pending with no work item, which only a re-enqueue sweep would
	// recover. Logged rather than failing the request.
	if err := s.producer.Enqueue(r.Context(), job.ID); err != nil {
		log.Printf("api: enqueue dispatch for job %s: %v", job.ID, err)
	}

	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	jobs, err := s.store.ListJobsByCreator(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, r.Context(), err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.internalError(w, r.Context(), err)
		return
	}
	if job.CreatorID != user.ID {
		writeError(w, http.StatusForbidden, "not authorized to access this job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleUpdateJob is the worker-side status report. Only the machine
// currently assigned to the job may touch it.
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	machine := s.currentMachine(w, r)
	if machine == nil {
		return
	}

	jobID := r.PathValue("id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.internalError(w, r.Context(), err)
		return
	}
	if job.MachineID != machine.ID {
		writeError(w, http.StatusUnauthorized, "not authorized to update this job")
		return
	}

	var req updateJobRequest
	if !readJSON(w, r, &req) {
		return
	}

	switch req.Status {
	case models.JobRunning:
		err = s.store.MarkJobRunning(r.Context(), jobID)
	case models.JobCompleted:
		err = s.store.CompleteJob(r.Context(), jobID, req.Result)
	case models.JobFailed:
		err = s.store.FailJob(r.Context(), jobID, req.ErrorMessage)
	default:
		writeError(w, http.StatusBadRequest, "status must be running, completed or failed")
		return
	}
	if errors.Is(err, store.ErrClaimLost) {
		writeError(w, http.StatusConflict, "job is not in a state that allows this update")
		return
	}
	if err != nil {
		s.internalError(w, r.Context(), err)
		return
	}

	job, err = s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.internalError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
