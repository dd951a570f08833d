package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/api/middleware"
	"github.com/dvloznov/mail-ledger/internal/jobs"
)

const maxJobsPage = 100

// JobReader is the read side of jobs.JobStore.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*jobs.SummarizeRangeJob, error)
	ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.SummarizeRangeJob, error)
}

// JobsHandler exposes the history of summarize-range jobs.
type JobsHandler struct {
	jobs JobReader
	log  zerolog.Logger
}

func NewJobsHandler(reader JobReader, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{jobs: reader, log: log}
}

// GetJob serves GET /api/jobs/{id}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobs.GetJob(r.Context(), jobID)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
	case err != nil:
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Job lookup failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
	default:
		middleware.WriteJSON(w, http.StatusOK, job)
	}
}

// ListJobs serves GET /api/jobs?status=&limit=&offset=, newest first.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := jobFilterFromQuery(r.URL.Query())
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Job listing failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if list == nil {
		list = []*jobs.SummarizeRangeJob{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

func jobFilterFromQuery(q url.Values) (jobs.JobFilter, error) {
	var f jobs.JobFilter

	switch s := jobs.JobStatus(q.Get("status")); s {
	case "", jobs.JobStatusPending, jobs.JobStatusRunning, jobs.JobStatusCompleted,
		jobs.JobStatusFailed, jobs.JobStatusRejected:
		f.Status = s
	default:
		return f, errors.New("unknown job status " + strconv.Quote(string(s)))
	}

	var err error
	if f.Limit, err = nonNegativeParam(q, "limit"); err != nil {
		return f, err
	}
	if f.Limit > maxJobsPage {
		f.Limit = maxJobsPage
	}
	if f.Offset, err = nonNegativeParam(q, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func nonNegativeParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
