package jobs

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeSummarizeRange processes a date range and sends its digests.
	JobTypeSummarizeRange JobType = "summarize_range"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job was accepted and waits for the worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRejected indicates the job was refused because another run was active.
	JobStatusRejected JobStatus = "rejected"
)

var (
	// ErrBusy is returned by Publish while a job or another processing run is active.
	ErrBusy = errors.New("jobs: a processing run is already in progress")
	// ErrNotFound is returned for unknown job IDs.
	ErrNotFound = errors.New("jobs: job not found")
	// ErrClosed is returned after the queue has been stopped.
	ErrClosed = errors.New("jobs: queue is closed")
)

// SummarizeRangeJob is an on-demand request to process a date range.
type SummarizeRangeJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	StartDate civil.Date `json:"start_date"`
	EndDate   civil.Date `json:"end_date"`

	// Notify sends a digest for every date that yielded transactions.
	Notify bool `json:"notify"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed or was rejected.
	Error string `json:"error,omitempty"`
}

// Range returns the inclusive date range of the job.
func (j *SummarizeRangeJob) Range() domain.DateRange {
	return domain.DateRange{Start: j.StartDate, End: j.EndDate}
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *SummarizeRangeJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *SummarizeRangeJob) GetType() JobType {
	return JobTypeSummarizeRange
}

// GetStatus implements the Job interface.
func (j *SummarizeRangeJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher hands jobs to a worker.
type Publisher interface {
	// PublishSummarizeRange hands the job to an idle worker or fails with ErrBusy.
	PublishSummarizeRange(ctx context.Context, job *SummarizeRangeJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer runs published jobs.
type Consumer interface {
	// Start begins consuming jobs. The handler is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for the in-flight job to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
type JobHandler func(ctx context.Context, job Job) error

// Guard owns the processing slot shared with runs started elsewhere.
type Guard interface {
	// Reserve claims the slot. ok is false while another run holds it.
	Reserve() (release func(), ok bool)
}

// JobStore keeps the history of jobs.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *SummarizeRangeJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*SummarizeRangeJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*SummarizeRangeJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
