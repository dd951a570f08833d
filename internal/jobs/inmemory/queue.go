package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/mail-ledger/internal/jobs"
)

// Queue runs jobs on a single worker fed through an unbuffered channel.
// Publishing never queues: a job is either taken by the idle worker or
// rejected with jobs.ErrBusy.
type Queue struct {
	jobChan   chan queuedJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	guard     jobs.Guard
	closed    bool
	started   bool
	now       func() time.Time
}

// queuedJob carries the slot claimed at publish time to the worker.
type queuedJob struct {
	job     *jobs.SummarizeRangeJob
	release func()
}

// NewQueue creates a queue recording job history in store. guard, when non-nil,
// is reserved before every hand-off and held until the job finishes, so an
// accepted job never loses the slot to a run started elsewhere.
func NewQueue(store jobs.JobStore, guard jobs.Guard) *Queue {
	return &Queue{
		jobChan:   make(chan queuedJob),
		closeChan: make(chan struct{}),
		store:     store,
		guard:     guard,
		now:       time.Now,
	}
}

// PublishSummarizeRange implements the Publisher interface. Rejected jobs are
// still recorded, with status rejected.
func (q *Queue) PublishSummarizeRange(ctx context.Context, job *jobs.SummarizeRangeJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}
	job.Status = jobs.JobStatusPending
	job.Error = ""

	release := func() {}
	if q.guard != nil {
		free, ok := q.guard.Reserve()
		if !ok {
			return q.reject(ctx, job)
		}
		release = free
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			release()
			return fmt.Errorf("PublishSummarizeRange: failed to save job: %w", err)
		}
	}

	// The worker owns its own copy so the caller may keep reading job.
	work := *job
	select {
	case q.jobChan <- queuedJob{job: &work, release: release}:
		return nil
	default:
		release()
		return q.reject(ctx, job)
	}
}

func (q *Queue) reject(ctx context.Context, job *jobs.SummarizeRangeJob) error {
	job.Status = jobs.JobStatusRejected
	job.Error = jobs.ErrBusy.Error()
	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
	return jobs.ErrBusy
}

// Start implements the Consumer interface by launching the single worker.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return jobs.ErrClosed
	}
	if q.started {
		return fmt.Errorf("Start: queue already started")
	}
	q.started = true

	q.wg.Add(1)
	go q.worker(ctx, handler)
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case queued := <-q.jobChan:
			q.processJob(ctx, queued.job, handler)
			queued.release()
		}
	}
}

// processJob executes a single job. Jobs are not retried: a failed run leaves
// its error in the status and can be resubmitted.
func (q *Queue) processJob(ctx context.Context, job *jobs.SummarizeRangeJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	started := q.now()
	job.StartedAt = &started
	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completed := q.now()
	job.CompletedAt = &completed
	if err != nil {
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for the in-flight job to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
