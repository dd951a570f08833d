package orchestrator

import (
	"sync"
	"time"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// StatusTracker owns the process-wide ProcessingStatus. The active run is the
// single writer; any number of goroutines may read snapshots.
type StatusTracker struct {
	mu        sync.RWMutex
	status    domain.ProcessingStatus
	listeners []func()
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{}
}

// Snapshot returns a copy that is safe to keep after the call.
func (t *StatusTracker) Snapshot() domain.ProcessingStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.status
	s.LastRun = copyTime(t.status.LastRun)
	s.NextRun = copyTime(t.status.NextRun)
	return s
}

// Reset starts a new run: counters are cleared, IsRunning is set and LastRun stamped.
// NextRun is preserved.
func (t *StatusTracker) Reset(now time.Time, message string) {
	t.Update(func(s *domain.ProcessingStatus) {
		next := s.NextRun
		*s = domain.ProcessingStatus{
			Message:   message,
			IsRunning: true,
			LastRun:   &now,
			NextRun:   next,
		}
	})
}

// Finish marks the run as ended with a terminal message.
func (t *StatusTracker) Finish(message string) {
	t.Update(func(s *domain.ProcessingStatus) {
		s.IsRunning = false
		s.Message = message
	})
}

// SetMessage replaces the human-readable phase message.
func (t *StatusTracker) SetMessage(message string) {
	t.Update(func(s *domain.ProcessingStatus) { s.Message = message })
}

// SetNextRun records the next scheduled trigger; nil clears it.
func (t *StatusTracker) SetNextRun(next *time.Time) {
	t.Update(func(s *domain.ProcessingStatus) { s.NextRun = copyTime(next) })
}

// Update applies fn under the write lock, then notifies listeners.
func (t *StatusTracker) Update(fn func(*domain.ProcessingStatus)) {
	t.mu.Lock()
	fn(&t.status)
	listeners := t.listeners
	t.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}

// OnChange registers fn to be called after every update. fn must not block.
func (t *StatusTracker) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
