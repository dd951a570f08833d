// Package scheduler runs the periodic processing loop and the daily digest.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/logger"
	"github.com/dvloznov/mail-ledger/internal/orchestrator"
)

// State of the scheduler loop.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

var (
	// ErrAlreadyRunning is returned by Start unless the scheduler is stopped.
	ErrAlreadyRunning = errors.New("scheduler: already running")
	// ErrNotRunning is returned by Stop unless the scheduler is running.
	ErrNotRunning = errors.New("scheduler: not running")
)

// DefaultPollInterval is the granularity at which pending work is checked.
const DefaultPollInterval = time.Second

// Runner processes today's mail.
type Runner interface {
	RunToday(ctx context.Context, notify bool) error
	// Busy reports whether any run, scheduled or not, holds the run slot.
	Busy() bool
}

// DigestFunc sends the digest of one date.
type DigestFunc func(ctx context.Context, date civil.Date) error

// StatusSink receives scheduler-level status updates.
type StatusSink interface {
	SetNextRun(next *time.Time)
	SetMessage(message string)
}

// Options tunes the loop. Zero values select defaults.
type Options struct {
	PollInterval time.Duration
	// SummaryTime enables the daily digest at this time of day.
	SummaryTime *domain.TimeOfDay
	Now         func() time.Time
}

// Scheduler moves Stopped → Running → Stopping → Stopped.
type Scheduler struct {
	runner Runner
	digest DigestFunc
	status StatusSink
	log    zerolog.Logger
	now    func() time.Time
	poll   time.Duration
	sumAt  *domain.TimeOfDay

	mu         sync.Mutex
	state      State
	schedule   domain.ScheduleConfig
	nextRun    time.Time
	lastDigest civil.Date
	cancel     context.CancelFunc
	done       chan struct{}
}

// New validates cfg and returns a stopped scheduler. digest may be nil.
func New(runner Runner, digest DigestFunc, status StatusSink, cfg domain.ScheduleConfig, opts Options, log zerolog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler.New: %w", err)
	}
	s := &Scheduler{
		runner:   runner,
		digest:   digest,
		status:   status,
		log:      logger.Component(log, "scheduler"),
		now:      opts.Now,
		poll:     opts.PollInterval,
		sumAt:    opts.SummaryTime,
		state:    StateStopped,
		schedule: cfg,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	return s, nil
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Schedule returns the active schedule.
func (s *Scheduler) Schedule() domain.ScheduleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// NextRun returns the next scheduled run, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.nextRun.IsZero() {
		return nil
	}
	t := s.nextRun
	return &t
}

// Start launches the loop, which processes today's mail immediately, even
// outside the schedule window, and then polls for due work. The loop outlives
// ctx's deadline but keeps its values.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning

	now := s.now()
	s.nextRun = time.Time{}
	if s.sumAt != nil && !now.Before(s.sumAt.On(now)) {
		// Today's slot has already passed.
		s.lastDigest = domain.Today(now)
	}

	go s.loop(loopCtx, s.done)

	s.log.Info().
		Dur("interval", s.schedule.Interval).
		Dur("poll_interval", s.poll).
		Msg("Scheduler started")
	return nil
}

// Stop cancels the loop, including any run it is executing, and waits for it
// to exit or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateStopping
	s.cancel()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("Stop: waiting for scheduler loop: %w", ctx.Err())
	}

	s.log.Info().Msg("Scheduler stopped")
	return nil
}

// Configure replaces the schedule. The next trigger is recomputed from now;
// an in-flight run is not interrupted.
func (s *Scheduler) Configure(cfg domain.ScheduleConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("Configure: %w", err)
	}

	s.mu.Lock()
	s.schedule = cfg
	var next *time.Time
	if s.state == StateRunning {
		s.nextRun = cfg.NextRun(s.now().Add(cfg.Interval))
		t := s.nextRun
		next = &t
	}
	s.mu.Unlock()

	if next != nil && s.status != nil {
		s.status.SetNextRun(next)
	}
	s.log.Info().Dur("interval", cfg.Interval).Msg("Schedule configured")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.state = StateStopped
		s.nextRun = time.Time{}
		s.cancel = nil
		s.mu.Unlock()

		if s.status != nil {
			s.status.SetNextRun(nil)
			// An on-demand run owns the status message until it finishes.
			if !s.runner.Busy() {
				s.status.SetMessage("Scheduler stopped")
			}
		}
		close(done)
	}()

	s.run(ctx)
	s.scheduleNext(ctx)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs whatever is due at the current time.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := !now.Before(s.nextRun)
	s.mu.Unlock()

	if due {
		s.dispatch(ctx, now)
	}
	if ctx.Err() != nil {
		return
	}
	s.maybeDigest(ctx, now)
}

// dispatch runs today's processing if now is inside the window, then schedules the next run.
func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	s.mu.Lock()
	sched := s.schedule
	s.mu.Unlock()

	if sched.InWindow(now) {
		s.run(ctx)
	}
	s.scheduleNext(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	err := s.runner.RunToday(ctx, false)
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		s.log.Info().Msg("Skipping scheduled run: another run is in progress")
	case err != nil:
		s.log.Error().Err(err).Msg("Scheduled run failed")
	}
}

func (s *Scheduler) scheduleNext(ctx context.Context) {
	s.mu.Lock()
	s.nextRun = s.schedule.NextRun(s.now().Add(s.schedule.Interval))
	next := s.nextRun
	s.mu.Unlock()

	if s.status != nil && ctx.Err() == nil {
		s.status.SetNextRun(&next)
	}
}

func (s *Scheduler) maybeDigest(ctx context.Context, now time.Time) {
	if s.sumAt == nil || s.digest == nil || now.Before(s.sumAt.On(now)) {
		return
	}
	today := domain.Today(now)

	s.mu.Lock()
	if s.lastDigest == today {
		s.mu.Unlock()
		return
	}
	s.lastDigest = today
	s.mu.Unlock()

	s.log.Info().Str("date", today.String()).Msg("Sending daily summary")
	if err := s.digest(ctx, today); err != nil {
		s.log.Error().Err(err).Str("date", today.String()).Msg("Daily summary failed")
	}
}
