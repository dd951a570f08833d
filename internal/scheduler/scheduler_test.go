package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/orchestrator"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// mockRunner is a mock implementation of Runner.
type mockRunner struct {
	RunTodayFunc func(ctx context.Context, notify bool) error
	calls        atomic.Int32
	busy         atomic.Bool
}

func (m *mockRunner) Busy() bool {
	return m.busy.Load()
}

func (m *mockRunner) RunToday(ctx context.Context, notify bool) error {
	m.calls.Add(1)
	if m.RunTodayFunc == nil {
		return nil
	}
	return m.RunTodayFunc(ctx, notify)
}

func tod(h, m int) *domain.TimeOfDay {
	return &domain.TimeOfDay{Hour: h, Minute: m}
}

var morning = time.Date(2024, 8, 15, 10, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, runner Runner, digest DigestFunc, cfg domain.ScheduleConfig, clock *fakeClock, summary *domain.TimeOfDay) (*Scheduler, *orchestrator.StatusTracker) {
	t.Helper()
	status := orchestrator.NewStatusTracker()
	s, err := New(runner, digest, status, cfg, Options{
		PollInterval: 5 * time.Millisecond,
		SummaryTime:  summary,
		Now:          clock.Now,
	}, zerolog.Nop())
	require.NoError(t, err)
	return s, status
}

func TestScheduler_StartStop(t *testing.T) {
	clock := &fakeClock{t: morning}
	runner := &mockRunner{}
	s, status := newTestScheduler(t, runner, nil, domain.ScheduleConfig{Interval: 30 * time.Minute}, clock, nil)

	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.NextRun() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, morning.Add(30*time.Minute), *s.NextRun())
	assert.Equal(t, StateRunning, s.State())

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
	assert.Nil(t, s.NextRun())
	assert.Equal(t, "Scheduler stopped", status.Snapshot().Message)
	assert.Nil(t, status.Snapshot().NextRun)

	// a stopped scheduler can be started again
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopCancelsInFlightRun(t *testing.T) {
	clock := &fakeClock{t: morning}
	running := make(chan struct{})
	var sawCancel atomic.Bool
	runner := &mockRunner{RunTodayFunc: func(ctx context.Context, notify bool) error {
		close(running)
		<-ctx.Done()
		sawCancel.Store(true)
		return nil
	}}
	s, _ := newTestScheduler(t, runner, nil, domain.ScheduleConfig{Interval: time.Hour}, clock, nil)

	require.NoError(t, s.Start(context.Background()))
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, sawCancel.Load())
	assert.Equal(t, StateStopped, s.State())
}

func TestScheduler_StartOutlivesRequestContext(t *testing.T) {
	clock := &fakeClock{t: morning}
	s, _ := newTestScheduler(t, &mockRunner{}, nil, domain.ScheduleConfig{Interval: time.Hour}, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateRunning, s.State())
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_Tick(t *testing.T) {
	clock := &fakeClock{t: morning}
	runner := &mockRunner{}
	s, _ := newTestScheduler(t, runner, nil, domain.ScheduleConfig{Interval: time.Minute}, clock, nil)
	ctx := context.Background()

	s.dispatch(ctx, clock.Now())
	assert.EqualValues(t, 1, runner.calls.Load())

	clock.Set(morning.Add(30 * time.Second))
	s.tick(ctx)
	assert.EqualValues(t, 1, runner.calls.Load(), "not yet due")

	clock.Set(morning.Add(61 * time.Second))
	s.tick(ctx)
	assert.EqualValues(t, 2, runner.calls.Load())

	s.mu.Lock()
	next := s.nextRun
	s.mu.Unlock()
	assert.Equal(t, morning.Add(121*time.Second), next)
}

func TestScheduler_WindowDefersRun(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 8, 15, 7, 0, 0, 0, time.UTC)}
	runner := &mockRunner{}
	cfg := domain.ScheduleConfig{Interval: 30 * time.Minute, StartTime: tod(9, 0), EndTime: tod(17, 0)}
	s, _ := newTestScheduler(t, runner, nil, cfg, clock, nil)

	s.dispatch(context.Background(), clock.Now())
	assert.Zero(t, runner.calls.Load(), "outside window")

	s.mu.Lock()
	next := s.nextRun
	s.mu.Unlock()
	assert.Equal(t, time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC), next)
}

func TestScheduler_StartRunsOutsideWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 8, 15, 7, 0, 0, 0, time.UTC)}
	runner := &mockRunner{}
	cfg := domain.ScheduleConfig{Interval: 30 * time.Minute, StartTime: tod(9, 0), EndTime: tod(17, 0)}
	s, _ := newTestScheduler(t, runner, nil, cfg, clock, nil)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.NextRun() != nil }, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, runner.calls.Load())
	assert.Equal(t, time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC), *s.NextRun())

	// later ticks still respect the window
	clock.Set(time.Date(2024, 8, 15, 8, 0, 0, 0, time.UTC))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, runner.calls.Load())
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopKeepsOnDemandRunMessage(t *testing.T) {
	clock := &fakeClock{t: morning}
	runner := &mockRunner{}
	s, status := newTestScheduler(t, runner, nil, domain.ScheduleConfig{Interval: time.Hour}, clock, nil)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.NextRun() != nil }, time.Second, time.Millisecond)

	runner.busy.Store(true)
	status.SetMessage("Processing 3 day(s)")
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, "Processing 3 day(s)", status.Snapshot().Message)
	assert.Nil(t, status.Snapshot().NextRun)
}

func TestScheduler_RunErrorsDoNotStopLoop(t *testing.T) {
	clock := &fakeClock{t: morning}
	errs := []error{orchestrator.ErrRunInProgress, errors.New("imap: connection reset"), nil}
	runner := &mockRunner{}
	runner.RunTodayFunc = func(ctx context.Context, notify bool) error {
		n := int(runner.calls.Load()) - 1
		if n < len(errs) {
			return errs[n]
		}
		return nil
	}
	s, _ := newTestScheduler(t, runner, nil, domain.ScheduleConfig{Interval: time.Minute}, clock, nil)
	ctx := context.Background()

	s.dispatch(ctx, clock.Now())
	for i := 1; i <= 2; i++ {
		clock.Set(morning.Add(time.Duration(i) * 2 * time.Minute))
		s.tick(ctx)
	}
	assert.EqualValues(t, 3, runner.calls.Load())
}

func TestScheduler_Configure(t *testing.T) {
	clock := &fakeClock{t: morning}
	s, status := newTestScheduler(t, &mockRunner{}, nil, domain.ScheduleConfig{Interval: time.Hour}, clock, nil)

	assert.Error(t, s.Configure(domain.ScheduleConfig{Interval: 0}))
	assert.Error(t, s.Configure(domain.ScheduleConfig{Interval: time.Minute, StartTime: tod(9, 0)}))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return status.Snapshot().NextRun != nil }, time.Second, time.Millisecond)

	cfg := domain.ScheduleConfig{Interval: 5 * time.Minute}
	require.NoError(t, s.Configure(cfg))
	assert.Equal(t, cfg, s.Schedule())
	assert.Equal(t, morning.Add(5*time.Minute), *s.NextRun())
	require.NotNil(t, status.Snapshot().NextRun)
	assert.Equal(t, morning.Add(5*time.Minute), *status.Snapshot().NextRun)

	require.NoError(t, s.Stop(context.Background()))

	// configuring a stopped scheduler only stores the schedule
	require.NoError(t, s.Configure(domain.ScheduleConfig{Interval: time.Minute}))
	assert.Equal(t, time.Minute, s.Schedule().Interval)
	assert.Nil(t, s.NextRun())
}

func TestScheduler_DailyDigest(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 8, 15, 22, 59, 0, 0, time.UTC)}
	var dates []civil.Date
	digest := func(ctx context.Context, date civil.Date) error {
		dates = append(dates, date)
		return errors.New("smtp down")
	}
	s, _ := newTestScheduler(t, &mockRunner{}, digest, domain.ScheduleConfig{Interval: 24 * time.Hour}, clock, tod(23, 0))
	ctx := context.Background()
	s.dispatch(ctx, clock.Now())

	s.tick(ctx)
	assert.Empty(t, dates, "before summary time")

	clock.Set(time.Date(2024, 8, 15, 23, 0, 1, 0, time.UTC))
	s.tick(ctx)
	s.tick(ctx)
	assert.Equal(t, []civil.Date{{Year: 2024, Month: 8, Day: 15}}, dates, "sent once per day")

	clock.Set(time.Date(2024, 8, 16, 23, 5, 0, 0, time.UTC))
	s.tick(ctx)
	assert.Len(t, dates, 2)
}

func TestScheduler_StartAfterSummaryTimeSkipsToday(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 8, 15, 23, 30, 0, 0, time.UTC)}
	var sent atomic.Int32
	digest := func(ctx context.Context, date civil.Date) error {
		sent.Add(1)
		return nil
	}
	s, _ := newTestScheduler(t, &mockRunner{}, digest, domain.ScheduleConfig{Interval: time.Hour}, clock, tod(23, 0))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	assert.Zero(t, sent.Load())
}

func TestStoredDigest(t *testing.T) {
	day := civil.Date{Year: 2024, Month: 8, Day: 15}
	q := &mockQuerier{txs: []domain.StoredTransaction{{SourceMessageID: "m1"}}}
	sender := &mockSender{}

	require.NoError(t, StoredDigest(q, sender)(context.Background(), day))
	assert.Equal(t, domain.SingleDay(day), q.got)
	assert.Len(t, sender.got, 1)

	q.err = errors.New("bigquery: 503")
	assert.Error(t, StoredDigest(q, sender)(context.Background(), day))
}

type mockQuerier struct {
	txs []domain.StoredTransaction
	err error
	got domain.DateRange
}

func (m *mockQuerier) QueryTransactions(ctx context.Context, r domain.DateRange) ([]domain.StoredTransaction, error) {
	m.got = r
	return m.txs, m.err
}

type mockSender struct {
	got []domain.StoredTransaction
}

func (m *mockSender) SendDailyDigest(ctx context.Context, txs []domain.StoredTransaction, date civil.Date) (*domain.DailySummary, error) {
	m.got = txs
	return &domain.DailySummary{}, nil
}
