// Package orchestrator drives the extraction pipeline over date ranges, keeps the
// shared processing status current and hands extracted transactions to the notifier.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/logger"
	"github.com/dvloznov/mail-ledger/internal/notifier"
	"github.com/dvloznov/mail-ledger/internal/pipeline"
)

// ErrRunInProgress is returned when a run is requested while another one is active.
var ErrRunInProgress = errors.New("orchestrator: a processing run is already in progress")

const stoppedMessage = "Processing stopped"

// MailSource is the part of mailsource.Source the orchestrator needs.
type MailSource interface {
	Fetch(ctx context.Context, batchSize, daysBack int) ([]domain.RawMessage, error)
	FetchForDate(ctx context.Context, date civil.Date) ([]domain.RawMessage, error)
}

// MessageProcessor runs the extraction pipeline over a batch.
type MessageProcessor interface {
	ProcessMessages(ctx context.Context, msgs []domain.RawMessage, progress pipeline.ProgressFunc) ([]domain.StoredTransaction, error)
}

// DigestSender persists and delivers a day's digest.
type DigestSender interface {
	SendDailyDigest(ctx context.Context, txs []domain.StoredTransaction, date civil.Date) (*domain.DailySummary, error)
}

// Orchestrator runs at most one batch at a time.
type Orchestrator struct {
	mail      MailSource
	processor MessageProcessor
	digests   DigestSender
	status    *StatusTracker
	log       zerolog.Logger
	now       func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// New wires an orchestrator. digests may be nil, in which case notify is ignored.
func New(mail MailSource, processor MessageProcessor, digests DigestSender, status *StatusTracker, log zerolog.Logger) *Orchestrator {
	if status == nil {
		status = NewStatusTracker()
	}
	return &Orchestrator{
		mail:      mail,
		processor: processor,
		digests:   digests,
		status:    status,
		log:       logger.Component(log, "orchestrator"),
		now:       time.Now,
	}
}

// Status returns the tracker the orchestrator writes to.
func (o *Orchestrator) Status() *StatusTracker {
	return o.status
}

// Busy reports whether a run currently holds the slot.
func (o *Orchestrator) Busy() bool {
	return o.running.Load()
}

// Cancel asks the active run, if any, to stop before its next unit of work.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// Reserve claims the single run slot ahead of a RunReserved call. ok is false
// while another run holds it. release is idempotent.
func (o *Orchestrator) Reserve() (release func(), ok bool) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { o.running.Store(false) }) }, true
}

// acquire claims the single run slot and returns the run context.
func (o *Orchestrator) acquire(ctx context.Context) (context.Context, func(), error) {
	free, ok := o.Reserve()
	if !ok {
		return nil, nil, ErrRunInProgress
	}
	runCtx, unbind := o.bind(ctx)
	release := func() {
		unbind()
		free()
	}
	return runCtx, release, nil
}

// bind makes ctx cancellable through Cancel for the duration of a run.
func (o *Orchestrator) bind(ctx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	return runCtx, func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		cancel()
	}
}

// RunToday processes today's messages.
func (o *Orchestrator) RunToday(ctx context.Context, notify bool) error {
	return o.RunRange(ctx, domain.SingleDay(domain.Today(o.now())), notify)
}

// RunRange processes every date of r in ascending order. Cancellation, whether
// through ctx or Cancel, ends the run cleanly with a "Processing stopped" status
// and a nil error. Mail or store failures abort the run and are returned.
func (o *Orchestrator) RunRange(ctx context.Context, r domain.DateRange, notify bool) error {
	if !r.Valid() {
		return fmt.Errorf("RunRange: start date %s is after end date %s", r.Start, r.End)
	}
	runCtx, release, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return o.runRange(runCtx, r, notify)
}

// RunReserved is RunRange for a caller that already holds the slot through
// Reserve. The slot stays held until that caller releases it.
func (o *Orchestrator) RunReserved(ctx context.Context, r domain.DateRange, notify bool) error {
	if !r.Valid() {
		return fmt.Errorf("RunReserved: start date %s is after end date %s", r.Start, r.End)
	}
	if !o.running.Load() {
		return errors.New("RunReserved: run slot is not reserved")
	}
	runCtx, unbind := o.bind(ctx)
	defer unbind()

	return o.runRange(runCtx, r, notify)
}

func (o *Orchestrator) runRange(runCtx context.Context, r domain.DateRange, notify bool) error {
	days := r.Days()
	log := o.log.With().Str("start_date", r.Start.String()).Str("end_date", r.End.String()).Logger()
	log.Info().Int("days", len(days)).Bool("notify", notify).Msg("Starting processing run")
	o.status.Reset(o.now(), fmt.Sprintf("Processing %d day(s)", len(days)))

	total := 0
	for _, day := range days {
		if runCtx.Err() != nil {
			return o.stopped(log, total)
		}

		n, err := o.processDay(runCtx, day, notify)
		total += n
		if err != nil {
			if runCtx.Err() != nil && errors.Is(err, context.Canceled) {
				return o.stopped(log, total)
			}
			o.status.Finish("Error: " + err.Error())
			log.Error().Err(err).Str("date", day.String()).Msg("Processing run failed")
			return fmt.Errorf("RunRange: %w", err)
		}
	}

	msg := fmt.Sprintf("Completed: %d transactions from %d day(s)", total, len(days))
	o.status.Finish(msg)
	log.Info().Int("transactions", total).Msg(msg)
	return nil
}

func (o *Orchestrator) stopped(log zerolog.Logger, total int) error {
	o.status.Finish(stoppedMessage)
	log.Info().Int("transactions", total).Msg("Processing run stopped")
	return nil
}

// processDay fetches, extracts and optionally digests one date.
func (o *Orchestrator) processDay(ctx context.Context, day civil.Date, notify bool) (int, error) {
	label := day.String()
	o.status.SetMessage("Fetching emails for " + label)

	msgs, err := o.mail.FetchForDate(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("fetching emails for %s: %w", label, err)
	}
	if len(msgs) == 0 {
		o.log.Info().Str("date", label).Msg("No emails for date")
		return 0, nil
	}

	o.status.Update(func(s *domain.ProcessingStatus) {
		s.TotalEmails = len(msgs)
		s.ProcessedCount = 0
		s.Message = fmt.Sprintf("Processing %d emails for %s", len(msgs), label)
	})

	txs, err := o.processor.ProcessMessages(ctx, msgs, o.progress(label))
	if err != nil {
		return len(txs), fmt.Errorf("processing emails for %s: %w", label, err)
	}
	o.log.Info().Str("date", label).Int("emails", len(msgs)).Int("transactions", len(txs)).Msg("Processed date")

	if notify && len(txs) > 0 && o.digests != nil {
		if _, err := o.digests.SendDailyDigest(ctx, txs, day); err != nil {
			var de *notifier.DeliveryError
			if !errors.As(err, &de) {
				return len(txs), fmt.Errorf("storing summary for %s: %w", label, err)
			}
			o.log.Warn().Err(err).Str("date", label).Msg("Daily summary stored but not delivered")
		}
	}
	return len(txs), nil
}

func (o *Orchestrator) progress(label string) pipeline.ProgressFunc {
	return func(processed, total int, msg domain.RawMessage) {
		o.status.Update(func(s *domain.ProcessingStatus) {
			s.TotalEmails = total
			s.ProcessedCount = processed
			s.CurrentEmail = fmt.Sprintf("[%s] %s", label, msg.Subject)
			s.Message = fmt.Sprintf("Processing emails for %s: %d of %d", label, processed, total)
		})
	}
}

// RunRecent processes the newest batchSize messages of the last daysBack days
// without sending a digest. It shares the run slot with RunRange.
func (o *Orchestrator) RunRecent(ctx context.Context, batchSize, daysBack int) error {
	runCtx, release, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	log := o.log.With().Int("batch_size", batchSize).Int("days_back", daysBack).Logger()
	o.status.Reset(o.now(), "Fetching recent emails")

	msgs, err := o.mail.Fetch(runCtx, batchSize, daysBack)
	if err != nil {
		if runCtx.Err() != nil {
			return o.stopped(log, 0)
		}
		o.status.Finish("Error: " + err.Error())
		return fmt.Errorf("RunRecent: fetching emails: %w", err)
	}

	txs, err := o.processor.ProcessMessages(runCtx, msgs, o.progress("recent"))
	if err != nil {
		if runCtx.Err() != nil && errors.Is(err, context.Canceled) {
			return o.stopped(log, len(txs))
		}
		o.status.Finish("Error: " + err.Error())
		return fmt.Errorf("RunRecent: %w", err)
	}

	msg := fmt.Sprintf("Completed: %d transactions from %d email(s)", len(txs), len(msgs))
	o.status.Finish(msg)
	log.Info().Msg(msg)
	return nil
}
