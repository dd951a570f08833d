// Package notifier builds the daily digest, persists it as a DailySummary and
// hands it to the configured delivery channels.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/logger"
)

// SummaryStore is the part of store.Store the notifier writes to.
type SummaryStore interface {
	InsertSummary(ctx context.Context, summary *domain.DailySummary) error
}

// Deliverer sends a rendered digest through one channel.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, digest Digest, summary *domain.DailySummary) error
}

// DeliveryError reports channels that failed after the summary was persisted.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return "digest delivery failed: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Notifier persists and delivers daily digests.
type Notifier struct {
	store      SummaryStore
	deliverers []Deliverer
	log        zerolog.Logger
	now        func() time.Time
}

// New returns a Notifier writing summaries to st and delivering through deliverers in order.
func New(st SummaryStore, log zerolog.Logger, deliverers ...Deliverer) *Notifier {
	return &Notifier{
		store:      st,
		deliverers: deliverers,
		log:        logger.Component(log, "notifier"),
		now:        time.Now,
	}
}

// Channels returns the names of the configured deliverers.
func (n *Notifier) Channels() []string {
	names := make([]string, 0, len(n.deliverers))
	for _, d := range n.deliverers {
		names = append(names, d.Name())
	}
	return names
}

// SendDailyDigest aggregates txs into a summary for date, stores it and delivers it.
// Empty input is a no-op returning nil, nil. A storage failure returns before any
// delivery. Delivery failures are joined into a *DeliveryError returned together
// with the persisted summary.
func (n *Notifier) SendDailyDigest(ctx context.Context, txs []domain.StoredTransaction, date civil.Date) (*domain.DailySummary, error) {
	if len(txs) == 0 {
		n.log.Info().Str("date", date.String()).Msg("No transactions to summarize")
		return nil, nil
	}

	digest := BuildDigest(txs, date)
	total, _ := digest.Total.Float64()
	summary := &domain.DailySummary{
		ID:               uuid.New().String(),
		Date:             date,
		TotalAmount:      total,
		TransactionCount: digest.Count,
		SummaryText:      digest.Text(),
		CreatedAt:        n.now().UTC(),
	}

	if err := n.store.InsertSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("SendDailyDigest: persisting summary: %w", err)
	}

	n.log.Info().
		Str("date", date.String()).
		Str("summary_id", summary.ID).
		Int("transaction_count", summary.TransactionCount).
		Str("total", digest.Total.StringFixed(2)).
		Msg("Daily summary stored")

	var errs []error
	for _, d := range n.deliverers {
		if err := d.Deliver(ctx, digest, summary); err != nil {
			n.log.Error().Err(err).Str("channel", d.Name()).Msg("Failed to deliver daily summary")
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}
		n.log.Info().Str("channel", d.Name()).Msg("Daily summary delivered")
	}

	if len(errs) > 0 {
		return summary, &DeliveryError{Err: errors.Join(errs...)}
	}
	return summary, nil
}
