package scheduler

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// TransactionQuerier reads stored transactions.
type TransactionQuerier interface {
	QueryTransactions(ctx context.Context, r domain.DateRange) ([]domain.StoredTransaction, error)
}

// DigestSender persists and delivers a digest.
type DigestSender interface {
	SendDailyDigest(ctx context.Context, txs []domain.StoredTransaction, date civil.Date) (*domain.DailySummary, error)
}

// StoredDigest returns a DigestFunc that summarizes everything stored for the date.
func StoredDigest(store TransactionQuerier, sender DigestSender) DigestFunc {
	return func(ctx context.Context, date civil.Date) error {
		txs, err := store.QueryTransactions(ctx, domain.SingleDay(date))
		if err != nil {
			return fmt.Errorf("StoredDigest: querying transactions for %s: %w", date, err)
		}
		if _, err := sender.SendDailyDigest(ctx, txs, date); err != nil {
			return fmt.Errorf("StoredDigest: %w", err)
		}
		return nil
	}
}
