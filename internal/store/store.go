// Package store defines the persistence contract for transactions and daily summaries.
package store

import (
	"context"
	"errors"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// ErrDuplicate is returned by Insert when a transaction for the same source message already exists.
var ErrDuplicate = errors.New("store: transaction already recorded for source message")

// Store persists transactions and digests. Implementations must be safe for concurrent use
// and must enforce uniqueness of SourceMessageID.
type Store interface {
	// Exists reports whether a transaction was already recorded for the message.
	Exists(ctx context.Context, sourceMessageID string) (bool, error)

	// Insert records tx, returning ErrDuplicate when its SourceMessageID is taken.
	Insert(ctx context.Context, tx *domain.StoredTransaction) error

	// InsertSummary appends a digest. Several summaries may share a date.
	InsertSummary(ctx context.Context, s *domain.DailySummary) error

	// QueryTransactions returns transactions dated inside r, newest first.
	QueryTransactions(ctx context.Context, r domain.DateRange) ([]domain.StoredTransaction, error)

	// QuerySummaries returns summaries dated inside r, newest first.
	QuerySummaries(ctx context.Context, r domain.DateRange) ([]domain.DailySummary, error)

	Close() error
}
