// Package postgres implements store.Store on PostgreSQL via a pgx connection pool.
// Schema lives in migrations/postgres and is applied by cmd/migrate.
package postgres

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/store"
)

const (
	insertTransactionSQL = `
INSERT INTO transactions (source_message_id, amount, type, vendor, date, reference, category, processed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (source_message_id) DO NOTHING`

	existsSQL = `SELECT EXISTS (SELECT 1 FROM transactions WHERE source_message_id = $1)`

	queryTransactionsSQL = `
SELECT source_message_id, amount::float8, type, vendor, date, reference, category, processed_at
FROM transactions
WHERE date BETWEEN $1 AND $2
ORDER BY date DESC, processed_at DESC`

	insertSummarySQL = `
INSERT INTO daily_summaries (id, date, total_amount, transaction_count, summary_text, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	querySummariesSQL = `
SELECT id, date, total_amount::float8, transaction_count, summary_text, created_at
FROM daily_summaries
WHERE date BETWEEN $1 AND $2
ORDER BY date DESC, created_at DESC`
)

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New opens a pool for databaseURL and verifies connectivity.
func New(ctx context.Context, databaseURL string, log zerolog.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres.New: database URL not configured")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: failed to ping database: %w", err)
	}

	return &Store{pool: pool, log: log.With().Str("store", "postgres").Logger()}, nil
}

// Pool exposes the underlying pool for tools such as cmd/migrate.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, sourceMessageID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, existsSQL, sourceMessageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("Exists: %w", err)
	}
	return exists, nil
}

// Insert implements store.Store. Uniqueness is enforced by the source_message_id constraint.
func (s *Store) Insert(ctx context.Context, tx *domain.StoredTransaction) error {
	tag, err := s.pool.Exec(ctx, insertTransactionSQL,
		tx.SourceMessageID,
		tx.Amount,
		string(tx.Type),
		tx.Vendor,
		dateValue(tx.Date),
		tx.Reference,
		string(tx.Category),
		tx.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDuplicate
	}

	s.log.Debug().Str("source_message_id", tx.SourceMessageID).Float64("amount", tx.Amount).Msg("transaction inserted")
	return nil
}

// InsertSummary implements store.Store.
func (s *Store) InsertSummary(ctx context.Context, summary *domain.DailySummary) error {
	_, err := s.pool.Exec(ctx, insertSummarySQL,
		summary.ID,
		dateValue(summary.Date),
		summary.TotalAmount,
		summary.TransactionCount,
		summary.SummaryText,
		summary.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("InsertSummary: %w", err)
	}
	return nil
}

// QueryTransactions implements store.Store.
func (s *Store) QueryTransactions(ctx context.Context, r domain.DateRange) ([]domain.StoredTransaction, error) {
	rows, err := s.pool.Query(ctx, queryTransactionsSQL, dateValue(r.Start), dateValue(r.End))
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: %w", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StoredTransaction, error) {
		var (
			tx       domain.StoredTransaction
			typ, cat string
			date     time.Time
		)
		if err := row.Scan(&tx.SourceMessageID, &tx.Amount, &typ, &tx.Vendor, &date, &tx.Reference, &cat, &tx.ProcessedAt); err != nil {
			return tx, err
		}
		tx.Type = domain.TransactionType(typ)
		tx.Category = domain.Category(cat)
		tx.Date = civil.DateOf(date)
		return tx, nil
	})
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: scanning rows: %w", err)
	}
	return result, nil
}

// QuerySummaries implements store.Store.
func (s *Store) QuerySummaries(ctx context.Context, r domain.DateRange) ([]domain.DailySummary, error) {
	rows, err := s.pool.Query(ctx, querySummariesSQL, dateValue(r.Start), dateValue(r.End))
	if err != nil {
		return nil, fmt.Errorf("QuerySummaries: %w", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DailySummary, error) {
		var (
			summary domain.DailySummary
			date    time.Time
		)
		if err := row.Scan(&summary.ID, &date, &summary.TotalAmount, &summary.TransactionCount, &summary.SummaryText, &summary.CreatedAt); err != nil {
			return summary, err
		}
		summary.Date = civil.DateOf(date)
		return summary, nil
	})
	if err != nil {
		return nil, fmt.Errorf("QuerySummaries: scanning rows: %w", err)
	}
	return result, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// dateValue maps a calendar date to midnight UTC, which pgx encodes as a DATE.
func dateValue(d civil.Date) time.Time {
	return d.In(time.UTC)
}

var _ store.Store = (*Store)(nil)
