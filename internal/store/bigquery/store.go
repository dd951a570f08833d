// Package bigquery implements store.Store on BigQuery. Uniqueness of
// source_message_id is enforced with MERGE; digests are streamed.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/store"
)

// Store holds a shared BigQuery client to avoid creating a new connection for each operation.
type Store struct {
	client  *bigquery.Client
	dataset string
	log     zerolog.Logger
}

// New creates a store bound to projectID and dataset.
func New(ctx context.Context, projectID, dataset string, log zerolog.Logger) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("bigquery.New: project ID not configured")
	}
	if dataset == "" {
		return nil, fmt.Errorf("bigquery.New: dataset not configured")
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery.New: creating client: %w", err)
	}
	return &Store{
		client:  client,
		dataset: dataset,
		log:     log.With().Str("store", "bigquery").Logger(),
	}, nil
}

// Client exposes the shared client for tools such as cmd/migrate.
func (s *Store) Client() *bigquery.Client {
	return s.client
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, sourceMessageID string) (bool, error) {
	return TransactionExistsWithClient(ctx, s.client, s.dataset, sourceMessageID)
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, tx *domain.StoredTransaction) error {
	if err := InsertTransactionWithClient(ctx, s.client, s.dataset, tx); err != nil {
		return err
	}
	s.log.Debug().Str("source_message_id", tx.SourceMessageID).Msg("transaction merged")
	return nil
}

// InsertSummary implements store.Store.
func (s *Store) InsertSummary(ctx context.Context, summary *domain.DailySummary) error {
	return InsertSummaryWithClient(ctx, s.client, s.dataset, summary)
}

// QueryTransactions implements store.Store.
func (s *Store) QueryTransactions(ctx context.Context, r domain.DateRange) ([]domain.StoredTransaction, error) {
	return QueryTransactionsByDateRangeWithClient(ctx, s.client, s.dataset, r)
}

// QuerySummaries implements store.Store.
func (s *Store) QuerySummaries(ctx context.Context, r domain.DateRange) ([]domain.DailySummary, error) {
	return QuerySummariesByDateRangeWithClient(ctx, s.client, s.dataset, r)
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ store.Store = (*Store)(nil)
