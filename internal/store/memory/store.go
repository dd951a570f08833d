package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/store"
)

// Store is an in-memory implementation of store.Store.
// It is safe for concurrent use. Data is lost on restart.
type Store struct {
	mu           sync.RWMutex
	transactions map[string]domain.StoredTransaction
	summaries    []domain.DailySummary
}

// New creates an empty store.
func New() *Store {
	return &Store{
		transactions: make(map[string]domain.StoredTransaction),
	}
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, sourceMessageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.transactions[sourceMessageID]
	return ok, nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, tx *domain.StoredTransaction) error {
	if tx.SourceMessageID == "" {
		return fmt.Errorf("Insert: source message ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[tx.SourceMessageID]; ok {
		return store.ErrDuplicate
	}
	s.transactions[tx.SourceMessageID] = *tx
	return nil
}

// InsertSummary implements store.Store.
func (s *Store) InsertSummary(ctx context.Context, summary *domain.DailySummary) error {
	if summary.ID == "" {
		return fmt.Errorf("InsertSummary: summary ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries = append(s.summaries, *summary)
	return nil
}

// QueryTransactions implements store.Store.
func (s *Store) QueryTransactions(ctx context.Context, r domain.DateRange) ([]domain.StoredTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.StoredTransaction{}
	for _, tx := range s.transactions {
		if r.Contains(tx.Date) {
			result = append(result, tx)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].ProcessedAt.After(result[j].ProcessedAt)
	})
	return result, nil
}

// QuerySummaries implements store.Store.
func (s *Store) QuerySummaries(ctx context.Context, r domain.DateRange) ([]domain.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.DailySummary{}
	for _, summary := range s.summaries {
		if r.Contains(summary.Date) {
			result = append(result, summary)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
