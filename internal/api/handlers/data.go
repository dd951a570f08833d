package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/api/middleware"
	"github.com/dvloznov/mail-ledger/internal/domain"
)

// LedgerReader is the read side of store.Store.
type LedgerReader interface {
	QueryTransactions(ctx context.Context, r domain.DateRange) ([]domain.StoredTransaction, error)
	QuerySummaries(ctx context.Context, r domain.DateRange) ([]domain.DailySummary, error)
}

// LedgerHandler lists stored transactions and summaries.
type LedgerHandler struct {
	store LedgerReader
	log   zerolog.Logger
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(store LedgerReader, log zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{
		store: store,
		log:   log,
	}
}

// ListTransactions handles GET /api/transactions?start_date=&end_date=
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	dr, err := parseRange(query.Get("start_date"), query.Get("end_date"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	transactions, err := h.store.QueryTransactions(r.Context(), dr)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	// Return array directly for frontend compatibility
	if transactions == nil {
		transactions = []domain.StoredTransaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

// ListSummaries handles GET /api/summaries?start_date=&end_date=
func (h *LedgerHandler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	dr, err := parseRange(query.Get("start_date"), query.Get("end_date"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summaries, err := h.store.QuerySummaries(r.Context(), dr)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query summaries")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query summaries")
		return
	}

	if summaries == nil {
		summaries = []domain.DailySummary{}
	}
	middleware.WriteJSON(w, http.StatusOK, summaries)
}
