package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

const (
	transactionsTable = "transactions"
	summariesTable    = "daily_summaries"
	dateFormat        = "2006-01-02"
)

type TransactionRow struct {
	SourceMessageID string     `bigquery:"source_message_id"` // REQUIRED, unique by MERGE
	Amount          *big.Rat   `bigquery:"amount"`            // REQUIRED NUMERIC
	Type            string     `bigquery:"type"`              // REQUIRED credit|debit
	Vendor          string     `bigquery:"vendor"`
	Date            civil.Date `bigquery:"date"` // REQUIRED
	Reference       string     `bigquery:"reference"`
	Category        string     `bigquery:"category"`
	ProcessedAt     time.Time  `bigquery:"processed_at"` // REQUIRED
}

type SummaryRow struct {
	ID               string     `bigquery:"id"`           // REQUIRED
	Date             civil.Date `bigquery:"date"`         // REQUIRED, not unique
	TotalAmount      *big.Rat   `bigquery:"total_amount"` // REQUIRED NUMERIC
	TransactionCount int64      `bigquery:"transaction_count"`
	SummaryText      string     `bigquery:"summary_text"`
	CreatedAt        time.Time  `bigquery:"created_at"`
}

func toNumeric(f float64) *big.Rat {
	return decimal.NewFromFloat(f).Rat()
}

func fromNumeric(r *big.Rat) float64 {
	if r == nil {
		return 0
	}
	f, _ := r.Float64()
	return f
}

func newTransactionRow(tx *domain.StoredTransaction) *TransactionRow {
	return &TransactionRow{
		SourceMessageID: tx.SourceMessageID,
		Amount:          toNumeric(tx.Amount),
		Type:            string(tx.Type),
		Vendor:          tx.Vendor,
		Date:            tx.Date,
		Reference:       tx.Reference,
		Category:        string(tx.Category),
		ProcessedAt:     tx.ProcessedAt,
	}
}

func (r *TransactionRow) toDomain() domain.StoredTransaction {
	return domain.StoredTransaction{
		TransactionCandidate: domain.TransactionCandidate{
			Amount:    fromNumeric(r.Amount),
			Type:      domain.TransactionType(r.Type),
			Vendor:    r.Vendor,
			Date:      r.Date,
			Reference: r.Reference,
			Category:  domain.Category(r.Category),
		},
		SourceMessageID: r.SourceMessageID,
		ProcessedAt:     r.ProcessedAt,
	}
}

func newSummaryRow(s *domain.DailySummary) *SummaryRow {
	return &SummaryRow{
		ID:               s.ID,
		Date:             s.Date,
		TotalAmount:      toNumeric(s.TotalAmount),
		TransactionCount: int64(s.TransactionCount),
		SummaryText:      s.SummaryText,
		CreatedAt:        s.CreatedAt,
	}
}

func (r *SummaryRow) toDomain() domain.DailySummary {
	return domain.DailySummary{
		ID:               r.ID,
		Date:             r.Date,
		TotalAmount:      fromNumeric(r.TotalAmount),
		TransactionCount: int(r.TransactionCount),
		SummaryText:      r.SummaryText,
		CreatedAt:        r.CreatedAt,
	}
}
