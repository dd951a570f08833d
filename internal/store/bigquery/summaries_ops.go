package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// InsertSummaryWithClient appends a digest row through the streaming inserter.
func InsertSummaryWithClient(ctx context.Context, client *bigquery.Client, dataset string, s *domain.DailySummary) error {
	inserter := client.Dataset(dataset).Table(summariesTable).Inserter()
	if err := inserter.Put(ctx, newSummaryRow(s)); err != nil {
		return fmt.Errorf("InsertSummary: inserting row: %w", err)
	}
	return nil
}

// QuerySummariesByDateRangeWithClient returns summaries dated inside r, newest first.
func QuerySummariesByDateRangeWithClient(ctx context.Context, client *bigquery.Client, dataset string, r domain.DateRange) ([]domain.DailySummary, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT id, date, total_amount, transaction_count, summary_text, created_at
		FROM %s.%s
		WHERE date >= @start_date
		  AND date <= @end_date
		ORDER BY date DESC, created_at DESC
	`, dataset, summariesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: r.Start},
		{Name: "end_date", Value: r.End},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QuerySummariesByDateRange: query read: %w", err)
	}

	result := []domain.DailySummary{}
	for {
		var row SummaryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QuerySummariesByDateRange: reading row: %w", err)
		}
		result = append(result, row.toDomain())
	}
	return result, nil
}
