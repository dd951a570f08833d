package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/store"
)

// TransactionExistsWithClient reports whether a row exists for sourceMessageID.
func TransactionExistsWithClient(ctx context.Context, client *bigquery.Client, dataset, sourceMessageID string) (bool, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT COUNT(1) AS n
		FROM %s.%s
		WHERE source_message_id = @source_message_id
	`, dataset, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "source_message_id", Value: sourceMessageID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("TransactionExists: query read: %w", err)
	}

	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return false, fmt.Errorf("TransactionExists: reading count: %w", err)
	}
	return row.N > 0, nil
}

// InsertTransactionWithClient merges tx into the transactions table keyed by
// source_message_id. It returns store.ErrDuplicate when the key already exists.
func InsertTransactionWithClient(ctx context.Context, client *bigquery.Client, dataset string, tx *domain.StoredTransaction) error {
	row := newTransactionRow(tx)

	q := client.Query(fmt.Sprintf(`
		MERGE %s.%s T
		USING (SELECT @source_message_id AS source_message_id) S
		ON T.source_message_id = S.source_message_id
		WHEN NOT MATCHED THEN
		  INSERT (source_message_id, amount, type, vendor, date, reference, category, processed_at)
		  VALUES (@source_message_id, @amount, @type, @vendor, @date, @reference, @category, @processed_at)
	`, dataset, transactionsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "source_message_id", Value: row.SourceMessageID},
		{Name: "amount", Value: row.Amount},
		{Name: "type", Value: row.Type},
		{Name: "vendor", Value: row.Vendor},
		{Name: "date", Value: row.Date},
		{Name: "reference", Value: row.Reference},
		{Name: "category", Value: row.Category},
		{Name: "processed_at", Value: row.ProcessedAt},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("InsertTransaction: running merge query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("InsertTransaction: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("InsertTransaction: job error: %w", err)
	}

	if affectedRows(status) == 0 {
		return store.ErrDuplicate
	}
	return nil
}

// QueryTransactionsByDateRangeWithClient returns transactions dated inside r, newest first.
func QueryTransactionsByDateRangeWithClient(ctx context.Context, client *bigquery.Client, dataset string, r domain.DateRange) ([]domain.StoredTransaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			source_message_id,
			amount,
			type,
			vendor,
			date,
			reference,
			category,
			processed_at
		FROM %s.%s
		WHERE date >= @start_date
		  AND date <= @end_date
		ORDER BY date DESC, processed_at DESC
	`, dataset, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: r.Start},
		{Name: "end_date", Value: r.End},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactionsByDateRange: query read: %w", err)
	}

	result := []domain.StoredTransaction{}
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactionsByDateRange: reading row: %w", err)
		}
		result = append(result, row.toDomain())
	}
	return result, nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}
