package notionsync

import (
	"context"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// NotionService is the part of the Notion API the sync and the digest deliverer use.
type NotionService interface {
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error)
	QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

// TransactionReader is the part of store.Store the sync needs.
type TransactionReader interface {
	QueryTransactions(ctx context.Context, r domain.DateRange) ([]domain.StoredTransaction, error)
}
