// Package notionsync mirrors stored transactions and digests into Notion databases.
package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/logger"
)

// SyncResult counts what a sync did.
type SyncResult struct {
	Created int
	Skipped int
	Failed  int
}

// SyncTransactions creates a Notion page for every stored transaction in r that
// is not yet present. Pages are matched on "Message ID", so reruns are idempotent.
// Individual page failures are logged and counted; they do not stop the sync.
func SyncTransactions(ctx context.Context, reader TransactionReader, notionClient NotionService, notionDBID string, r domain.DateRange, dryRun bool) (SyncResult, error) {
	log := logger.FromContext(ctx)
	var result SyncResult

	log.Info().
		Str("start_date", r.Start.String()).
		Str("end_date", r.End.String()).
		Bool("dry_run", dryRun).
		Msg("Starting transaction sync to Notion")

	transactions, err := reader.QueryTransactions(ctx, r)
	if err != nil {
		return result, fmt.Errorf("SyncTransactions: failed to query transactions: %w", err)
	}

	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return result, fmt.Errorf("SyncTransactions: failed to query Notion pages: %w", err)
	}

	existing := make(map[string]bool, len(notionPages))
	for _, page := range notionPages {
		if id := extractMessageID(page); id != "" {
			existing[id] = true
		}
	}

	log.Info().
		Int("transaction_count", len(transactions)).
		Int("notion_page_count", len(notionPages)).
		Msg("Retrieved transactions and existing Notion pages")

	for i := range transactions {
		tx := &transactions[i]
		if existing[tx.SourceMessageID] {
			result.Skipped++
			continue
		}

		if dryRun {
			log.Info().Str("source_message_id", tx.SourceMessageID).Msg("[DRY RUN] Would create new Notion page")
			result.Created++
			continue
		}

		page, err := notionClient.CreatePage(ctx, notionDBID, TransactionToNotionProperties(tx), nil)
		if err != nil {
			log.Warn().Err(err).Str("source_message_id", tx.SourceMessageID).Msg("Failed to create Notion page")
			result.Failed++
			continue
		}
		existing[tx.SourceMessageID] = true
		result.Created++

		log.Debug().
			Str("source_message_id", tx.SourceMessageID).
			Str("page_id", string(page.ID)).
			Msg("Created Notion page")
	}

	log.Info().
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Transaction sync completed")
	return result, nil
}

// CreateDigestPage adds one page for summary to the digest database. The
// summary text is repeated in the page body, one paragraph per line.
func CreateDigestPage(ctx context.Context, notionClient NotionService, notionDBID string, summary *domain.DailySummary) (string, error) {
	page, err := notionClient.CreatePage(ctx, notionDBID, DigestToNotionProperties(summary), DigestBlocks(summary.SummaryText))
	if err != nil {
		return "", fmt.Errorf("CreateDigestPage: %w", err)
	}
	return string(page.ID), nil
}

func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}

// extractMessageID reads the "Message ID" rich text property of a page.
func extractMessageID(page notionapi.Page) string {
	prop, ok := page.Properties[propMessageID]
	if !ok {
		return ""
	}
	rt, ok := prop.(*notionapi.RichTextProperty)
	if !ok || len(rt.RichText) == 0 {
		return ""
	}
	if rt.RichText[0].PlainText != "" {
		return rt.RichText[0].PlainText
	}
	if rt.RichText[0].Text != nil {
		return rt.RichText[0].Text.Content
	}
	return ""
}
