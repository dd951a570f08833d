package notifier

import (
	"context"
	"fmt"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/notionsync"
)

// NotionDeliverer adds each digest as a page of a Notion database.
type NotionDeliverer struct {
	client     notionsync.NotionService
	databaseID string
}

func NewNotionDeliverer(client notionsync.NotionService, databaseID string) *NotionDeliverer {
	return &NotionDeliverer{client: client, databaseID: databaseID}
}

func (d *NotionDeliverer) Name() string { return "notion" }

// Deliver implements Deliverer.
func (d *NotionDeliverer) Deliver(ctx context.Context, digest Digest, summary *domain.DailySummary) error {
	if _, err := notionsync.CreateDigestPage(ctx, d.client, d.databaseID, summary); err != nil {
		return fmt.Errorf("NotionDeliverer.Deliver: %w", err)
	}
	return nil
}
