package notifier

import (
	"context"
	"fmt"
	"path"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/gcsarchive"
)

// ArchiveDeliverer uploads the HTML digest to Cloud Storage as
// <prefix>/<YYYY-MM-DD>/<summary id>.html.
type ArchiveDeliverer struct {
	objects gcsarchive.ObjectStore
	bucket  string
	prefix  string
}

func NewArchiveDeliverer(objects gcsarchive.ObjectStore, bucket, prefix string) *ArchiveDeliverer {
	return &ArchiveDeliverer{objects: objects, bucket: bucket, prefix: prefix}
}

func (d *ArchiveDeliverer) Name() string { return "archive" }

// ObjectName returns the object path a summary is archived under.
func (d *ArchiveDeliverer) ObjectName(summary *domain.DailySummary) string {
	return path.Join(d.prefix, summary.Date.String(), summary.ID+".html")
}

// Deliver implements Deliverer.
func (d *ArchiveDeliverer) Deliver(ctx context.Context, digest Digest, summary *domain.DailySummary) error {
	body, err := digest.HTML()
	if err != nil {
		return fmt.Errorf("ArchiveDeliverer.Deliver: %w", err)
	}
	object := d.ObjectName(summary)
	if err := d.objects.Upload(ctx, d.bucket, object, []byte(body), "text/html; charset=utf-8"); err != nil {
		return fmt.Errorf("ArchiveDeliverer.Deliver: uploading %s: %w", gcsarchive.URI(d.bucket, object), err)
	}
	return nil
}
