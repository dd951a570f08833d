package notionsync

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// Notion caps a single rich text element at 2000 characters.
const maxRichTextLen = 2000

const maxChildBlocks = 100

// Property names of the transactions database.
const (
	propVendor    = "Vendor"
	propDate      = "Date"
	propAmount    = "Amount"
	propType      = "Type"
	propCategory  = "Category"
	propReference = "Reference"
	propMessageID = "Message ID"
	propProcessed = "Processed At"
)

// Property names of the digest database.
const (
	propTitle   = "Name"
	propTotal   = "Total"
	propCount   = "Transactions"
	propSummary = "Summary"
)

// TransactionToNotionProperties converts a stored transaction to Notion properties.
// "Message ID" is the idempotency key of the sync.
func TransactionToNotionProperties(tx *domain.StoredTransaction) notionapi.Properties {
	vendor := tx.Vendor
	if vendor == "" {
		vendor = "Unknown"
	}

	props := notionapi.Properties{
		propVendor: notionapi.TitleProperty{
			Title: richText(vendor),
		},
		propDate:   dateProperty(tx.Date),
		propAmount: notionapi.NumberProperty{Number: tx.Amount},
		propType: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Type)},
		},
		propCategory: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Category)},
		},
		propMessageID: notionapi.RichTextProperty{
			RichText: richText(tx.SourceMessageID),
		},
	}

	if tx.Reference != "" {
		props[propReference] = notionapi.RichTextProperty{RichText: richText(tx.Reference)}
	}
	if !tx.ProcessedAt.IsZero() {
		d := notionapi.Date(tx.ProcessedAt)
		props[propProcessed] = notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
	}
	return props
}

// DigestToNotionProperties converts a daily summary to Notion properties.
func DigestToNotionProperties(s *domain.DailySummary) notionapi.Properties {
	return notionapi.Properties{
		propTitle: notionapi.TitleProperty{
			Title: richText(DigestTitle(s.Date)),
		},
		propDate:    dateProperty(s.Date),
		propTotal:   notionapi.NumberProperty{Number: s.TotalAmount},
		propCount:   notionapi.NumberProperty{Number: float64(s.TransactionCount)},
		propSummary: notionapi.RichTextProperty{RichText: richText(s.SummaryText)},
	}
}

// DigestTitle is the page title of a digest, matching the email subject.
func DigestTitle(d civil.Date) string {
	return "Daily Transaction Summary - " + d.In(time.UTC).Format("January 02, 2006")
}

func dateProperty(d civil.Date) notionapi.DateProperty {
	start := notionapi.Date(d.In(time.UTC))
	return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &start}}
}

// DigestBlocks renders summary text as paragraph blocks. Blank lines are
// dropped; Notion accepts at most maxChildBlocks children per request.
func DigestBlocks(text string) []notionapi.Block {
	var blocks []notionapi.Block
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(blocks) == maxChildBlocks {
			break
		}
		blocks = append(blocks, &notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{
				Object: notionapi.ObjectTypeBlock,
				Type:   notionapi.BlockTypeParagraph,
			},
			Paragraph: notionapi.Paragraph{RichText: richText(line)},
		})
	}
	return blocks
}

// richText splits s into elements that respect the Notion length cap.
func richText(s string) []notionapi.RichText {
	runes := []rune(s)
	if len(runes) == 0 {
		return []notionapi.RichText{textElement("")}
	}
	var out []notionapi.RichText
	for len(runes) > 0 {
		n := len(runes)
		if n > maxRichTextLen {
			n = maxRichTextLen
		}
		out = append(out, textElement(string(runes[:n])))
		runes = runes[n:]
	}
	return out
}

func textElement(s string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}
}
