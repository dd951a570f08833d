package notionsync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/logger"
)

// mockNotion is a mock implementation of NotionService.
type mockNotion struct {
	CreatePageFunc    func(ctx context.Context, databaseID string, props notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error)
	QueryDatabaseFunc func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

func (m *mockNotion) CreatePage(ctx context.Context, databaseID string, props notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error) {
	return m.CreatePageFunc(ctx, databaseID, props, children)
}

func (m *mockNotion) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return m.QueryDatabaseFunc(ctx, databaseID, req)
}

// mockReader is a mock implementation of TransactionReader.
type mockReader struct {
	txs []domain.StoredTransaction
	err error
}

func (m *mockReader) QueryTransactions(ctx context.Context, r domain.DateRange) ([]domain.StoredTransaction, error) {
	return m.txs, m.err
}

func pageWithMessageID(id string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID("page-" + id),
		Properties: notionapi.Properties{
			propMessageID: &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: id}},
			},
		},
	}
}

func quietContext() context.Context {
	var sb strings.Builder
	return logger.WithContext(context.Background(), logger.NewWithWriter(&sb))
}

func TestSyncTransactions(t *testing.T) {
	day := civil.Date{Year: 2024, Month: 8, Day: 15}
	reader := &mockReader{txs: []domain.StoredTransaction{
		{SourceMessageID: "m1", TransactionCandidate: domain.TransactionCandidate{Amount: 1, Date: day}},
		{SourceMessageID: "m2", TransactionCandidate: domain.TransactionCandidate{Amount: 2, Date: day}},
		{SourceMessageID: "m3", TransactionCandidate: domain.TransactionCandidate{Amount: 3, Date: day}},
	}}

	queries := 0
	var created []string
	notion := &mockNotion{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			queries++
			if req.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{pageWithMessageID("m1")},
					HasMore:    true,
					NextCursor: "next",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{{ID: "no-props"}}}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, props notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error) {
			if databaseID != "db" {
				t.Errorf("CreatePage databaseID = %q, want db", databaseID)
			}
			id := props[propMessageID].(notionapi.RichTextProperty).RichText[0].Text.Content
			if id == "m3" {
				return nil, errors.New("rate limited")
			}
			created = append(created, id)
			return &notionapi.Page{ID: notionapi.ObjectID("page-" + id)}, nil
		},
	}

	result, err := SyncTransactions(quietContext(), reader, notion, "db", domain.SingleDay(day), false)
	if err != nil {
		t.Fatalf("SyncTransactions() error = %v", err)
	}

	if queries != 2 {
		t.Errorf("QueryDatabase called %d times, want 2 (pagination)", queries)
	}
	want := SyncResult{Created: 1, Skipped: 1, Failed: 1}
	if result != want {
		t.Errorf("SyncTransactions() = %+v, want %+v", result, want)
	}
	if len(created) != 1 || created[0] != "m2" {
		t.Errorf("created pages = %v, want [m2]", created)
	}
}

func TestSyncTransactions_DryRun(t *testing.T) {
	reader := &mockReader{txs: []domain.StoredTransaction{{SourceMessageID: "m1"}}}
	notion := &mockNotion{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{}, nil
		},
		CreatePageFunc: func(ctx context.Context, databaseID string, props notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error) {
			t.Fatal("CreatePage must not be called in dry run")
			return nil, nil
		},
	}

	result, err := SyncTransactions(quietContext(), reader, notion, "db", domain.DateRange{}, true)
	if err != nil {
		t.Fatalf("SyncTransactions() error = %v", err)
	}
	if result.Created != 1 {
		t.Errorf("Created = %d, want 1", result.Created)
	}
}

func TestSyncTransactions_ReaderError(t *testing.T) {
	reader := &mockReader{err: errors.New("store down")}
	_, err := SyncTransactions(quietContext(), reader, &mockNotion{}, "db", domain.DateRange{}, false)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestTransactionToNotionProperties(t *testing.T) {
	tx := &domain.StoredTransaction{
		TransactionCandidate: domain.TransactionCandidate{
			Amount:   67.53,
			Type:     domain.TransactionDebit,
			Date:     civil.Date{Year: 2024, Month: 8, Day: 15},
			Category: domain.CategoryShopping,
		},
		SourceMessageID: "m1",
		ProcessedAt:     time.Date(2024, 8, 15, 10, 0, 0, 0, time.UTC),
	}

	props := TransactionToNotionProperties(tx)

	title := props[propVendor].(notionapi.TitleProperty)
	if got := title.Title[0].Text.Content; got != "Unknown" {
		t.Errorf("vendor title = %q, want Unknown", got)
	}
	if got := props[propAmount].(notionapi.NumberProperty).Number; got != 67.53 {
		t.Errorf("amount = %v", got)
	}
	if _, ok := props[propReference]; ok {
		t.Error("empty reference must be omitted")
	}
	if _, ok := props[propProcessed]; !ok {
		t.Error("processed date missing")
	}
}

func TestDigestProperties(t *testing.T) {
	s := &domain.DailySummary{
		Date:             civil.Date{Year: 2024, Month: 8, Day: 5},
		TotalAmount:      100,
		TransactionCount: 3,
		SummaryText:      strings.Repeat("x", 4500),
	}
	props := DigestToNotionProperties(s)

	title := props[propTitle].(notionapi.TitleProperty).Title[0].Text.Content
	if title != "Daily Transaction Summary - August 05, 2024" {
		t.Errorf("title = %q", title)
	}
	summary := props[propSummary].(notionapi.RichTextProperty).RichText
	if len(summary) != 3 {
		t.Errorf("summary split into %d elements, want 3", len(summary))
	}
}

func TestCreateDigestPage(t *testing.T) {
	var gotChildren []notionapi.Block
	client := &mockNotion{
		CreatePageFunc: func(ctx context.Context, databaseID string, props notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error) {
			if databaseID != "digest-db" {
				t.Errorf("databaseID = %q, want digest-db", databaseID)
			}
			gotChildren = children
			return &notionapi.Page{ID: "digest-page"}, nil
		},
	}

	s := &domain.DailySummary{
		Date:        civil.Date{Year: 2024, Month: 8, Day: 5},
		SummaryText: "Spent 10.00 at ACME.\n\nReceived 5.00 from Bob.\n",
	}
	id, err := CreateDigestPage(context.Background(), client, "digest-db", s)
	if err != nil {
		t.Fatalf("CreateDigestPage: %v", err)
	}
	if id != "digest-page" {
		t.Errorf("id = %q, want digest-page", id)
	}
	if len(gotChildren) != 2 {
		t.Fatalf("children = %d, want 2", len(gotChildren))
	}
	para, ok := gotChildren[1].(*notionapi.ParagraphBlock)
	if !ok {
		t.Fatalf("child type = %T, want *ParagraphBlock", gotChildren[1])
	}
	if text := para.Paragraph.RichText[0].Text.Content; text != "Received 5.00 from Bob." {
		t.Errorf("paragraph = %q", text)
	}
}

func TestCreateDigestPage_Error(t *testing.T) {
	client := &mockNotion{
		CreatePageFunc: func(ctx context.Context, databaseID string, props notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error) {
			return nil, errors.New("rate limited")
		},
	}
	_, err := CreateDigestPage(context.Background(), client, "digest-db", &domain.DailySummary{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDigestBlocksCapped(t *testing.T) {
	blocks := DigestBlocks(strings.Repeat("line\n", maxChildBlocks+20))
	if len(blocks) != maxChildBlocks {
		t.Errorf("blocks = %d, want %d", len(blocks), maxChildBlocks)
	}
}
