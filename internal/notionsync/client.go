package notionsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
)

const defaultRequestTimeout = 30 * time.Second

// NotionClient talks to the Notion API. Every request is bounded by a timeout
// so a stalled call cannot hold up a digest run.
type NotionClient struct {
	client  *notionapi.Client
	timeout time.Duration
}

// NewNotionClient creates a client authenticated with an integration token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{
		client:  notionapi.NewClient(notionapi.Token(token)),
		timeout: defaultRequestTimeout,
	}
}

// CreatePage adds a page to databaseID. children become the page body.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	page, err := n.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
		Children:   children,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: database %s: %w", databaseID, err)
	}
	return page, nil
}

// QueryDatabase returns one page of results for req.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: database %s: %w", databaseID, err)
	}
	return resp, nil
}

var _ NotionService = (*NotionClient)(nil)
