// Package gcsarchive stores digests in and reads raw messages from Google Cloud Storage.
package gcsarchive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ObjectStore provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Upload writes data to bucket/object.
	Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error

	// Fetch downloads the object bytes at a gs:// URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)

	// List returns the gs:// URIs of every object under a gs:// prefix.
	List(ctx context.Context, prefixURI string) ([]string, error)
}

// Client is the Cloud Storage implementation of ObjectStore.
// It assumes Application Default Credentials are configured.
type Client struct {
	client        *storage.Client
	uploadTimeout time.Duration
}

// NewClient creates a storage client shared by all operations.
func NewClient(ctx context.Context) (*Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewClient: create storage client: %w", err)
	}
	return &Client{client: client, uploadTimeout: 2 * time.Minute}, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Upload implements ObjectStore.
func (c *Client) Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("Upload: writing %s: %w", URI(bucket, object), err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("Upload: finalize %s: %w", URI(bucket, object), err)
	}
	return nil
}

// Fetch implements ObjectStore.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	if object == "" {
		return nil, fmt.Errorf("Fetch: invalid GCS URI (no object path): %s", uri)
	}

	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}

// List implements ObjectStore.
func (c *Client) List(ctx context.Context, prefixURI string) ([]string, error) {
	bucket, prefix, err := ParseURI(prefixURI)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var uris []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List: iterating %s: %w", prefixURI, err)
		}
		uris = append(uris, URI(bucket, attrs.Name))
	}
	return uris, nil
}

var _ ObjectStore = (*Client)(nil)
