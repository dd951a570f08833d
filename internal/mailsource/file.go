package mailsource

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/gcsarchive"
)

// FileSource reads .eml files from a local directory or a gs:// prefix.
// It is used to replay exported mail through the pipeline.
type FileSource struct {
	root    string
	objects gcsarchive.ObjectStore
	filter  *Filter
	log     zerolog.Logger
	now     func() time.Time
}

// NewFileSource creates a source rooted at a directory or gs:// prefix.
// objects is required only for gs:// roots.
func NewFileSource(root string, objects gcsarchive.ObjectStore, filter *Filter, log zerolog.Logger) (*FileSource, error) {
	if root == "" {
		return nil, fmt.Errorf("NewFileSource: root is required")
	}
	if strings.HasPrefix(root, "gs://") && objects == nil {
		return nil, fmt.Errorf("NewFileSource: object store required for %s", root)
	}
	if filter == nil {
		filter = DefaultFilter()
	}
	return &FileSource{
		root:    root,
		objects: objects,
		filter:  filter,
		log:     log.With().Str("source", "file").Logger(),
		now:     time.Now,
	}, nil
}

// All returns every parseable message under the root, filtered and newest first.
func (s *FileSource) All(ctx context.Context) ([]domain.RawMessage, error) {
	var (
		msgs []domain.RawMessage
		err  error
	)
	if strings.HasPrefix(s.root, "gs://") {
		msgs, err = s.loadGCS(ctx)
	} else {
		msgs, err = s.loadDir(ctx)
	}
	if err != nil {
		return nil, err
	}
	return s.filter.Apply(msgs), nil
}

// Fetch implements Source.
func (s *FileSource) Fetch(ctx context.Context, batchSize, daysBack int) ([]domain.RawMessage, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	since := civil.DateOf(s.now()).AddDays(-daysBack)

	result := []domain.RawMessage{}
	for _, m := range all {
		if civil.DateOf(m.Timestamp).Before(since) {
			continue
		}
		result = append(result, m)
		if batchSize > 0 && len(result) == batchSize {
			break
		}
	}
	return result, nil
}

// FetchForDate implements Source.
func (s *FileSource) FetchForDate(ctx context.Context, date civil.Date) ([]domain.RawMessage, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	result := []domain.RawMessage{}
	for _, m := range all {
		if civil.DateOf(m.Timestamp) == date {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *FileSource) loadDir(ctx context.Context) ([]domain.RawMessage, error) {
	paths, err := filepath.Glob(filepath.Join(s.root, "*.eml"))
	if err != nil {
		return nil, fmt.Errorf("FileSource: listing %s: %w", s.root, err)
	}

	var msgs []domain.RawMessage
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("FileSource: reading %s: %w", p, err)
		}
		msgs = s.appendParsed(msgs, data, filepath.Base(p))
	}
	return msgs, nil
}

func (s *FileSource) loadGCS(ctx context.Context) ([]domain.RawMessage, error) {
	uris, err := s.objects.List(ctx, s.root)
	if err != nil {
		return nil, fmt.Errorf("FileSource: %w", err)
	}

	var msgs []domain.RawMessage
	for _, uri := range uris {
		if !strings.HasSuffix(uri, ".eml") {
			continue
		}
		data, err := s.objects.Fetch(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("FileSource: %w", err)
		}
		msgs = s.appendParsed(msgs, data, gcsarchive.FilenameFromURI(uri))
	}
	return msgs, nil
}

func (s *FileSource) appendParsed(msgs []domain.RawMessage, data []byte, name string) []domain.RawMessage {
	msg, err := ParseMessage(bytes.NewReader(data), strings.TrimSuffix(name, ".eml"))
	if err != nil {
		s.log.Warn().Err(err).Str("file", name).Msg("skipping unparseable message")
		return msgs
	}
	return append(msgs, msg)
}
