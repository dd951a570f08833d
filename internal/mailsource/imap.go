package mailsource

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// IMAPConfig holds the connection settings for IMAPSource.
type IMAPConfig struct {
	Server   string
	Port     int
	Address  string
	Password string
	Timeout  time.Duration
}

// IMAPSource reads INBOX over IMAPS. A connection is opened per fetch and closed afterwards.
type IMAPSource struct {
	cfg       IMAPConfig
	filter    *Filter
	maxPerDay int
	log       zerolog.Logger
	now       func() time.Time
}

// NewIMAPSource validates cfg. No connection is made until the first fetch.
func NewIMAPSource(cfg IMAPConfig, filter *Filter, maxPerDay int, log zerolog.Logger) (*IMAPSource, error) {
	if cfg.Server == "" || cfg.Address == "" {
		return nil, fmt.Errorf("NewIMAPSource: server and address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if filter == nil {
		filter = DefaultFilter()
	}
	return &IMAPSource{
		cfg:       cfg,
		filter:    filter,
		maxPerDay: maxPerDay,
		log:       log.With().Str("source", "imap").Logger(),
		now:       time.Now,
	}, nil
}

// Fetch implements Source.
func (s *IMAPSource) Fetch(ctx context.Context, batchSize, daysBack int) ([]domain.RawMessage, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = civil.DateOf(s.now()).AddDays(-daysBack).In(time.UTC)
	return s.search(ctx, criteria, batchSize)
}

// FetchForDate implements Source.
func (s *IMAPSource) FetchForDate(ctx context.Context, date civil.Date) ([]domain.RawMessage, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = date.In(time.UTC)
	criteria.Before = date.AddDays(1).In(time.UTC)
	return s.search(ctx, criteria, s.maxPerDay)
}

func (s *IMAPSource) dial() (*client.Client, error) {
	addr := net.JoinHostPort(s.cfg.Server, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	c, err := client.DialWithDialerTLS(dialer, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	c.Timeout = s.cfg.Timeout

	if err := c.Login(s.cfg.Address, s.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("logging in as %s: %w", s.cfg.Address, err)
	}
	return c, nil
}

func (s *IMAPSource) search(ctx context.Context, criteria *imap.SearchCriteria, limit int) ([]domain.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := s.dial()
	if err != nil {
		return nil, fmt.Errorf("IMAPSource: %w", err)
	}
	defer func() {
		if err := c.Logout(); err != nil {
			s.log.Debug().Err(err).Msg("logout failed")
		}
	}()

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("IMAPSource: selecting INBOX: %w", err)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("IMAPSource: searching: %w", err)
	}
	uids = newestUIDs(uids, limit)
	if len(uids) == 0 {
		return []domain.RawMessage{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid, imap.FetchInternalDate}

	fetched := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, fetched)
	}()

	msgs := make([]domain.RawMessage, 0, len(uids))
	for m := range fetched {
		body := m.GetBody(section)
		if body == nil {
			continue
		}
		msg, err := ParseMessage(body, fmt.Sprintf("imap-uid-%d", m.Uid))
		if err != nil {
			s.log.Warn().Err(err).Uint32("uid", m.Uid).Msg("skipping unparseable message")
			continue
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = m.InternalDate
		}
		msgs = append(msgs, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("IMAPSource: fetching: %w", err)
	}

	kept := s.filter.Apply(msgs)
	s.log.Info().Int("found", len(uids)).Int("kept", len(kept)).Msg("messages fetched")
	return kept, nil
}

// newestUIDs keeps the limit highest UIDs, highest first. UIDs grow with arrival order.
func newestUIDs(uids []uint32, limit int) []uint32 {
	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
