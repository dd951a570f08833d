package mailsource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

const gmailUser = "me"

var errStopPaging = errors.New("stop paging")

// GmailSource reads the inbox through the Gmail API. It consumes an existing OAuth
// token file; the token is refreshed by the oauth2 library as needed.
type GmailSource struct {
	svc       *gmail.Service
	filter    *Filter
	maxPerDay int
	log       zerolog.Logger
	now       func() time.Time
}

// NewGmailSource loads OAuth client credentials and a previously granted token.
func NewGmailSource(ctx context.Context, credentialsFile, tokenFile string, filter *Filter, maxPerDay int, log zerolog.Logger) (*GmailSource, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("NewGmailSource: reading credentials %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(creds, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("NewGmailSource: parsing credentials: %w", err)
	}

	tok, err := loadToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("NewGmailSource: %w", err)
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("NewGmailSource: creating gmail service: %w", err)
	}

	if filter == nil {
		filter = DefaultFilter()
	}
	return &GmailSource{
		svc:       svc,
		filter:    filter,
		maxPerDay: maxPerDay,
		log:       log.With().Str("source", "gmail").Logger(),
		now:       time.Now,
	}, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening token file %s: %w", path, err)
	}
	defer f.Close()

	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decoding token file %s: %w", path, err)
	}
	return &tok, nil
}

// Fetch implements Source.
func (s *GmailSource) Fetch(ctx context.Context, batchSize, daysBack int) ([]domain.RawMessage, error) {
	since := civil.DateOf(s.now()).AddDays(-daysBack)
	q := fmt.Sprintf("after:%s -category:social", gmailDate(since))
	return s.search(ctx, q, batchSize)
}

// FetchForDate implements Source.
func (s *GmailSource) FetchForDate(ctx context.Context, date civil.Date) ([]domain.RawMessage, error) {
	return s.search(ctx, DateQuery(date), s.maxPerDay)
}

// DateQuery is the Gmail search for messages received on date.
func DateQuery(date civil.Date) string {
	return fmt.Sprintf("after:%s before:%s -category:social", gmailDate(date), gmailDate(date.AddDays(1)))
}

func gmailDate(d civil.Date) string {
	return fmt.Sprintf("%04d/%02d/%02d", d.Year, int(d.Month), d.Day)
}

func (s *GmailSource) search(ctx context.Context, q string, limit int) ([]domain.RawMessage, error) {
	var ids []string
	call := s.svc.Users.Messages.List(gmailUser).Q(q)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	err := call.Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if limit > 0 && len(ids) >= limit {
				return errStopPaging
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopPaging) {
		return nil, fmt.Errorf("GmailSource: listing %q: %w", q, err)
	}

	msgs := make([]domain.RawMessage, 0, len(ids))
	for _, id := range ids {
		m, err := s.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("GmailSource: fetching message %s: %w", id, err)
		}
		msgs = append(msgs, messageFromGmail(m))
	}

	kept := s.filter.Apply(msgs)
	s.log.Info().Str("query", q).Int("listed", len(ids)).Int("kept", len(kept)).Msg("messages fetched")
	return kept, nil
}

func messageFromGmail(m *gmail.Message) domain.RawMessage {
	msg := domain.RawMessage{
		ID:        m.Id,
		Timestamp: time.UnixMilli(m.InternalDate),
		Labels:    m.LabelIds,
	}
	if m.Payload == nil {
		return msg
	}

	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			if addr := senderAddress(h.Value); addr != "" {
				msg.Sender = addr
			} else {
				msg.Sender = h.Value
			}
		}
	}

	if plain := findPart(m.Payload, "text/plain"); plain != "" {
		msg.Body = strings.TrimSpace(plain)
	} else if html := findPart(m.Payload, "text/html"); html != "" {
		msg.Body = HTMLToText(html)
	}
	return msg
}

// findPart returns the decoded body of the first part with mimeType, depth first.
func findPart(p *gmail.MessagePart, mimeType string) string {
	if p == nil {
		return ""
	}
	if strings.EqualFold(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
		if b, err := decodeBase64URL(p.Body.Data); err == nil {
			return string(b)
		}
	}
	for _, child := range p.Parts {
		if body := findPart(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
