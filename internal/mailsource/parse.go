package mailsource

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// ParseMessage reads an RFC 822 message. text/plain is preferred over text/html,
// which is converted to text. fallbackID is used when the message has no Message-ID.
func ParseMessage(r io.Reader, fallbackID string) (domain.RawMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return domain.RawMessage{}, fmt.Errorf("ParseMessage: reading header: %w", err)
	}
	defer mr.Close()

	msg := domain.RawMessage{ID: fallbackID}

	if id, err := mr.Header.MessageID(); err == nil && id != "" {
		msg.ID = id
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	} else {
		msg.Sender = mr.Header.Get("From")
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Timestamp = date
	}

	var plain, htmlBody string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return msg, fmt.Errorf("ParseMessage: reading part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		switch {
		case plain == "" && strings.EqualFold(contentType, "text/plain"):
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return msg, fmt.Errorf("ParseMessage: reading text part: %w", err)
			}
			plain = string(b)
		case htmlBody == "" && strings.EqualFold(contentType, "text/html"):
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return msg, fmt.Errorf("ParseMessage: reading html part: %w", err)
			}
			htmlBody = string(b)
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		msg.Body = strings.TrimSpace(plain)
	case htmlBody != "":
		msg.Body = HTMLToText(htmlBody)
	}

	if msg.ID == "" {
		return msg, fmt.Errorf("ParseMessage: message has no Message-ID and no fallback ID")
	}
	return msg, nil
}
