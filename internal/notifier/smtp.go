package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"
	gomail "github.com/wneessen/go-mail"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

const smtpTimeout = 30 * time.Second

// mailSender is the part of *gomail.Client the deliverer uses.
type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPDeliverer emails the digest as a text/HTML alternative message.
// The connection is upgraded with STARTTLS when the server offers it.
type SMTPDeliverer struct {
	server string
	client mailSender
	from   *mail.Address
	to     []*mail.Address
	now    func() time.Time
}

// NewSMTPDeliverer parses the sender and recipient addresses up front.
// user may be empty for relays that do not require authentication.
func NewSMTPDeliverer(server string, port int, user, password, from, to string) (*SMTPDeliverer, error) {
	if server == "" {
		return nil, fmt.Errorf("NewSMTPDeliverer: SMTP server is required")
	}
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("NewSMTPDeliverer: invalid from address %q: %w", from, err)
	}
	toAddrs, err := mail.ParseAddressList(to)
	if err != nil {
		return nil, fmt.Errorf("NewSMTPDeliverer: invalid to address %q: %w", to, err)
	}

	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(smtpTimeout),
	}
	if user != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(user),
			gomail.WithPassword(password),
		)
	}
	client, err := gomail.NewClient(server, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewSMTPDeliverer: %w", err)
	}

	return &SMTPDeliverer{
		server: server,
		client: client,
		from:   fromAddr,
		to:     toAddrs,
		now:    time.Now,
	}, nil
}

func (d *SMTPDeliverer) Name() string { return "email" }

// Deliver implements Deliverer.
func (d *SMTPDeliverer) Deliver(ctx context.Context, digest Digest, summary *domain.DailySummary) error {
	htmlBody, err := digest.HTML()
	if err != nil {
		return fmt.Errorf("SMTPDeliverer.Deliver: %w", err)
	}
	msg, err := d.compose(Subject(digest.Date), summary.SummaryText, htmlBody)
	if err != nil {
		return fmt.Errorf("SMTPDeliverer.Deliver: composing message: %w", err)
	}
	if err := d.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("SMTPDeliverer.Deliver: sending via %s: %w", d.server, err)
	}
	return nil
}

func (d *SMTPDeliverer) compose(subject, text, htmlBody string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(d.from.String()); err != nil {
		return nil, err
	}
	rcpts := make([]string, 0, len(d.to))
	for _, a := range d.to {
		rcpts = append(rcpts, a.String())
	}
	if err := msg.To(rcpts...); err != nil {
		return nil, err
	}
	msg.Subject(subject)
	msg.SetDateWithValue(d.now())
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, text)
	msg.AddAlternativeString(gomail.TypeTextHTML, htmlBody)
	return msg, nil
}
