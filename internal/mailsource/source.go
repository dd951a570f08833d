// Package mailsource fetches inbox messages for the extraction pipeline.
//
// Every Source returns messages newest-first and applies the shared Filter, which
// drops social and other non-transactional senders as well as provider
// categories such as Gmail's CATEGORY_SOCIAL.
package mailsource

import (
	"context"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/emersion/go-message/mail"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// Source fetches pre-filtered messages, newest first.
type Source interface {
	// Fetch returns up to batchSize messages received since daysBack days before today.
	Fetch(ctx context.Context, batchSize, daysBack int) ([]domain.RawMessage, error)

	// FetchForDate returns the messages received on date.
	FetchForDate(ctx context.Context, date civil.Date) ([]domain.RawMessage, error)
}

// DefaultBlockedSenders are social and newsletter senders that never report transactions.
var DefaultBlockedSenders = []string{
	"facebookmail.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"noreply@medium.com",
}

// DefaultBlockedLabels are provider categories that never carry transactions.
var DefaultBlockedLabels = []string{"CATEGORY_SOCIAL", "CATEGORY_PROMOTIONS"}

// Filter drops messages by sender and provider label.
// A blocked entry containing "@" matches a full address; otherwise it matches
// the sender's domain or any subdomain of it.
type Filter struct {
	addresses map[string]struct{}
	domains   []string
	labels    map[string]struct{}
}

// NewFilter builds a filter; entries are matched case-insensitively.
func NewFilter(blockedSenders, blockedLabels []string) *Filter {
	f := &Filter{
		addresses: make(map[string]struct{}),
		labels:    make(map[string]struct{}),
	}
	for _, s := range blockedSenders {
		s = strings.ToLower(strings.TrimSpace(s))
		switch {
		case s == "":
		case strings.Contains(s, "@"):
			f.addresses[s] = struct{}{}
		default:
			f.domains = append(f.domains, strings.TrimPrefix(s, "@"))
		}
	}
	for _, l := range blockedLabels {
		f.labels[strings.ToUpper(strings.TrimSpace(l))] = struct{}{}
	}
	return f
}

// DefaultFilter uses DefaultBlockedSenders and DefaultBlockedLabels.
func DefaultFilter() *Filter {
	return NewFilter(DefaultBlockedSenders, DefaultBlockedLabels)
}

// Allow reports whether msg should reach the pipeline.
func (f *Filter) Allow(msg domain.RawMessage) bool {
	for _, l := range msg.Labels {
		if _, ok := f.labels[strings.ToUpper(l)]; ok {
			return false
		}
	}

	addr := senderAddress(msg.Sender)
	if addr == "" {
		return true
	}
	if _, ok := f.addresses[addr]; ok {
		return false
	}

	at := strings.LastIndex(addr, "@")
	host := addr[at+1:]
	for _, d := range f.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return false
		}
	}
	return true
}

// Apply returns the allowed messages sorted newest first.
func (f *Filter) Apply(msgs []domain.RawMessage) []domain.RawMessage {
	kept := make([]domain.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if f.Allow(m) {
			kept = append(kept, m)
		}
	}
	SortNewestFirst(kept)
	return kept
}

// SortNewestFirst orders messages by descending timestamp.
func SortNewestFirst(msgs []domain.RawMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.After(msgs[j].Timestamp)
	})
}

// senderAddress extracts the lower-cased address from a From value such as "Bank <alerts@bank.com>".
func senderAddress(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if a, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(a.Address)
	}
	return strings.ToLower(strings.Trim(from, "<>"))
}
