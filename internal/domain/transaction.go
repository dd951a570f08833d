package domain

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// TransactionType is the direction of money movement reported by a message.
type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// ParseTransactionType maps free-form model output onto a TransactionType.
func ParseTransactionType(s string) (TransactionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credit", "credited", "cr":
		return TransactionCredit, true
	case "debit", "debited", "dr":
		return TransactionDebit, true
	}
	return "", false
}

// Category is the fixed spending taxonomy used by the extractor and the digest.
type Category string

const (
	CategoryFoodDrink     Category = "Food & Drink"
	CategoryShopping      Category = "Shopping"
	CategoryBills         Category = "Bills"
	CategoryTravel        Category = "Travel"
	CategoryEntertainment Category = "Entertainment"
	CategoryOther         Category = "Other"
)

// Categories lists the taxonomy in prompt order.
var Categories = []Category{
	CategoryFoodDrink,
	CategoryShopping,
	CategoryBills,
	CategoryTravel,
	CategoryEntertainment,
	CategoryOther,
}

// NormalizeCategory matches case- and spacing-insensitively, accepting "and" for "&".
// Anything unrecognised becomes CategoryOther.
func NormalizeCategory(s string) Category {
	key := categoryKey(s)
	for _, c := range Categories {
		if categoryKey(string(c)) == key {
			return c
		}
	}
	return CategoryOther
}

func categoryKey(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " and ", "&")
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '&' || r == '-' || r == '_'
	}), "")
}

// RawMessage is one inbox message as handed over by a mail source.
type RawMessage struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Body      string    `json:"body"`

	// Labels holds provider classification such as Gmail's CATEGORY_SOCIAL.
	Labels []string `json:"labels,omitempty"`
}

// TransactionCandidate is the extractor's verdict for one message.
// Amount == 0 means no transaction was found or extraction failed.
type TransactionCandidate struct {
	Amount    float64         `json:"amount"`
	Type      TransactionType `json:"type"`
	Vendor    string          `json:"vendor"`
	Date      civil.Date      `json:"date"`
	Reference string          `json:"ref"`
	Category  Category        `json:"category"`
}

// NoTransaction is the sentinel candidate.
func NoTransaction() TransactionCandidate {
	return TransactionCandidate{Amount: 0}
}

// IsTransaction reports whether the candidate may be persisted.
func (c TransactionCandidate) IsTransaction() bool {
	return c.Amount > 0
}

// StoredTransaction is a persisted candidate, unique per source message.
type StoredTransaction struct {
	TransactionCandidate
	SourceMessageID string    `json:"source_message_id"`
	ProcessedAt     time.Time `json:"processed_at"`
}
