// Package textfilter holds the cheap lexical checks that run before any model call.
package textfilter

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

// transactionKeywords gate IsBankTransaction; they are compared by stem.
var transactionKeywords = []string{
	"transaction", "payment", "transfer", "debit", "credit", "withdrawal", "deposit",
	"amount", "paid", "received", "sent", "charged", "spent",
}

// financialKeywords mark financial activity for IsPositiveTransaction; compared by stem.
var financialKeywords = []string{
	"transaction", "payment", "transfer", "debit", "credit", "withdrawal", "deposit",
	"amount", "paid", "received", "sent", "charged", "spent", "refunded", "settled",
	"purchase", "sale", "invoice", "bill", "fee", "charge", "salary", "funds",
}

// processedKeywords indicate a completed state; compared against the surface token.
var processedKeywords = []string{
	"successful", "completed", "processed", "confirmed", "credited", "debited",
	"executed", "approved", "cleared", "settled", "done", "paid", "received",
	"deposited", "withdrawn",
}

// nonProcessedKeywords indicate a failed, pending or future state; compared against the surface token.
var nonProcessedKeywords = []string{
	"failed", "failure", "unsuccessful", "declined", "cancelled", "reversed", "pending",
	"scheduled", "upcoming", "attempted", "error", "issue", "rejected", "voided",
	"processing", "due",
}

// nonProcessedPhrases short-circuit IsPositiveTransaction before tokenisation.
var nonProcessedPhrases = []string{
	"on hold", "payment due", "will be processed", "yet to be processed",
	"could not be completed", "not completed", "not successful", "unable to complete",
	"unable to process", "did not complete", "was not processed",
}

var (
	transactionStems = stemSet(transactionKeywords)
	financialStems   = stemSet(financialKeywords)
	processedSet     = wordSet(processedKeywords)
	nonProcessedSet  = wordSet(nonProcessedKeywords)
)

// IsBankTransaction reports whether text mentions any transaction vocabulary.
// It is a lossy pre-filter: false negatives are tolerated.
func IsBankTransaction(text string) bool {
	for _, tok := range Tokenize(text) {
		if _, ok := transactionStems[Stem(tok)]; ok {
			return true
		}
	}
	return false
}

// IsPositiveTransaction reports whether text describes a completed transaction.
// A non-processed phrase or keyword anywhere makes it false; otherwise it needs
// both a financial term and a processed term.
func IsPositiveTransaction(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range nonProcessedPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}

	var financial, processed bool
	for _, tok := range Tokenize(lower) {
		if _, ok := nonProcessedSet[tok]; ok {
			return false
		}
		if _, ok := financialStems[Stem(tok)]; ok {
			financial = true
		}
		if _, ok := processedSet[tok]; ok {
			processed = true
		}
	}
	return financial && processed
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Stem reduces a lowercase word to its English Snowball stem.
func Stem(word string) string {
	return english.Stem(word, true)
}

func stemSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[Stem(w)] = struct{}{}
	}
	return set
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
