package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// transformCandidate converts decoded extractor output into a TransactionCandidate.
// An amount of zero short-circuits to the sentinel; an unparseable date falls back to fallbackDate.
func transformCandidate(raw map[string]interface{}, fallbackDate civil.Date) (domain.TransactionCandidate, error) {
	amount, err := getAmountField(raw, "amount")
	if err != nil {
		return domain.NoTransaction(), fmt.Errorf("transformCandidate: %w", err)
	}
	if amount == 0 {
		return domain.NoTransaction(), nil
	}

	typ, err := getStringField(raw, "type", true)
	if err != nil {
		return domain.NoTransaction(), fmt.Errorf("transformCandidate: %w", err)
	}
	txType, ok := domain.ParseTransactionType(typ)
	if !ok {
		return domain.NoTransaction(), fmt.Errorf("transformCandidate: unknown transaction type %q", typ)
	}

	vendor, err := getStringField(raw, "vendor", false)
	if err != nil {
		return domain.NoTransaction(), fmt.Errorf("transformCandidate: %w", err)
	}
	ref, err := getOptionalStringField(raw, "ref")
	if err != nil {
		return domain.NoTransaction(), fmt.Errorf("transformCandidate: %w", err)
	}
	category, err := getOptionalStringField(raw, "category")
	if err != nil {
		return domain.NoTransaction(), fmt.Errorf("transformCandidate: %w", err)
	}
	dateStr, err := getOptionalStringField(raw, "date")
	if err != nil {
		return domain.NoTransaction(), fmt.Errorf("transformCandidate: %w", err)
	}

	candidate := domain.TransactionCandidate{
		Amount:   amount,
		Type:     txType,
		Vendor:   strings.TrimSpace(vendor),
		Date:     parseDateOr(dateStr, fallbackDate),
		Category: domain.CategoryOther,
	}
	if ref != nil {
		candidate.Reference = *ref
	}
	if category != nil {
		candidate.Category = domain.NormalizeCategory(*category)
	}
	return candidate, nil
}

func parseDateOr(s *string, fallback civil.Date) civil.Date {
	if s == nil {
		return fallback
	}
	d, err := civil.ParseDate(*s)
	if err != nil || !d.IsValid() {
		return fallback
	}
	return d
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getOptionalStringField(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
}

// getAmountField accepts a JSON number or a numeric string such as "1,250.00".
func getAmountField(m map[string]interface{}, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(val), ",", "")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q value %q is not a number", key, val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
