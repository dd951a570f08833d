package handlers

import (
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// parseRange parses required YYYY-MM-DD start and end dates.
func parseRange(start, end string) (domain.DateRange, error) {
	if start == "" || end == "" {
		return domain.DateRange{}, fmt.Errorf("start_date and end_date are required")
	}
	s, err := civil.ParseDate(start)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid start_date format, expected YYYY-MM-DD")
	}
	e, err := civil.ParseDate(end)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid end_date format, expected YYYY-MM-DD")
	}
	return domain.DateRange{Start: s, End: e}, nil
}
