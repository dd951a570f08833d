package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// DailySummary is one rendered digest. Several may exist for the same date.
type DailySummary struct {
	ID               string     `json:"id"`
	Date             civil.Date `json:"date"`
	TotalAmount      float64    `json:"total_amount"`
	TransactionCount int        `json:"transaction_count"`
	SummaryText      string     `json:"summary_text"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DateRange is an inclusive span of calendar dates.
type DateRange struct {
	Start civil.Date `json:"start_date"`
	End   civil.Date `json:"end_date"`
}

// SingleDay returns the range covering only d.
func SingleDay(d civil.Date) DateRange {
	return DateRange{Start: d, End: d}
}

// Valid reports whether Start is not after End.
func (r DateRange) Valid() bool {
	return !r.Start.After(r.End)
}

// Days returns every date in the range in ascending order.
func (r DateRange) Days() []civil.Date {
	if !r.Valid() {
		return nil
	}
	days := make([]civil.Date, 0, r.End.DaysSince(r.Start)+1)
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d civil.Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Today returns the local calendar date of t.
func Today(t time.Time) civil.Date {
	return civil.DateOf(t)
}
