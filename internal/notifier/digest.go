package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// DigestItem is one transaction line of a digest.
type DigestItem struct {
	Vendor string
	Amount decimal.Decimal
}

// CategoryGroup holds the items of one category in input order.
type CategoryGroup struct {
	Category domain.Category
	Items    []DigestItem
}

// Digest is the aggregated view of one day's transactions.
type Digest struct {
	Date   civil.Date
	Total  decimal.Decimal
	Count  int
	Groups []CategoryGroup
}

// BuildDigest sums amounts and groups transactions by category. Categories
// appear in the order they are first seen in txs.
func BuildDigest(txs []domain.StoredTransaction, date civil.Date) Digest {
	d := Digest{Date: date, Total: decimal.Zero, Count: len(txs)}
	index := make(map[domain.Category]int)

	for _, tx := range txs {
		amount := decimal.NewFromFloat(tx.Amount)
		d.Total = d.Total.Add(amount)

		cat := tx.Category
		if cat == "" {
			cat = domain.CategoryOther
		}
		i, ok := index[cat]
		if !ok {
			i = len(d.Groups)
			index[cat] = i
			d.Groups = append(d.Groups, CategoryGroup{Category: cat})
		}

		vendor := tx.Vendor
		if vendor == "" {
			vendor = "Unknown"
		}
		d.Groups[i].Items = append(d.Groups[i].Items, DigestItem{Vendor: vendor, Amount: amount})
	}
	return d
}

// Subject returns the email subject for a digest date.
func Subject(date civil.Date) string {
	return "Daily Transaction Summary - " + formatDate(date)
}

func formatDate(date civil.Date) string {
	return date.In(time.UTC).Format("January 02, 2006")
}

// Text renders the plain-text digest stored with the summary.
func (d Digest) Text() string {
	var b strings.Builder
	b.WriteString("Total Spending:\n")
	b.WriteString(d.Total.StringFixed(2))
	for _, g := range d.Groups {
		fmt.Fprintf(&b, "\n\n%s:", g.Category)
		for _, item := range g.Items {
			fmt.Fprintf(&b, "\n- %s: %s", item.Vendor, item.Amount.StringFixed(2))
		}
	}
	return b.String()
}

var htmlDigest = template.Must(template.New("digest").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
}).Parse(`<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; }
.container { max-width: 800px; margin: 0 auto; padding: 20px; }
.header { background-color: #f8f9fa; padding: 15px; border-radius: 5px; }
.category { margin-top: 20px; }
.transaction { margin: 10px 0; padding: 10px; border: 1px solid #ddd; border-radius: 5px; }
.total { margin-top: 20px; font-weight: bold; }
</style>
</head>
<body>
<div class="container">
<div class="header">
<h2>Daily Transaction Summary</h2>
<p>Date: {{.Date}}</p>
</div>
<div class="total"><h3>Total Spending:</h3><p>{{money .Total}}</p></div>
{{- range .Groups}}
<div class="category">
<h3>{{.Category}}</h3>
{{- range .Items}}
<div class="transaction"><p><strong>{{.Vendor}}</strong> - {{money .Amount}}</p></div>
{{- end}}
</div>
{{- end}}
</div>
</body>
</html>
`))

// HTML renders the digest email body. Vendor names are escaped.
func (d Digest) HTML() (string, error) {
	var buf bytes.Buffer
	err := htmlDigest.Execute(&buf, struct {
		Date   string
		Total  decimal.Decimal
		Groups []CategoryGroup
	}{formatDate(d.Date), d.Total, d.Groups})
	if err != nil {
		return "", fmt.Errorf("Digest.HTML: executing template: %w", err)
	}
	return buf.String(), nil
}
