package market

import (
	"fmt"
	"strings"
	"time"
)

// QuoteRecord is one ticker's quote as returned by the market-data provider.
// Numeric fields are pointers because upstream may return partial data.
type QuoteRecord struct {
	Ticker        string
	Price         *float64
	Change        *float64
	ChangePercent *float64
	Volume        *int64
	Timestamp     time.Time
}

// AggregateQuotes collapses duplicate tickers (most recent timestamp wins)
// while preserving first-seen ticker order.
func AggregateQuotes(quotes []QuoteRecord) []QuoteRecord {
	byTicker := make(map[string]int)
	var out []QuoteRecord

	for _, q := range quotes {
		if idx, ok := byTicker[q.Ticker]; ok {
			if q.Timestamp.After(out[idx].Timestamp) {
				out[idx] = q
			}
			continue
		}
		byTicker[q.Ticker] = len(out)
		out = append(out, q)
	}
	return out
}

// QuoteSummary renders a quote as a prompt-safe one-liner, e.g.
// "AAPL: $189.30 (+1.25%), volume 48,210,000". Missing fields render as N/A.
func QuoteSummary(q QuoteRecord) string {
	var b strings.Builder
	b.WriteString(q.Ticker)
	b.WriteString(": ")

	if q.Price != nil {
		fmt.Fprintf(&b, "$%.2f", *q.Price)
	} else {
		b.WriteString("price N/A")
	}

	if q.ChangePercent != nil {
		fmt.Fprintf(&b, " (%+.2f%%)", *q.ChangePercent)
	} else if q.Change != nil {
		fmt.Fprintf(&b, " (%+.2f)", *q.Change)
	} else {
		b.WriteString(" (change N/A)")
	}

	if q.Volume != nil {
		fmt.Fprintf(&b, ", volume %s", groupDigits(*q.Volume))
	}

	return b.String()
}

func groupDigits(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}
