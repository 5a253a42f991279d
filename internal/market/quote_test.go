package market

import (
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }
func i(v int64) *int64     { return &v }

func TestAggregateQuotesLatestWins(t *testing.T) {
	early := time.Date(2026, 2, 6, 9, 30, 0, 0, time.UTC)
	late := early.Add(2 * time.Hour)

	quotes := []QuoteRecord{
		{Ticker: "AAPL", Price: f(180), Timestamp: early},
		{Ticker: "MSFT", Price: f(410), Timestamp: early},
		{Ticker: "AAPL", Price: f(189.30), Timestamp: late},
	}

	out := AggregateQuotes(quotes)
	if len(out) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(out))
	}
	if out[0].Ticker != "AAPL" || out[1].Ticker != "MSFT" {
		t.Errorf("expected first-seen order preserved, got %v, %v", out[0].Ticker, out[1].Ticker)
	}
	if *out[0].Price != 189.30 {
		t.Errorf("expected latest AAPL price, got %v", *out[0].Price)
	}
}

func TestAggregateQuotesOlderDuplicateIgnored(t *testing.T) {
	late := time.Date(2026, 2, 6, 16, 0, 0, 0, time.UTC)
	early := late.Add(-time.Hour)

	out := AggregateQuotes([]QuoteRecord{
		{Ticker: "NVDA", Price: f(900), Timestamp: late},
		{Ticker: "NVDA", Price: f(880), Timestamp: early},
	})
	if len(out) != 1 {
		t.Fatalf("expected 1 quote, got %d", len(out))
	}
	if *out[0].Price != 900 {
		t.Errorf("expected newer price kept, got %v", *out[0].Price)
	}
}

func TestAggregateQuotesEmpty(t *testing.T) {
	if out := AggregateQuotes(nil); len(out) != 0 {
		t.Errorf("expected empty output, got %v", out)
	}
}

func TestQuoteSummaryComplete(t *testing.T) {
	q := QuoteRecord{
		Ticker:        "AAPL",
		Price:         f(189.30),
		ChangePercent: f(1.25),
		Volume:        i(48210000),
	}
	got := QuoteSummary(q)
	want := "AAPL: $189.30 (+1.25%), volume 48,210,000"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestQuoteSummaryNegativeChange(t *testing.T) {
	q := QuoteRecord{Ticker: "TSLA", Price: f(242.10), ChangePercent: f(-3.4)}
	got := QuoteSummary(q)
	want := "TSLA: $242.10 (-3.40%)"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestQuoteSummaryMissingFields(t *testing.T) {
	got := QuoteSummary(QuoteRecord{Ticker: "SPY"})
	want := "SPY: price N/A (change N/A)"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestQuoteSummaryAbsoluteChangeFallback(t *testing.T) {
	q := QuoteRecord{Ticker: "QQQ", Price: f(440), Change: f(-2.15)}
	got := QuoteSummary(q)
	want := "QQQ: $440.00 (-2.15)"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestGroupDigits(t *testing.T) {
	cases := map[int64]string{
		0:          "0",
		999:        "999",
		1000:       "1,000",
		48210000:   "48,210,000",
		-12345:     "-12,345",
		1234567890: "1,234,567,890",
	}
	for n, want := range cases {
		if got := groupDigits(n); got != want {
			t.Errorf("groupDigits(%d) = %q, want %q", n, got, want)
		}
	}
}
