package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/finbrief/finbrief/internal/market"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func price(v float64) *float64 { return &v }

func sampleBrief(generatedAt time.Time, warnings ...string) *market.Brief {
	return &market.Brief{
		GeneratedAt: generatedAt,
		Sections: []market.Section{
			{Heading: "Market Summary", Body: "Stocks rose broadly."},
		},
		Quotes: []market.QuoteRecord{
			{Ticker: "AAPL", Price: price(189.30), Timestamp: generatedAt},
		},
		SourceArticles: []market.ArticleRecord{
			{Title: "Apple gains", Source: "Wire", URL: "https://a.com"},
		},
		Warnings: warnings,
	}
}

func TestInsertAndGetBrief(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2026, 2, 6, 9, 30, 0, 0, time.UTC)

	id, err := db.InsertBrief([]string{"AAPL", "MSFT"}, []string{"earnings"}, sampleBrief(at))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	sb, err := db.GetBrief(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sb == nil {
		t.Fatal("expected stored brief")
	}

	if len(sb.Tickers) != 2 || sb.Tickers[0] != "AAPL" {
		t.Errorf("unexpected tickers %v", sb.Tickers)
	}
	if len(sb.Topics) != 1 || sb.Topics[0] != "earnings" {
		t.Errorf("unexpected topics %v", sb.Topics)
	}
	if !sb.Brief.GeneratedAt.Equal(at) {
		t.Errorf("expected %v, got %v", at, sb.Brief.GeneratedAt)
	}
	if len(sb.Brief.Sections) != 1 || sb.Brief.Sections[0].Heading != "Market Summary" {
		t.Errorf("unexpected sections %+v", sb.Brief.Sections)
	}
	if len(sb.Brief.Quotes) != 1 || *sb.Brief.Quotes[0].Price != 189.30 {
		t.Errorf("unexpected quotes %+v", sb.Brief.Quotes)
	}
	if len(sb.Brief.SourceArticles) != 1 {
		t.Errorf("unexpected articles %+v", sb.Brief.SourceArticles)
	}
}

func TestGetBriefAbsent(t *testing.T) {
	db := openTestDB(t)
	sb, err := db.GetBrief(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sb != nil {
		t.Error("expected nil for absent brief")
	}
}

func TestListBriefsMostRecentFirst(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := db.InsertBrief([]string{"SPY"}, nil, sampleBrief(base.AddDate(0, 0, i))); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}

	briefs, err := db.ListBriefs(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(briefs) != 3 {
		t.Fatalf("expected 3 briefs, got %d", len(briefs))
	}
	for i := 1; i < len(briefs); i++ {
		if briefs[i].Brief.GeneratedAt.After(briefs[i-1].Brief.GeneratedAt) {
			t.Error("expected most recent first")
		}
	}
}

func TestListBriefsLimit(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		db.InsertBrief([]string{"SPY"}, nil, sampleBrief(base.AddDate(0, 0, i)))
	}

	briefs, err := db.ListBriefs(2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(briefs) != 2 {
		t.Errorf("expected limit of 2, got %d", len(briefs))
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2026, 2, 6, 9, 30, 0, 0, time.UTC)

	db.InsertBrief([]string{"AAPL"}, nil, sampleBrief(at))
	db.InsertBrief([]string{"MSFT"}, nil, sampleBrief(at.Add(time.Hour), "quote unavailable for TSLA"))

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalBriefs != 2 {
		t.Errorf("expected 2 briefs, got %d", stats.TotalBriefs)
	}
	if stats.DegradedBriefs != 1 {
		t.Errorf("expected 1 degraded brief, got %d", stats.DegradedBriefs)
	}
	if stats.LastGenerated == "" {
		t.Error("expected last-generated timestamp")
	}
}

func TestGetStatsEmpty(t *testing.T) {
	db := openTestDB(t)
	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalBriefs != 0 || stats.DegradedBriefs != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}
