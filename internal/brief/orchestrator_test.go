package brief

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/finbrief/finbrief/internal/collect"
	"github.com/finbrief/finbrief/internal/dedup"
	"github.com/finbrief/finbrief/internal/generate"
	"github.com/finbrief/finbrief/internal/market"
)

type fakeQuotes struct {
	results []collect.QuoteResult
	err     error
}

func (f *fakeQuotes) FetchQuotes(ctx context.Context, tickers []string) ([]collect.QuoteResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeNews struct {
	payloads []map[string]any
	err      error
	gotQuery collect.NewsQuery
}

func (f *fakeNews) FetchNews(ctx context.Context, q collect.NewsQuery) ([]map[string]any, error) {
	f.gotQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return f.payloads, nil
}

type fakeProvider struct {
	output string
	err    error
	calls  int
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func (f *fakeProvider) IsConfigured() bool { return true }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	// Orthogonal unit vectors: nothing clusters.
	out := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, len(texts))
		v[i] = 1
		out[i] = v
	}
	return out, nil
}

func fp(v float64) *float64 { return &v }

func healthyQuotes() *fakeQuotes {
	return &fakeQuotes{results: []collect.QuoteResult{
		{Ticker: "AAPL", Quote: &market.QuoteRecord{Ticker: "AAPL", Price: fp(189.30), ChangePercent: fp(1.25), Timestamp: time.Now()}},
		{Ticker: "MSFT", Quote: &market.QuoteRecord{Ticker: "MSFT", Price: fp(412.00), ChangePercent: fp(-0.40), Timestamp: time.Now()}},
	}}
}

func healthyNews() *fakeNews {
	return &fakeNews{payloads: []map[string]any{
		{"title": "Apple beats expectations", "summary": "Strong quarter.", "url": "https://a.com", "source": "Wire"},
		{"title": "Microsoft cloud slows", "summary": "Azure growth dips.", "url": "https://b.com", "source": "Wire"},
	}}
}

const modelOutput = "## Market Summary\n\nTech stocks were mixed on earnings news today overall."

func newTestOrchestrator(quotes collect.QuoteSource, news collect.NewsSource, provider *fakeProvider) *Orchestrator {
	return New(
		quotes,
		news,
		dedup.New(fakeEmbedder{}, 0.85),
		generate.New(provider, 256),
		Options{UpstreamTimeout: time.Second, GenerationTimeout: time.Second},
	)
}

func TestGenerateBriefHealthyPath(t *testing.T) {
	provider := &fakeProvider{output: modelOutput}
	o := newTestOrchestrator(healthyQuotes(), healthyNews(), provider)

	b, err := o.GenerateBrief(context.Background(), Request{Tickers: []string{"aapl", "MSFT"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.Degraded() {
		t.Errorf("expected healthy brief, got warnings %v", b.Warnings)
	}
	if len(b.Quotes) != 2 {
		t.Errorf("expected 2 quotes, got %d", len(b.Quotes))
	}
	if len(b.SourceArticles) != 2 {
		t.Errorf("expected 2 articles, got %d", len(b.SourceArticles))
	}
	if len(b.Sections) == 0 || b.Sections[0].Heading != "Market Summary" {
		t.Errorf("unexpected sections %+v", b.Sections)
	}
	if b.GeneratedAt.IsZero() {
		t.Error("expected GeneratedAt set")
	}
}

func TestGenerateBriefUppercasesTickers(t *testing.T) {
	news := healthyNews()
	o := newTestOrchestrator(healthyQuotes(), news, &fakeProvider{output: modelOutput})

	if _, err := o.GenerateBrief(context.Background(), Request{Tickers: []string{" aapl "}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(news.gotQuery.Tickers) != 1 || news.gotQuery.Tickers[0] != "AAPL" {
		t.Errorf("expected trimmed uppercase ticker, got %v", news.gotQuery.Tickers)
	}
}

func TestGenerateBriefEmptyRequest(t *testing.T) {
	o := newTestOrchestrator(healthyQuotes(), healthyNews(), &fakeProvider{output: modelOutput})

	_, err := o.GenerateBrief(context.Background(), Request{Tickers: []string{"  ", ""}})
	f := AsFailure(err)
	if f == nil || f.Kind != KindInvalidRequest {
		t.Errorf("expected invalid_request failure, got %v", err)
	}
}

func TestGenerateBriefQuotesFailDegrades(t *testing.T) {
	o := newTestOrchestrator(
		&fakeQuotes{err: errors.New("timeout")},
		healthyNews(),
		&fakeProvider{output: modelOutput},
	)

	b, err := o.GenerateBrief(context.Background(), Request{Tickers: []string{"AAPL"}})
	if err != nil {
		t.Fatalf("expected degraded brief, got error %v", err)
	}
	if !b.Degraded() {
		t.Error("expected warnings after quote failure")
	}
	found := false
	for _, w := range b.Warnings {
		if strings.Contains(w, "quote service unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected quote warning, got %v", b.Warnings)
	}
	if len(b.SourceArticles) == 0 {
		t.Error("expected news to survive quote failure")
	}
}

func TestGenerateBriefNewsFailDegrades(t *testing.T) {
	o := newTestOrchestrator(
		healthyQuotes(),
		&fakeNews{err: errors.New("dns failure")},
		&fakeProvider{output: modelOutput},
	)

	b, err := o.GenerateBrief(context.Background(), Request{Tickers: []string{"AAPL"}})
	if err != nil {
		t.Fatalf("expected degraded brief, got error %v", err)
	}
	if len(b.Quotes) == 0 {
		t.Error("expected quotes to survive news failure")
	}
	found := false
	for _, w := range b.Warnings {
		if strings.Contains(w, "news service unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected news warning, got %v", b.Warnings)
	}
}

func TestGenerateBriefBothUpstreamsFail(t *testing.T) {
	o := newTestOrchestrator(
		&fakeQuotes{err: errors.New("down")},
		&fakeNews{err: errors.New("down")},
		&fakeProvider{output: modelOutput},
	)

	_, err := o.GenerateBrief(context.Background(), Request{Tickers: []string{"AAPL"}})
	f := AsFailure(err)
	if f == nil || f.Kind != KindNoDataAvailable {
		t.Errorf("expected no_data_available failure, got %v", err)
	}
}

func TestGenerateBriefPerTickerFailureIsPartial(t *testing.T) {
	quotes := &fakeQuotes{results: []collect.QuoteResult{
		{Ticker: "AAPL", Quote: &market.QuoteRecord{Ticker: "AAPL", Price: fp(189.30)}},
		{Ticker: "BADTICKER", Err: errors.New("unknown symbol")},
	}}
	o := newTestOrchestrator(quotes, healthyNews(), &fakeProvider{output: modelOutput})

	b, err := o.GenerateBrief(context.Background(), Request{Tickers: []string{"AAPL", "BADTICKER"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Quotes) != 1 {
		t.Errorf("expected 1 quote, got %d", len(b.Quotes))
	}
	found := false
	for _, w := range b.Warnings {
		if strings.Contains(w, "BADTICKER") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected per-ticker warning, got %v", b.Warnings)
	}
}

func TestGenerateBriefMalformedNewsDropped(t *testing.T) {
	news := &fakeNews{payloads: []map[string]any{
		{"title": "Valid story", "summary": "Body."},
		{"url": "https://no-title.com"},
	}}
	o := newTestOrchestrator(healthyQuotes(), news, &fakeProvider{output: modelOutput})

	b, err := o.GenerateBrief(context.Background(), Request{Tickers: []string{"AAPL"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.SourceArticles) != 1 {
		t.Errorf("expected 1 surviving article, got %d", len(b.SourceArticles))
	}
	found := false
	for _, w := range b.Warnings {
		if strings.Contains(w, "malformed") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected malformed-record warning, got %v", b.Warnings)
	}
}

func TestGenerateBriefGenerationFailureShowsRawData(t *testing.T) {
	provider := &fakeProvider{err: errors.New("model crashed")}
	o := newTestOrchestrator(healthyQuotes(), healthyNews(), provider)

	b, err := o.GenerateBrief(context.Background(), Request{Tickers: []string{"AAPL"}})
	if err != nil {
		t.Fatalf("expected raw-data brief, got error %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("expected one retry, got %d calls", provider.calls)
	}

	found := false
	for _, w := range b.Warnings {
		if w == generationFailedWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("expected generation-failed warning, got %v", b.Warnings)
	}

	var headings []string
	for _, s := range b.Sections {
		headings = append(headings, s.Heading)
	}
	if len(headings) != 2 || headings[0] != "Quotes" || headings[1] != "Headlines" {
		t.Errorf("expected raw data sections, got %v", headings)
	}
	if !strings.Contains(b.Sections[0].Body, "AAPL: $189.30") {
		t.Errorf("expected quote summary in raw section, got %q", b.Sections[0].Body)
	}
}

func TestGenerateBriefCancelledRequest(t *testing.T) {
	o := New(
		healthyQuotes(),
		healthyNews(),
		dedup.New(fakeEmbedder{}, 0.85),
		generate.New(&fakeProvider{output: modelOutput}, 256),
		Options{UpstreamTimeout: time.Second, GenerationTimeout: time.Second, Workers: 1},
	)

	// Hold the only worker slot so the cancelled context is what ends the
	// acquire, not a free slot.
	if err := o.pool.acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer o.pool.release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.GenerateBrief(ctx, Request{Tickers: []string{"AAPL"}})
	f := AsFailure(err)
	if f == nil {
		t.Fatalf("expected failure, got %v", err)
	}
	if f.Kind != KindRequestCancelled {
		t.Errorf("expected request_cancelled failure, got %s", f.Kind)
	}
}

func TestGenerateBriefNothingToSummarize(t *testing.T) {
	// Upstreams succeed but return nothing usable.
	quotes := &fakeQuotes{results: []collect.QuoteResult{
		{Ticker: "AAPL", Err: errors.New("unknown symbol")},
	}}
	news := &fakeNews{payloads: []map[string]any{}}
	o := newTestOrchestrator(quotes, news, &fakeProvider{output: modelOutput})

	_, err := o.GenerateBrief(context.Background(), Request{Tickers: []string{"AAPL"}})
	f := AsFailure(err)
	if f == nil {
		t.Fatalf("expected failure, got %v", err)
	}
	if f.Kind != KindNoDataAvailable && f.Kind != KindNothingToSummarize {
		t.Errorf("unexpected failure kind %s", f.Kind)
	}
}

func TestSearchNewsOrdersByRecency(t *testing.T) {
	news := &fakeNews{payloads: []map[string]any{
		{"title": "Older", "time_published": "20260201T100000"},
		{"title": "Newest", "time_published": "20260206T100000"},
		{"title": "Middle", "time_published": "20260203T100000"},
	}}
	o := newTestOrchestrator(nil, news, &fakeProvider{output: modelOutput})

	articles, err := o.SearchNews(context.Background(), SearchRequest{Topics: []string{"earnings"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(articles) != 3 {
		t.Fatalf("expected 3 articles, got %d", len(articles))
	}
	if articles[0].Title != "Newest" || articles[2].Title != "Older" {
		t.Errorf("expected recency order, got %v, %v, %v",
			articles[0].Title, articles[1].Title, articles[2].Title)
	}
}

func TestSearchNewsCapsResults(t *testing.T) {
	news := &fakeNews{payloads: []map[string]any{
		{"title": "One"}, {"title": "Two"}, {"title": "Three"},
	}}
	o := newTestOrchestrator(nil, news, &fakeProvider{output: modelOutput})

	articles, err := o.SearchNews(context.Background(), SearchRequest{Topics: []string{"tech"}, MaxArticles: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(articles) != 2 {
		t.Errorf("expected 2 articles, got %d", len(articles))
	}
}

func TestSearchNewsNoSource(t *testing.T) {
	o := newTestOrchestrator(nil, nil, &fakeProvider{output: modelOutput})

	_, err := o.SearchNews(context.Background(), SearchRequest{Topics: []string{"tech"}})
	f := AsFailure(err)
	if f == nil || f.Kind != KindNoDataAvailable {
		t.Errorf("expected no_data_available failure, got %v", err)
	}
}
