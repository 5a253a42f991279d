package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/finbrief/finbrief/internal/market"
)

const defaultAlphaVantageURL = "https://www.alphavantage.co/query"

// AlphaVantageClient fetches quotes (GLOBAL_QUOTE) and news (NEWS_SENTIMENT)
// from Alpha Vantage. It implements both QuoteSource and NewsSource.
type AlphaVantageClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAlphaVantageClient creates a client reading its API key from the given
// environment variable.
func NewAlphaVantageClient(apiKeyEnv string) *AlphaVantageClient {
	return &AlphaVantageClient{
		apiKey:  os.Getenv(apiKeyEnv),
		baseURL: defaultAlphaVantageURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *AlphaVantageClient) IsConfigured() bool {
	return c.apiKey != ""
}

// FetchQuotes fetches one GLOBAL_QUOTE per ticker. Per-ticker failures are
// reported in the result slice; the batch itself never fails part-way.
func (c *AlphaVantageClient) FetchQuotes(ctx context.Context, tickers []string) ([]QuoteResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("alpha vantage API key not configured")
	}

	results := make([]QuoteResult, 0, len(tickers))
	for _, ticker := range tickers {
		quote, err := c.fetchQuote(ctx, ticker)
		results = append(results, QuoteResult{Ticker: ticker, Quote: quote, Err: err})
		if err != nil {
			log.Printf("Quote fetch failed for %s: %v", ticker, err)
		}
	}
	return results, nil
}

func (c *AlphaVantageClient) fetchQuote(ctx context.Context, ticker string) (*market.QuoteRecord, error) {
	params := url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {ticker},
		"apikey":   {c.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alpha vantage quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha vantage quote returned %d", resp.StatusCode)
	}

	// GLOBAL_QUOTE uses numbered keys like "05. price".
	var raw struct {
		GlobalQuote  map[string]string `json:"Global Quote"`
		ErrorMessage string            `json:"Error Message"`
		Information  string            `json:"Information"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("alpha vantage quote decode: %w", err)
	}

	if raw.ErrorMessage != "" {
		return nil, fmt.Errorf("alpha vantage: %s", raw.ErrorMessage)
	}
	if raw.Information != "" {
		return nil, fmt.Errorf("alpha vantage: %s", raw.Information)
	}
	if len(raw.GlobalQuote) == 0 {
		return nil, fmt.Errorf("no quote data for %s", ticker)
	}

	q := &market.QuoteRecord{
		Ticker:    ticker,
		Price:     parseFloat(raw.GlobalQuote["05. price"]),
		Change:    parseFloat(raw.GlobalQuote["09. change"]),
		Volume:    parseInt(raw.GlobalQuote["06. volume"]),
		Timestamp: time.Now().UTC(),
	}
	q.ChangePercent = parseFloat(strings.TrimSuffix(raw.GlobalQuote["10. change percent"], "%"))
	if day := raw.GlobalQuote["07. latest trading day"]; day != "" {
		if t, err := time.Parse("2006-01-02", day); err == nil {
			q.Timestamp = t
		}
	}
	return q, nil
}

// FetchNews fetches NEWS_SENTIMENT articles: one call for the ticker batch
// and one per topic batch, annotating each payload with the terms it matched.
func (c *AlphaVantageClient) FetchNews(ctx context.Context, q NewsQuery) ([]map[string]any, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("alpha vantage API key not configured")
	}

	var all []map[string]any
	limit := q.MaxPerTerm
	if limit <= 0 {
		limit = 10
	}

	if len(q.Tickers) > 0 {
		items, err := c.fetchFeed(ctx, url.Values{"tickers": {strings.Join(q.Tickers, ",")}}, limit*len(q.Tickers), q.From, q.To)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			annotateTickers(item, q.Tickers)
			all = append(all, item)
		}
	}

	if len(q.Topics) > 0 {
		items, err := c.fetchFeed(ctx, url.Values{"topics": {strings.Join(q.Topics, ",")}}, limit*len(q.Topics), q.From, q.To)
		if err != nil {
			if len(all) > 0 {
				log.Printf("Topic news fetch failed, keeping ticker news: %v", err)
				return all, nil
			}
			return nil, err
		}
		for _, item := range items {
			annotateTopics(item, q.Topics)
			all = append(all, item)
		}
	}

	log.Printf("Fetched %d news payloads from Alpha Vantage", len(all))
	return all, nil
}

func (c *AlphaVantageClient) fetchFeed(ctx context.Context, filter url.Values, limit int, from, to time.Time) ([]map[string]any, error) {
	params := url.Values{
		"function": {"NEWS_SENTIMENT"},
		"apikey":   {c.apiKey},
		"sort":     {"LATEST"},
		"limit":    {strconv.Itoa(limit)},
	}
	for k, v := range filter {
		params[k] = v
	}
	if !from.IsZero() {
		params.Set("time_from", from.Format("20060102T1504"))
	}
	if !to.IsZero() {
		params.Set("time_to", to.Format("20060102T1504"))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alpha vantage news: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha vantage news returned %d", resp.StatusCode)
	}

	var raw struct {
		Feed         []map[string]any `json:"feed"`
		ErrorMessage string           `json:"Error Message"`
		Information  string           `json:"Information"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("alpha vantage news decode: %w", err)
	}

	if raw.ErrorMessage != "" {
		return nil, fmt.Errorf("alpha vantage: %s", raw.ErrorMessage)
	}
	// Rate-limit notices arrive as "Information" with an empty feed.
	if raw.Information != "" && len(raw.Feed) == 0 {
		return nil, fmt.Errorf("alpha vantage: %s", raw.Information)
	}

	return raw.Feed, nil
}

// annotateTickers records which requested tickers appear in the payload's
// ticker_sentiment block.
func annotateTickers(item map[string]any, requested []string) {
	mentioned := make(map[string]struct{})
	if arr, ok := item["ticker_sentiment"].([]any); ok {
		for _, v := range arr {
			if obj, ok := v.(map[string]any); ok {
				if t, ok := obj["ticker"].(string); ok {
					mentioned[strings.ToUpper(t)] = struct{}{}
				}
			}
		}
	}

	var matched []string
	for _, t := range requested {
		if _, ok := mentioned[strings.ToUpper(t)]; ok {
			matched = append(matched, strings.ToUpper(t))
		}
	}
	appendTerms(item, matched)
}

// annotateTopics records which requested topics appear in the payload's
// topics block, or all requested topics when the block is absent.
func annotateTopics(item map[string]any, requested []string) {
	listed := make(map[string]struct{})
	if arr, ok := item["topics"].([]any); ok {
		for _, v := range arr {
			if obj, ok := v.(map[string]any); ok {
				if t, ok := obj["topic"].(string); ok {
					listed[strings.ToLower(t)] = struct{}{}
				}
			}
		}
	}

	var matched []string
	for _, t := range requested {
		if _, ok := listed[strings.ToLower(t)]; ok || len(listed) == 0 {
			matched = append(matched, t)
		}
	}
	appendTerms(item, matched)
}

func appendTerms(item map[string]any, terms []string) {
	existing, _ := item["matched_terms"].([]string)
	for _, t := range terms {
		dup := false
		for _, e := range existing {
			if e == t {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, t)
		}
	}
	item["matched_terms"] = existing
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
