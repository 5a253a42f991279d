package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"

	"github.com/finbrief/finbrief/internal/market"
)

const maxSummaryChars = 600

// ContentFetcher fills in missing article summaries via HTTP + readability
// extraction. It is used by the news search path only; the brief pipeline
// tolerates empty summaries instead.
type ContentFetcher struct {
	client *http.Client
}

// NewContentFetcher creates a content fetcher.
func NewContentFetcher(timeout time.Duration) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ContentFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// BackfillSummaries fetches page text for articles with empty summaries.
// Once a domain fails it is skipped for the rest of the batch. Fetch
// failures leave the article unchanged.
func (f *ContentFetcher) BackfillSummaries(ctx context.Context, articles []market.ArticleRecord) []market.ArticleRecord {
	failedDomains := make(map[string]struct{})
	fetched, failed := 0, 0

	for i, article := range articles {
		if article.Summary != "" || article.URL == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		domain := ""
		if u, err := url.Parse(article.URL); err == nil {
			domain = strings.ToLower(u.Host)
		}
		if _, bad := failedDomains[domain]; bad {
			failed++
			continue
		}

		text, err := f.fetchPageText(ctx, article.URL)
		if err != nil {
			failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			log.Printf("Content fetch failed for %s, skipping remaining from %s", article.URL, domain)
			continue
		}
		if text == "" {
			failed++
			continue
		}

		articles[i].Summary = capSummary(text)
		fetched++
	}

	log.Printf("Summary backfill: %d fetched, %d failed", fetched, failed)
	return articles
}

// capSummary bounds extracted text to maxSummaryChars bytes without
// splitting a multi-byte rune.
func capSummary(text string) string {
	if len(text) <= maxSummaryChars {
		return text
	}
	cut := maxSummaryChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func (f *ContentFetcher) fetchPageText(ctx context.Context, articleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "finbrief/1.0 (market brief generator)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	parsedURL, _ := url.Parse(articleURL)
	page, err := readability.FromReader(strings.NewReader(string(bodyBytes)), parsedURL)
	if err != nil {
		return "", fmt.Errorf("extracting content: %w", err)
	}

	text := strings.TrimSpace(page.TextContent)
	if len(text) > 100 {
		return text, nil
	}
	return "", nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
