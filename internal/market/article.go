package market

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrMalformedRecord reports a raw article payload with no usable title
// and no usable summary.
var ErrMalformedRecord = errors.New("malformed article record")

// ArticleRecord is a news article normalized from a provider-specific shape.
type ArticleRecord struct {
	Title        string
	Summary      string
	Source       string
	URL          string
	PublishedAt  time.Time
	MatchedTerms map[string]struct{}
}

// Terms returns the matched tickers/topics in sorted order.
func (a ArticleRecord) Terms() []string {
	terms := make([]string, 0, len(a.MatchedTerms))
	for t := range a.MatchedTerms {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

// Alpha Vantage, NewsAPI, and RSS payloads spell the same fields differently.
var (
	titleKeys     = []string{"title", "headline"}
	summaryKeys   = []string{"summary", "description", "content", "banner_text"}
	urlKeys       = []string{"url", "link"}
	sourceKeys    = []string{"source", "publisher", "source_domain"}
	publishedKeys = []string{"time_published", "published_at", "publishedAt", "published", "pub_date"}
)

var publishedLayouts = []string{
	"20060102T150405", // Alpha Vantage
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeArticle converts a raw provider payload into an ArticleRecord.
// Missing non-essential fields default to empty string / zero timestamp.
// Returns ErrMalformedRecord when neither a title nor a summary is present.
func NormalizeArticle(raw map[string]any) (ArticleRecord, error) {
	title := firstString(raw, titleKeys)
	summary := firstString(raw, summaryKeys)
	if title == "" && summary == "" {
		return ArticleRecord{}, ErrMalformedRecord
	}

	rec := ArticleRecord{
		Title:        title,
		Summary:      summary,
		Source:       firstString(raw, sourceKeys),
		URL:          firstString(raw, urlKeys),
		MatchedTerms: make(map[string]struct{}),
	}

	if pub := firstString(raw, publishedKeys); pub != "" {
		for _, layout := range publishedLayouts {
			if t, err := time.Parse(layout, pub); err == nil {
				rec.PublishedAt = t
				break
			}
		}
	}

	// Upstream clients annotate payloads with the tickers/topics that matched.
	if terms, ok := raw["matched_terms"]; ok {
		switch vals := terms.(type) {
		case []string:
			for _, t := range vals {
				rec.AddTerm(t)
			}
		case []any:
			for _, v := range vals {
				if t, ok := v.(string); ok {
					rec.AddTerm(t)
				}
			}
		}
	}

	return rec, nil
}

// AddTerm records a ticker or topic that matched this article.
func (a *ArticleRecord) AddTerm(term string) {
	if a.MatchedTerms == nil {
		a.MatchedTerms = make(map[string]struct{})
	}
	a.MatchedTerms[term] = struct{}{}
}

// firstString returns the first non-empty string value among the given keys.
// Nested objects like NewsAPI's {"source": {"name": "..."}} are unwrapped.
func firstString(raw map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return s
			}
		case map[string]any:
			if name, ok := val["name"].(string); ok {
				if s := strings.TrimSpace(name); s != "" {
					return s
				}
			}
		}
	}
	return ""
}
