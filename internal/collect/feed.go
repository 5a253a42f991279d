package collect

import (
	"context"
	"log"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

// FeedConfig is one RSS/Atom feed.
type FeedConfig struct {
	URL  string
	Name string
}

// FeedSource is a NewsSource backed by RSS/Atom feeds. Items are filtered
// against the query's tickers and topics by substring match.
type FeedSource struct {
	feeds  []FeedConfig
	parser *gofeed.Parser
}

// NewFeedSource creates a FeedSource.
func NewFeedSource(feeds []FeedConfig) *FeedSource {
	return &FeedSource{feeds: feeds, parser: gofeed.NewParser()}
}

// FetchNews parses all configured feeds and returns payloads whose title or
// description mentions a requested term. Failing feeds are skipped, not fatal.
func (f *FeedSource) FetchNews(ctx context.Context, q NewsQuery) ([]map[string]any, error) {
	terms := append(append([]string{}, q.Tickers...), q.Topics...)
	perTerm := make(map[string]int)
	var all []map[string]any

	for _, fc := range f.feeds {
		name := fc.Name
		if name == "" {
			name = sourceNameFromURL(fc.URL)
		}

		feed, err := f.parser.ParseURLWithContext(fc.URL, ctx)
		if err != nil {
			log.Printf("Failed to parse feed %s: %v", fc.URL, err)
			continue
		}

		for _, item := range feed.Items {
			matched := matchTerms(item, terms)
			if len(matched) == 0 {
				continue
			}
			if q.MaxPerTerm > 0 && allCapped(perTerm, matched, q.MaxPerTerm) {
				continue
			}
			for _, t := range matched {
				perTerm[t]++
			}
			all = append(all, feedPayload(item, name, matched))
		}
	}

	log.Printf("Collected %d matching items from %d feeds", len(all), len(f.feeds))
	return all, nil
}

// allCapped reports whether every matched term already hit its article cap.
func allCapped(perTerm map[string]int, matched []string, maxPerTerm int) bool {
	for _, t := range matched {
		if perTerm[t] < maxPerTerm {
			return false
		}
	}
	return true
}

func matchTerms(item *gofeed.Item, terms []string) []string {
	haystack := strings.ToLower(item.Title + " " + item.Description)
	var matched []string
	for _, t := range terms {
		if t == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(t)) {
			matched = append(matched, t)
		}
	}
	return matched
}

func feedPayload(item *gofeed.Item, source string, matched []string) map[string]any {
	payload := map[string]any{
		"title":         strings.TrimSpace(item.Title),
		"summary":       stripHTML(item.Description),
		"source":        source,
		"matched_terms": matched,
	}

	if item.Link != "" {
		payload["url"] = item.Link
	} else if item.GUID != "" {
		payload["url"] = item.GUID
	}

	if item.PublishedParsed != nil {
		payload["published_at"] = item.PublishedParsed.Format("2006-01-02 15:04:05")
	} else if item.UpdatedParsed != nil {
		payload["published_at"] = item.UpdatedParsed.Format("2006-01-02 15:04:05")
	}

	return payload
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}

	s := result.String()
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")

	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func sourceNameFromURL(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
