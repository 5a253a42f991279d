// Package collect provides the upstream quote and news sources consumed by
// the brief orchestrator. Sources report per-item failures rather than
// failing whole batches.
package collect

import (
	"context"
	"time"

	"github.com/finbrief/finbrief/internal/market"
)

// QuoteResult is one ticker's fetch outcome.
type QuoteResult struct {
	Ticker string
	Quote  *market.QuoteRecord
	Err    error
}

// QuoteSource fetches live quotes for a set of tickers.
type QuoteSource interface {
	FetchQuotes(ctx context.Context, tickers []string) ([]QuoteResult, error)
}

// NewsQuery describes one news fetch.
type NewsQuery struct {
	Tickers    []string
	Topics     []string
	MaxPerTerm int
	From, To   time.Time
}

// NewsSource fetches raw article payloads matching a query. Payload shapes
// are provider-specific; the market normalizer makes them uniform.
type NewsSource interface {
	FetchNews(ctx context.Context, q NewsQuery) ([]map[string]any, error)
}

// MultiNewsSource queries several news sources and merges their payloads.
// It fails only when every source fails.
type MultiNewsSource struct {
	sources []NewsSource
}

// NewMultiNewsSource creates a MultiNewsSource over the given sources.
func NewMultiNewsSource(sources ...NewsSource) *MultiNewsSource {
	return &MultiNewsSource{sources: sources}
}

// FetchNews collects payloads from each source in turn. A source error is
// recorded but does not stop the others; the last error is returned only when
// no source produced anything.
func (m *MultiNewsSource) FetchNews(ctx context.Context, q NewsQuery) ([]map[string]any, error) {
	var all []map[string]any
	var lastErr error
	for _, src := range m.sources {
		payloads, err := src.FetchNews(ctx, q)
		if err != nil {
			lastErr = err
			continue
		}
		all = append(all, payloads...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return all, nil
}
