// Package brief orchestrates the market-brief pipeline: concurrent upstream
// collection, semantic deduplication, quote aggregation, prompt assembly,
// and narrative generation, degrading to partial output when an upstream
// fails.
package brief

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/finbrief/finbrief/internal/collect"
	"github.com/finbrief/finbrief/internal/dedup"
	"github.com/finbrief/finbrief/internal/fetch"
	"github.com/finbrief/finbrief/internal/generate"
	"github.com/finbrief/finbrief/internal/market"
	"github.com/finbrief/finbrief/internal/prompt"
)

// Pipeline states, in order. Degradation is a flag, not a state: a run can
// finish Done with warnings.
const (
	stateCollecting    = "collecting"
	stateDeduplicating = "deduplicating"
	stateAggregating   = "aggregating"
	stateAssembling    = "assembling"
	stateGenerating    = "generating"
	stateDone          = "done"
)

const generationFailedWarning = "brief generation failed; showing raw data"

// Options configures an Orchestrator.
type Options struct {
	UpstreamTimeout     time.Duration // per upstream call, default 10s
	GenerationTimeout   time.Duration // per model attempt, default 60s
	SimilarityThreshold float64       // dedup cosine threshold, default 0.85
	MaxPromptChars      int
	ArticleChars        int
	MaxArticles         int
	GenerationRetries   int // extra model attempts after the first, default 1; negative disables
	Workers             int // embed/generate pool size, default NumCPU
}

// Orchestrator owns one request's pipeline run end to end. It is safe for
// concurrent use; all per-request state lives on the stack of GenerateBrief.
type Orchestrator struct {
	quotes    collect.QuoteSource
	news      collect.NewsSource
	dedup     *dedup.Deduplicator
	assembler *prompt.Assembler
	generator *generate.Generator
	fetcher   *fetch.ContentFetcher
	pool      *workerPool
	opts      Options
}

// Request is a caller-supplied brief request.
type Request struct {
	Tickers            []string
	Topics             []string
	MaxArticlesPerTerm int
	Comprehensive      bool
}

// SearchRequest is a caller-supplied news search.
type SearchRequest struct {
	Tickers      []string
	Topics       []string
	From, To     time.Time
	MaxArticles  int
	FetchContent bool
}

// New creates an Orchestrator over the given upstream sources.
func New(quotes collect.QuoteSource, news collect.NewsSource, deduplicator *dedup.Deduplicator, generator *generate.Generator, opts Options) *Orchestrator {
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = 10 * time.Second
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 60 * time.Second
	}
	if opts.GenerationRetries == 0 {
		opts.GenerationRetries = 1
	} else if opts.GenerationRetries < 0 {
		opts.GenerationRetries = 0
	}

	return &Orchestrator{
		quotes:    quotes,
		news:      news,
		dedup:     deduplicator,
		assembler: prompt.NewAssembler(opts.MaxPromptChars, opts.ArticleChars, opts.MaxArticles),
		generator: generator,
		pool:      newWorkerPool(opts.Workers),
		opts:      opts,
	}
}

// SetContentFetcher enables summary backfill for SearchNews.
func (o *Orchestrator) SetContentFetcher(f *fetch.ContentFetcher) {
	o.fetcher = f
}

// GenerateBrief runs the full pipeline for one request. It always returns
// either a Brief (possibly degraded, with warnings) or a *Failure.
func (o *Orchestrator) GenerateBrief(ctx context.Context, req Request) (*market.Brief, error) {
	tickers := cleanTerms(req.Tickers, true)
	topics := cleanTerms(req.Topics, false)
	if len(tickers) == 0 && len(topics) == 0 {
		return nil, newFailure(KindInvalidRequest, "no tickers or topics requested")
	}

	b := &market.Brief{GeneratedAt: time.Now().UTC()}

	// Collecting: quotes and news in parallel, independent timeouts.
	log.Printf("Brief pipeline: %s", stateCollecting)
	quotes, rawNews, collectWarnings, quotesOK, newsOK := o.collectUpstreams(ctx, tickers, topics, req.MaxArticlesPerTerm)
	b.Warnings = append(b.Warnings, collectWarnings...)
	if !quotesOK && !newsOK {
		return nil, newFailure(KindNoDataAvailable, "both quote and news services failed")
	}

	// Normalize whatever news survived collection.
	articles, normWarnings := normalizeAll(rawNews)
	b.Warnings = append(b.Warnings, normWarnings...)

	// Deduplicating: pure over collected data, cannot fail fatally.
	log.Printf("Brief pipeline: %s", stateDeduplicating)
	if err := o.pool.acquire(ctx); err != nil {
		return nil, newFailure(KindRequestCancelled, "request cancelled: %v", err)
	}
	dr := o.dedup.Deduplicate(ctx, articles)
	o.pool.release()
	b.SourceArticles = dr.Representatives
	b.Warnings = append(b.Warnings, dr.Warnings...)

	// Aggregating: collapse duplicate tickers, most recent timestamp wins.
	log.Printf("Brief pipeline: %s", stateAggregating)
	b.Quotes = market.AggregateQuotes(quotes)
	quoteSummaries := make([]string, len(b.Quotes))
	for i, q := range b.Quotes {
		quoteSummaries[i] = market.QuoteSummary(q)
	}

	// Assembling: fails only when there is nothing at all to put in a prompt.
	log.Printf("Brief pipeline: %s", stateAssembling)
	if len(b.Quotes) == 0 && len(b.SourceArticles) == 0 {
		return nil, newFailure(KindNothingToSummarize, "no quotes or articles survived processing")
	}
	promptText := o.assembler.Assemble(quoteSummaries, b.SourceArticles, req.Comprehensive)

	// Generating: model failure downgrades to a raw-data brief when any
	// quotes or articles exist, and is fatal only otherwise.
	log.Printf("Brief pipeline: %s", stateGenerating)
	sections, err := o.generateSections(ctx, promptText)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newFailure(KindRequestCancelled, "request cancelled: %v", ctx.Err())
		}
		log.Printf("Generation failed after retries: %v", err)
		b.Warnings = append(b.Warnings, generationFailedWarning)
		b.Sections = rawDataSections(quoteSummaries, b.SourceArticles)
		if len(b.Sections) == 0 {
			return nil, newFailure(KindGenerationFailed, "brief generation failed and no data is available")
		}
	} else {
		b.Sections = sections
	}

	log.Printf("Brief pipeline: %s (%d sections, %d quotes, %d articles, %d warnings)",
		stateDone, len(b.Sections), len(b.Quotes), len(b.SourceArticles), len(b.Warnings))
	return b, nil
}

// collectUpstreams fans out to the quote and news sources concurrently and
// joins the results. A single upstream failure degrades; it never aborts.
func (o *Orchestrator) collectUpstreams(ctx context.Context, tickers, topics []string, maxPerTerm int) (quotes []market.QuoteRecord, rawNews []map[string]any, warnings []string, quotesOK, newsOK bool) {
	var (
		wg            sync.WaitGroup
		quoteWarnings []string
		newsWarnings  []string
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		if o.quotes == nil || len(tickers) == 0 {
			return
		}
		qctx, cancel := context.WithTimeout(ctx, o.opts.UpstreamTimeout)
		defer cancel()

		results, err := o.quotes.FetchQuotes(qctx, tickers)
		if err != nil {
			quoteWarnings = append(quoteWarnings, "quote service unavailable; brief covers news only")
			return
		}
		for _, r := range results {
			if r.Err != nil || r.Quote == nil {
				quoteWarnings = append(quoteWarnings, fmt.Sprintf("quote unavailable for %s", r.Ticker))
				continue
			}
			quotes = append(quotes, *r.Quote)
		}
		quotesOK = len(quotes) > 0
	}()

	go func() {
		defer wg.Done()
		if o.news == nil {
			return
		}
		nctx, cancel := context.WithTimeout(ctx, o.opts.UpstreamTimeout)
		defer cancel()

		payloads, err := o.news.FetchNews(nctx, collect.NewsQuery{
			Tickers:    tickers,
			Topics:     topics,
			MaxPerTerm: maxPerTerm,
		})
		if err != nil {
			newsWarnings = append(newsWarnings, "news service unavailable; brief covers quotes only")
			return
		}
		rawNews = payloads
		newsOK = true
	}()

	wg.Wait()
	warnings = append(warnings, quoteWarnings...)
	warnings = append(warnings, newsWarnings...)
	return quotes, rawNews, warnings, quotesOK, newsOK
}

// generateSections runs the model with per-attempt timeouts, retrying
// transient failures up to the configured count.
func (o *Orchestrator) generateSections(ctx context.Context, promptText string) ([]market.Section, error) {
	if err := o.pool.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.pool.release()

	attempts := 1 + o.opts.GenerationRetries
	var lastErr error
	for i := 0; i < attempts; i++ {
		gctx, cancel := context.WithTimeout(ctx, o.opts.GenerationTimeout)
		sections, err := o.generator.Generate(gctx, promptText)
		cancel()
		if err == nil {
			return sections, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// rawDataSections builds the fallback listing shown when generation fails.
func rawDataSections(quoteSummaries []string, articles []market.ArticleRecord) []market.Section {
	var sections []market.Section

	if len(quoteSummaries) > 0 {
		sections = append(sections, market.Section{
			Heading: "Quotes",
			Body:    "- " + strings.Join(quoteSummaries, "\n- "),
		})
	}

	if len(articles) > 0 {
		lines := make([]string, len(articles))
		for i, a := range articles {
			source := a.Source
			if source == "" {
				source = "Unknown"
			}
			lines[i] = fmt.Sprintf("- %s (%s)", a.Title, source)
		}
		sections = append(sections, market.Section{
			Heading: "Headlines",
			Body:    strings.Join(lines, "\n"),
		})
	}

	return sections
}

// SearchNews is the thin news path: fetch, normalize, order by recency, cap.
// It skips deduplication.
func (o *Orchestrator) SearchNews(ctx context.Context, req SearchRequest) ([]market.ArticleRecord, error) {
	tickers := cleanTerms(req.Tickers, true)
	topics := cleanTerms(req.Topics, false)
	if len(tickers) == 0 && len(topics) == 0 {
		return nil, newFailure(KindInvalidRequest, "no tickers or topics requested")
	}
	if o.news == nil {
		return nil, newFailure(KindNoDataAvailable, "no news source configured")
	}

	nctx, cancel := context.WithTimeout(ctx, o.opts.UpstreamTimeout)
	defer cancel()

	payloads, err := o.news.FetchNews(nctx, collect.NewsQuery{
		Tickers:    tickers,
		Topics:     topics,
		MaxPerTerm: req.MaxArticles,
		From:       req.From,
		To:         req.To,
	})
	if err != nil {
		return nil, newFailure(KindNoDataAvailable, "news service unavailable")
	}

	articles, _ := normalizeAll(payloads)

	// Most recent first; unparseable timestamps sort last.
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})

	if req.MaxArticles > 0 && len(articles) > req.MaxArticles {
		articles = articles[:req.MaxArticles]
	}

	if req.FetchContent && o.fetcher != nil {
		articles = o.fetcher.BackfillSummaries(ctx, articles)
	}

	return articles, nil
}

// normalizeAll converts raw payloads, dropping malformed ones with a warning.
func normalizeAll(rawNews []map[string]any) ([]market.ArticleRecord, []string) {
	var articles []market.ArticleRecord
	var warnings []string
	for _, raw := range rawNews {
		rec, err := market.NormalizeArticle(raw)
		if err != nil {
			warnings = append(warnings, "dropped malformed news record")
			continue
		}
		articles = append(articles, rec)
	}
	return articles, warnings
}

// cleanTerms trims terms and drops empties; tickers are uppercased.
func cleanTerms(terms []string, upper bool) []string {
	var out []string
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if upper {
			t = strings.ToUpper(t)
		}
		out = append(out, t)
	}
	return out
}
