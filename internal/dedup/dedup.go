package dedup

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/finbrief/finbrief/internal/llm"
	"github.com/finbrief/finbrief/internal/market"
)

// DefaultSimilarityThreshold is the cosine similarity above which two
// articles are treated as near-duplicates.
const DefaultSimilarityThreshold = 0.85

// Result holds the outcome of a deduplication pass.
type Result struct {
	Representatives []market.ArticleRecord
	Warnings        []string
}

// cluster tracks one group of near-duplicate articles. The embedding always
// belongs to the current representative.
type cluster struct {
	embedding      []float64
	representative market.ArticleRecord
}

// Deduplicator reduces a sequence of articles to one representative per
// near-duplicate cluster, preserving input order.
type Deduplicator struct {
	embedder  llm.Embedder
	threshold float64
}

// New creates a Deduplicator. A non-positive threshold selects the default.
func New(embedder llm.Embedder, threshold float64) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Deduplicator{embedder: embedder, threshold: threshold}
}

// Deduplicate clusters articles by embedding similarity and returns one
// representative per cluster in the order clusters were opened. Articles with
// no embeddable text are dropped with a warning. If embeddings cannot be
// computed at all, it falls back to URL-based deduplication rather than
// failing the batch.
func (d *Deduplicator) Deduplicate(ctx context.Context, articles []market.ArticleRecord) *Result {
	r := &Result{}
	if len(articles) == 0 {
		return r
	}

	texts := make([]string, 0, len(articles))
	kept := make([]market.ArticleRecord, 0, len(articles))
	for _, a := range articles {
		text := strings.TrimSpace(a.Title + " " + a.Summary)
		if text == "" {
			r.Warnings = append(r.Warnings, fmt.Sprintf("article %q dropped: no text to embed", a.URL))
			continue
		}
		texts = append(texts, text)
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		return r
	}

	if d.embedder == nil {
		r.Warnings = append(r.Warnings, "no embedder configured; deduplicating by URL only")
		r.Representatives = dedupeByURL(kept)
		return r
	}

	embeddings, err := d.embedder.Embed(ctx, texts)
	if err != nil {
		log.Printf("Embedding failed, falling back to URL dedup: %v", err)
		r.Warnings = append(r.Warnings, "embedding service unavailable; deduplicating by URL only")
		r.Representatives = dedupeByURL(kept)
		return r
	}

	var clusters []*cluster
	for i, a := range kept {
		best := -1
		bestSim := 0.0
		for j, c := range clusters {
			sim := cosineSimilarity(embeddings[i], c.embedding)
			if sim >= d.threshold && sim > bestSim {
				best = j
				bestSim = sim
			}
		}

		if best < 0 {
			clusters = append(clusters, &cluster{embedding: embeddings[i], representative: a})
			continue
		}

		// Representative switches only on a strictly longer summary; ties
		// keep the first-seen article.
		c := clusters[best]
		if len(a.Summary) > len(c.representative.Summary) {
			c.representative = mergeTerms(a, c.representative)
			c.embedding = embeddings[i]
		} else {
			c.representative = mergeTerms(c.representative, a)
		}
	}

	r.Representatives = make([]market.ArticleRecord, len(clusters))
	for i, c := range clusters {
		r.Representatives[i] = c.representative
	}
	log.Printf("Deduplication: %d articles -> %d representatives", len(kept), len(clusters))
	return r
}

// mergeTerms returns primary with the other article's matched terms folded in.
func mergeTerms(primary, other market.ArticleRecord) market.ArticleRecord {
	for term := range other.MatchedTerms {
		primary.AddTerm(term)
	}
	return primary
}

// dedupeByURL keeps the first article per URL, in input order. Articles
// without a URL are kept as-is.
func dedupeByURL(articles []market.ArticleRecord) []market.ArticleRecord {
	seen := make(map[string]int)
	var out []market.ArticleRecord
	for _, a := range articles {
		if a.URL == "" {
			out = append(out, a)
			continue
		}
		if idx, ok := seen[a.URL]; ok {
			out[idx] = mergeTerms(out[idx], a)
			continue
		}
		seen[a.URL] = len(out)
		out = append(out, a)
	}
	return out
}
