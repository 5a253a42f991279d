package dedup

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/finbrief/finbrief/internal/market"
)

// fakeEmbedder returns a fixed vector per input text.
type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float64{1, 0, 0}
		}
		out[i] = v
	}
	return out, nil
}

func article(title, summary, url string, terms ...string) market.ArticleRecord {
	a := market.ArticleRecord{Title: title, Summary: summary, URL: url}
	for _, t := range terms {
		a.AddTerm(t)
	}
	return a
}

func TestDeduplicateClustersNearDuplicates(t *testing.T) {
	// A and B are near-identical, C is orthogonal.
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"A tech rally":          {1, 0, 0},
		"B tech rally extended": {0.99, 0.14, 0},
		"C bond yields":         {0, 1, 0},
	}}
	d := New(emb, 0.85)

	articles := []market.ArticleRecord{
		article("A", "tech rally", "https://a.com", "AAPL"),
		article("B", "tech rally extended", "https://b.com", "MSFT"),
		article("C", "bond yields", "https://c.com"),
	}

	r := d.Deduplicate(context.Background(), articles)
	if len(r.Representatives) != 2 {
		t.Fatalf("expected 2 representatives, got %d", len(r.Representatives))
	}

	// B has the strictly longer summary, so it represents the first cluster.
	rep := r.Representatives[0]
	if rep.Title != "B" {
		t.Errorf("expected B to represent the cluster, got %q", rep.Title)
	}
	// Terms from both cluster members are preserved.
	terms := rep.Terms()
	if len(terms) != 2 || terms[0] != "AAPL" || terms[1] != "MSFT" {
		t.Errorf("expected merged terms [AAPL MSFT], got %v", terms)
	}

	if r.Representatives[1].Title != "C" {
		t.Errorf("expected C second, got %q", r.Representatives[1].Title)
	}
}

func TestDeduplicateTieKeepsFirstSeen(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"First same length": {1, 0, 0},
		"Later same length": {1, 0, 0},
	}}
	d := New(emb, 0.85)

	articles := []market.ArticleRecord{
		article("First", "same length", "https://a.com"),
		article("Later", "same length", "https://b.com"),
	}

	r := d.Deduplicate(context.Background(), articles)
	if len(r.Representatives) != 1 {
		t.Fatalf("expected 1 representative, got %d", len(r.Representatives))
	}
	if r.Representatives[0].Title != "First" {
		t.Errorf("expected tie to keep first-seen article, got %q", r.Representatives[0].Title)
	}
}

func TestDeduplicateIdempotent(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"A apples": {1, 0, 0},
		"B bonds":  {0, 1, 0},
	}}
	d := New(emb, 0.85)

	articles := []market.ArticleRecord{
		article("A", "apples", "https://a.com"),
		article("B", "bonds", "https://b.com"),
	}

	first := d.Deduplicate(context.Background(), articles)
	second := d.Deduplicate(context.Background(), first.Representatives)
	if len(second.Representatives) != len(first.Representatives) {
		t.Errorf("expected a second pass to be a no-op: %d vs %d",
			len(second.Representatives), len(first.Representatives))
	}
	for i := range first.Representatives {
		if second.Representatives[i].Title != first.Representatives[i].Title {
			t.Errorf("representative %d changed on second pass", i)
		}
	}
}

func TestDeduplicateEmptyInput(t *testing.T) {
	d := New(&fakeEmbedder{}, 0.85)
	r := d.Deduplicate(context.Background(), nil)
	if len(r.Representatives) != 0 || len(r.Warnings) != 0 {
		t.Errorf("expected empty result, got %+v", r)
	}
}

func TestDeduplicateDropsEmptyText(t *testing.T) {
	d := New(&fakeEmbedder{}, 0.85)
	articles := []market.ArticleRecord{
		article("", "", "https://empty.com"),
		article("Real", "content", "https://real.com"),
	}

	r := d.Deduplicate(context.Background(), articles)
	if len(r.Representatives) != 1 {
		t.Fatalf("expected 1 representative, got %d", len(r.Representatives))
	}
	if len(r.Warnings) != 1 {
		t.Errorf("expected a warning for the dropped article, got %v", r.Warnings)
	}
}

func TestDeduplicateEmbedFailureFallsBackToURL(t *testing.T) {
	d := New(&fakeEmbedder{err: errors.New("connection refused")}, 0.85)
	articles := []market.ArticleRecord{
		article("A", "first copy", "https://same.com", "AAPL"),
		article("B", "second copy", "https://same.com", "MSFT"),
		article("C", "other", "https://other.com"),
	}

	r := d.Deduplicate(context.Background(), articles)
	if len(r.Representatives) != 2 {
		t.Fatalf("expected URL dedup to yield 2 articles, got %d", len(r.Representatives))
	}
	if len(r.Warnings) == 0 {
		t.Error("expected a fallback warning")
	}
	terms := r.Representatives[0].Terms()
	if len(terms) != 2 {
		t.Errorf("expected terms merged across URL duplicates, got %v", terms)
	}
}

func TestDeduplicateNilEmbedder(t *testing.T) {
	d := New(nil, 0)
	articles := []market.ArticleRecord{
		article("A", "text", "https://a.com"),
		article("A again", "text", "https://a.com"),
	}

	r := d.Deduplicate(context.Background(), articles)
	if len(r.Representatives) != 1 {
		t.Errorf("expected URL dedup with nil embedder, got %d representatives", len(r.Representatives))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors: expected 1, got %v", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: expected 0, got %v", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0, 0}); got != 0 {
		t.Errorf("mismatched dimensions: expected 0, got %v", got)
	}
	if got := cosineSimilarity([]float64{0, 0}, []float64{1, 0}); got != 0 {
		t.Errorf("zero vector: expected 0, got %v", got)
	}
}
