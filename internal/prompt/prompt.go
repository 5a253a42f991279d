package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/finbrief/finbrief/internal/market"
)

// Default bounds for assembled prompts.
const (
	DefaultMaxChars     = 6000
	DefaultArticleChars = 280
	DefaultMaxArticles  = 12
	headlineOnlyLimit   = 160
)

const promptHeader = `You are a financial analyst writing a concise morning market brief.
Avoid repetition. Be specific about tickers, prices, and outcomes.`

const promptFooter = `Based on the information above, write a morning market brief.
Start with the overall market picture, then cover notable stock moves and key news.
Format the brief as markdown with "## " section headings.`

const comprehensiveFooter = `Write multiple paragraphs per section and cover every storyline above.`

// Assembler builds a bounded-length generation prompt from deduplicated
// articles and quote summaries. Assembly is a pure function: the same input
// always yields byte-identical output, and oversized input is truncated
// rather than rejected.
type Assembler struct {
	MaxChars     int // total prompt budget
	ArticleChars int // per-article summary budget
	MaxArticles  int // cap on included articles
}

// NewAssembler creates an Assembler, substituting defaults for
// non-positive bounds.
func NewAssembler(maxChars, articleChars, maxArticles int) *Assembler {
	a := &Assembler{MaxChars: maxChars, ArticleChars: articleChars, MaxArticles: maxArticles}
	if a.MaxChars <= 0 {
		a.MaxChars = DefaultMaxChars
	}
	if a.ArticleChars <= 0 {
		a.ArticleChars = DefaultArticleChars
	}
	if a.MaxArticles <= 0 {
		a.MaxArticles = DefaultMaxArticles
	}
	return a
}

// Assemble builds the prompt text. When comprehensive is false only headline
// sentences are included; when true, truncated summaries are included and the
// model is asked for multi-paragraph output.
func (a *Assembler) Assemble(quoteSummaries []string, articles []market.ArticleRecord, comprehensive bool) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\n--- Stock Market Overview ---\n")

	if len(quoteSummaries) == 0 {
		b.WriteString("No quote data available.\n")
	}
	for _, qs := range quoteSummaries {
		b.WriteString("- ")
		b.WriteString(qs)
		b.WriteString("\n")
	}

	b.WriteString("\n--- News ---\n")
	if len(articles) == 0 {
		b.WriteString("No news available.\n")
	}

	included := articles
	if len(included) > a.MaxArticles {
		included = included[:a.MaxArticles]
	}
	for i, art := range included {
		b.WriteString(formatArticle(i+1, art, comprehensive, a.ArticleChars))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(promptFooter)
	if comprehensive {
		b.WriteString("\n")
		b.WriteString(comprehensiveFooter)
	}

	return enforceBudget(b.String(), a.MaxChars)
}

func formatArticle(n int, art market.ArticleRecord, comprehensive bool, articleChars int) string {
	source := art.Source
	if source == "" {
		source = "Unknown"
	}

	line := fmt.Sprintf("[%d] %s (%s)", n, art.Title, source)
	if !comprehensive {
		return Truncate(line, headlineOnlyLimit)
	}

	if art.Summary != "" {
		line += ": " + Truncate(art.Summary, articleChars)
	}
	return line
}

// Truncate shortens s to at most limit bytes, appending an ellipsis and
// breaking at a word boundary when one exists in the tail. The cut never
// lands inside a multi-byte rune.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return cutRunes(s, limit)
	}
	cut := cutRunes(s, limit-3)
	// Back up to the last space so we never cut mid-word if avoidable.
	if idx := strings.LastIndexByte(cut, ' '); idx > limit/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " .,;:") + "..."
}

// cutRunes truncates s to at most n bytes without splitting a rune.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// enforceBudget guarantees the assembled prompt never exceeds maxChars. The
// closing instruction is preserved by trimming the data block, not the tail.
func enforceBudget(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}

	tail := "\n" + promptFooter
	if idx := strings.LastIndex(s, promptFooter); idx >= 0 {
		tail = "\n" + s[idx:]
	}
	head := maxChars - len(tail)
	if head <= 0 {
		return cutRunes(s, maxChars)
	}
	return Truncate(s, head) + tail
}
