package market

import "time"

// Section is one heading/body pair of a generated brief.
type Section struct {
	Heading string
	Body    string
}

// Brief is the structured market summary produced for one request.
type Brief struct {
	GeneratedAt    time.Time
	Sections       []Section
	SourceArticles []ArticleRecord
	Quotes         []QuoteRecord
	Warnings       []string
}

// Degraded reports whether the brief was produced with recovered
// upstream or generation failures.
func (b *Brief) Degraded() bool {
	return len(b.Warnings) > 0
}

// SectionText returns all section bodies joined for downstream consumers
// such as voice synthesis.
func (b *Brief) SectionText() string {
	var out string
	for i, s := range b.Sections {
		if i > 0 {
			out += "\n\n"
		}
		if s.Heading != "" {
			out += s.Heading + ". "
		}
		out += s.Body
	}
	return out
}
