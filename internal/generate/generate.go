package generate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/finbrief/finbrief/internal/llm"
	"github.com/finbrief/finbrief/internal/market"
)

const defaultMaxTokens = 1024

// ErrDegenerate reports model output that stayed degenerate after the retry.
type ErrDegenerate struct {
	RawOutput string
}

func (e *ErrDegenerate) Error() string {
	return "model produced degenerate output"
}

// Generator invokes the text-generation model on an assembled prompt and
// post-processes the output into brief sections.
type Generator struct {
	provider  llm.Provider
	maxTokens int
}

// New creates a Generator.
func New(provider llm.Provider, maxTokens int) *Generator {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Generator{provider: provider, maxTokens: maxTokens}
}

// Generate runs the model on the prompt and returns the parsed sections.
// Empty or degenerate output triggers one retry with a shortened prompt
// before failing with ErrDegenerate; the raw output is preserved for
// diagnostics. Byte-identical reproducibility is not part of the contract.
func (g *Generator) Generate(ctx context.Context, promptText string) ([]market.Section, error) {
	if g.provider == nil {
		return nil, fmt.Errorf("no generation provider configured")
	}

	raw, err := g.provider.Generate(ctx, promptText, g.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("generating brief: %w", err)
	}

	if isDegenerate(raw) {
		log.Printf("Degenerate model output (%d chars), retrying with shortened prompt", len(raw))
		short := shortenPrompt(promptText)
		raw2, err := g.provider.Generate(ctx, short, g.maxTokens)
		if err != nil {
			return nil, fmt.Errorf("generating brief (retry): %w", err)
		}
		if isDegenerate(raw2) {
			return nil, &ErrDegenerate{RawOutput: raw}
		}
		raw = raw2
	}

	return ParseSections(raw), nil
}

// ParseSections splits model output into (heading, body) sections. It accepts
// either the JSON shape {"sections": [{"heading": ..., "body": ...}]} or
// markdown "## " headings; an undifferentiated block becomes a single
// "Market Summary" section.
func ParseSections(raw string) []market.Section {
	raw = strings.TrimSpace(raw)

	if parsed := llm.ParseJSONResponse(raw); parsed != nil {
		if sections := sectionsFromJSON(parsed); len(sections) > 0 {
			return sections
		}
	}

	var sections []market.Section
	var heading string
	var body []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if heading == "" && text == "" {
			return
		}
		if heading == "" {
			heading = "Market Summary"
		}
		sections = append(sections, market.Section{Heading: heading, Body: text})
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if h, ok := headingText(trimmed); ok {
			flush()
			heading = h
			body = body[:0]
			continue
		}
		body = append(body, line)
	}
	flush()

	if len(sections) == 0 {
		return []market.Section{{Heading: "Market Summary", Body: raw}}
	}
	return sections
}

func headingText(line string) (string, bool) {
	for _, marker := range []string{"## ", "# ", "### "} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
		}
	}
	return "", false
}

func sectionsFromJSON(parsed map[string]any) []market.Section {
	arr, ok := parsed["sections"].([]any)
	if !ok {
		return nil
	}

	var sections []market.Section
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		heading, _ := obj["heading"].(string)
		body, _ := obj["body"].(string)
		if strings.TrimSpace(body) == "" {
			continue
		}
		if heading == "" {
			heading = "Market Summary"
		}
		sections = append(sections, market.Section{Heading: heading, Body: strings.TrimSpace(body)})
	}
	return sections
}

// isDegenerate detects near-empty output or output dominated by repeated
// tokens.
func isDegenerate(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < 20 {
		return true
	}

	tokens := strings.Fields(strings.ToLower(trimmed))
	if len(tokens) < 10 {
		return false
	}
	distinct := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		distinct[tok] = struct{}{}
	}
	return len(distinct)*4 < len(tokens)
}

// shortenPrompt halves the prompt at a line boundary, keeping the leading
// instructions and data.
func shortenPrompt(promptText string) string {
	half := len(promptText) / 2
	if half < 200 {
		return promptText
	}
	cut := promptText[:half]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "\n\nWrite a brief market summary of the data above."
}
