package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/finbrief/finbrief/internal/market"
)

// StoredBrief is an archived brief plus its request terms.
type StoredBrief struct {
	ID      int64
	Tickers []string
	Topics  []string
	Brief   market.Brief
}

// Stats contains aggregate archive statistics.
type Stats struct {
	TotalBriefs    int
	DegradedBriefs int
	LastGenerated  string
}

// InsertBrief archives a completed brief and returns its id.
func (db *DB) InsertBrief(tickers, topics []string, b *market.Brief) (int64, error) {
	// Nil slices must serialize as empty arrays; GetStats counts degraded
	// briefs by comparing warnings_json against '[]'.
	sections, err := marshalList(b.Sections)
	if err != nil {
		return 0, fmt.Errorf("marshaling sections: %w", err)
	}
	quotes, err := marshalList(b.Quotes)
	if err != nil {
		return 0, fmt.Errorf("marshaling quotes: %w", err)
	}
	articles, err := marshalList(b.SourceArticles)
	if err != nil {
		return 0, fmt.Errorf("marshaling articles: %w", err)
	}
	warnings, err := marshalList(b.Warnings)
	if err != nil {
		return 0, fmt.Errorf("marshaling warnings: %w", err)
	}

	res, err := db.conn.Exec(`
		INSERT INTO briefs (generated_at, tickers, topics, sections_json, quotes_json, articles_json, warnings_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.GeneratedAt.Format(time.RFC3339),
		strings.Join(tickers, ","),
		strings.Join(topics, ","),
		string(sections), string(quotes), string(articles), string(warnings))
	if err != nil {
		return 0, fmt.Errorf("inserting brief: %w", err)
	}
	return res.LastInsertId()
}

// GetBrief fetches one archived brief by id. Returns nil when absent.
func (db *DB) GetBrief(id int64) (*StoredBrief, error) {
	row := db.conn.QueryRow(`
		SELECT id, generated_at, tickers, topics, sections_json, quotes_json, articles_json, warnings_json
		FROM briefs WHERE id = ?`, id)

	sb, err := scanBrief(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sb, err
}

// ListBriefs returns archived briefs, most recent first.
func (db *DB) ListBriefs(limit int) ([]StoredBrief, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`
		SELECT id, generated_at, tickers, topics, sections_json, quotes_json, articles_json, warnings_json
		FROM briefs ORDER BY generated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing briefs: %w", err)
	}
	defer rows.Close()

	var out []StoredBrief
	for rows.Next() {
		sb, err := scanBrief(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sb)
	}
	return out, rows.Err()
}

// GetStats returns aggregate archive statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	err := db.conn.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN warnings_json != '[]' THEN 1 ELSE 0 END), 0),
		       COALESCE(MAX(generated_at), '')
		FROM briefs`).Scan(&s.TotalBriefs, &s.DegradedBriefs, &s.LastGenerated)
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBrief(row rowScanner) (*StoredBrief, error) {
	var (
		sb          StoredBrief
		generatedAt string
		tickers     string
		topics      string
		sections    string
		quotes      string
		articles    string
		warnings    string
	)
	if err := row.Scan(&sb.ID, &generatedAt, &tickers, &topics, &sections, &quotes, &articles, &warnings); err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, generatedAt); err == nil {
		sb.Brief.GeneratedAt = t
	}
	sb.Tickers = splitTerms(tickers)
	sb.Topics = splitTerms(topics)

	if err := json.Unmarshal([]byte(sections), &sb.Brief.Sections); err != nil {
		return nil, fmt.Errorf("unmarshaling sections: %w", err)
	}
	json.Unmarshal([]byte(quotes), &sb.Brief.Quotes)
	json.Unmarshal([]byte(articles), &sb.Brief.SourceArticles)
	json.Unmarshal([]byte(warnings), &sb.Brief.Warnings)

	return &sb, nil
}

func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

func splitTerms(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
