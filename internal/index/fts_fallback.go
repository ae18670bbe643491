//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

// Without the sqlite_fts5 build tag the searchable body lives only in the
// cards table and Search degrades to a LIKE scan.

func initFTS(conn *sql.DB) error { return nil }

func upsertFTS(tx *sql.Tx, path, name, body string) error { return nil }

func deleteFTS(tx *sql.Tx, path string) error { return nil }

// Search performs a case-insensitive substring match over card names and
// bodies. Snippets are a fixed-width window around the first hit.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT path, name, description
		FROM cards WHERE name LIKE ? OR description LIKE ?
		ORDER BY name, path LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("index: like search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var body string
		if err := rows.Scan(&r.Path, &r.Name, &body); err != nil {
			return nil, fmt.Errorf("index: scan search result: %w", err)
		}
		r.Snippet = makeSnippet(body, query)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: iterate search results: %w", err)
	}
	return out, nil
}

func makeSnippet(body, query string) string {
	const window = 80
	idx := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if idx < 0 {
		if len(body) > window {
			return body[:window] + "…"
		}
		return body
	}
	start := idx - window/2
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + window/2
	if end > len(body) {
		end = len(body)
	}
	snippet := body[start:end]
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(body) {
		snippet += "…"
	}
	return snippet
}
