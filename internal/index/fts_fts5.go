//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

const ftsSchemaSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS cards_fts USING fts5(
	path UNINDEXED,
	name,
	body,
	tokenize = 'unicode61'
);
`

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(ftsSchemaSQL)
	return err
}

func upsertFTS(tx *sql.Tx, path, name, body string) error {
	if _, err := tx.Exec(`DELETE FROM cards_fts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: fts delete %s: %w", path, err)
	}
	if _, err := tx.Exec(`INSERT INTO cards_fts (path, name, body) VALUES (?, ?, ?)`, path, name, body); err != nil {
		return fmt.Errorf("index: fts insert %s: %w", path, err)
	}
	return nil
}

func deleteFTS(tx *sql.Tx, path string) error {
	if _, err := tx.Exec(`DELETE FROM cards_fts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: fts delete %s: %w", path, err)
	}
	return nil
}

// Search performs full-text search over card names and bodies, ranked by
// FTS5 relevance with a context snippet around the match.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT path, name, snippet(cards_fts, 2, '[', ']', '…', 16)
		FROM cards_fts WHERE cards_fts MATCH ?
		ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: fts search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Name, &r.Snippet); err != nil {
			return nil, fmt.Errorf("index: scan search result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: iterate search results: %w", err)
	}
	return out, nil
}
