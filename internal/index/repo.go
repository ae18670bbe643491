package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Shizuku-Yume/Arcaferry/internal/apperr"
)

// CardRow is the indexed representation of one library card.
type CardRow struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	Tags      []string  `json:"tags"`
	Checksum  string    `json:"checksum"`
	HasHidden bool      `json:"has_hidden"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchResult is a single full-text search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// UpsertCard inserts or replaces an indexed card. body is the searchable
// text extracted from the embedded card payload.
func (db *DB) UpsertCard(row CardRow, body string) error {
	tags, err := json.Marshal(row.Tags)
	if err != nil {
		return fmt.Errorf("index: marshal tags: %w", err)
	}
	if row.Tags == nil {
		tags = []byte("[]")
	}
	hidden := 0
	if row.HasHidden {
		hidden = 1
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO cards (path, name, creator, tags, description, checksum, has_hidden, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			creator = excluded.creator,
			tags = excluded.tags,
			description = excluded.description,
			checksum = excluded.checksum,
			has_hidden = excluded.has_hidden,
			updated_at = excluded.updated_at`,
		row.Path, row.Name, row.Creator, string(tags), body, row.Checksum, hidden, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert card %s: %w", row.Path, err)
	}
	if err := upsertFTS(tx, row.Path, row.Name, body); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit upsert: %w", err)
	}
	return nil
}

// DeleteCard removes a card from the index. Deleting a missing path is not
// an error.
func (db *DB) DeleteCard(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cards WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete card %s: %w", path, err)
	}
	if err := deleteFTS(tx, path); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit delete: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum for path, or apperr.ErrNotFound.
func (db *DB) GetChecksum(path string) (string, error) {
	var sum string
	err := db.conn.QueryRow(`SELECT checksum FROM cards WHERE path = ?`, path).Scan(&sum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum %s: %w", path, err)
	}
	return sum, nil
}

// GetCard returns the indexed row for path, or apperr.ErrNotFound.
func (db *DB) GetCard(path string) (*CardRow, error) {
	row := db.conn.QueryRow(`
		SELECT path, name, creator, tags, checksum, has_hidden, updated_at
		FROM cards WHERE path = ?`, path)
	cr, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get card %s: %w", path, err)
	}
	return cr, nil
}

// ListCards returns a page of indexed cards ordered by name, plus the total
// count. When tag is non-empty only cards carrying that tag are returned.
func (db *DB) ListCards(limit, offset int, tag string) ([]CardRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	if tag != "" {
		// Tags are stored as a JSON array; match the quoted element.
		where = ` WHERE tags LIKE ?`
		args = append(args, `%"`+tag+`"%`)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM cards`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count cards: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := db.conn.Query(`
		SELECT path, name, creator, tags, checksum, has_hidden, updated_at
		FROM cards`+where+` ORDER BY name, path LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list cards: %w", err)
	}
	defer rows.Close()

	var out []CardRow
	for rows.Next() {
		cr, err := scanCard(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("index: scan card: %w", err)
		}
		out = append(out, *cr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("index: iterate cards: %w", err)
	}
	return out, total, nil
}

// AllChecksums returns path → checksum for every indexed card.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM cards`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]string)
	for rows.Next() {
		var path, sum string
		if err := rows.Scan(&path, &sum); err != nil {
			return nil, fmt.Errorf("index: scan checksum: %w", err)
		}
		sums[path] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: iterate checksums: %w", err)
	}
	return sums, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(s rowScanner) (*CardRow, error) {
	var cr CardRow
	var tags string
	var hidden int
	if err := s.Scan(&cr.Path, &cr.Name, &cr.Creator, &tags, &cr.Checksum, &hidden, &cr.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &cr.Tags); err != nil {
		cr.Tags = nil
	}
	cr.HasHidden = hidden != 0
	return &cr, nil
}
