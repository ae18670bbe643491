package index

import (
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Shizuku-Yume/Arcaferry/internal/apperr"
	"github.com/Shizuku-Yume/Arcaferry/internal/card"
	"github.com/Shizuku-Yume/Arcaferry/internal/checksum"
	"github.com/Shizuku-Yume/Arcaferry/internal/models"
	"github.com/Shizuku-Yume/Arcaferry/internal/png"
	"github.com/Shizuku-Yume/Arcaferry/internal/storage"
)

// Sync reconciles the index with the library: changed and new files are
// re-indexed, rows for removed files are dropped. Unreadable or malformed
// files are logged and skipped so one bad card cannot stall the sweep.
func Sync(db CardIndex, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}
	indexed, err := db.AllChecksums()
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(metas))
	var updated, removed int
	for _, meta := range metas {
		seen[meta.Path] = true
		if indexed[meta.Path] == meta.Checksum {
			continue
		}
		if err := IndexFile(db, store, meta); err != nil {
			logger.Warn("skipping unindexable file", "path", meta.Path, "error", err)
			continue
		}
		updated++
	}
	for path := range indexed {
		if seen[path] {
			continue
		}
		if err := db.DeleteCard(path); err != nil {
			logger.Warn("failed to drop stale index row", "path", path, "error", err)
			continue
		}
		removed++
	}

	logger.Info("library sync complete", "files", len(metas), "updated", updated, "removed", removed)
	return nil
}

// IndexFile reads one library file and upserts its index row. Files without
// an embedded card payload are still indexed under their filename stem so
// the library listing stays complete.
func IndexFile(db CardIndex, store storage.Provider, meta models.CardMetadata) error {
	data, err := store.Read(meta.Path)
	if err != nil {
		return err
	}
	if meta.Checksum == "" {
		meta.Checksum = checksum.Sum(data)
	}
	row, body := extractRow(meta, data)
	return db.UpsertCard(row, body)
}

// legacyFields covers the V2 "chara" payload. Wild cards nest the fields
// under "data"; cards this tool writes keep them flat.
type legacyFields struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Personality  string   `json:"personality"`
	Scenario     string   `json:"scenario"`
	Creator      string   `json:"creator"`
	CreatorNotes string   `json:"creator_notes"`
	Tags         []string `json:"tags"`
	SystemPrompt string   `json:"system_prompt"`

	Data *legacyInner `json:"data"`
}

type legacyInner struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Personality  string   `json:"personality"`
	Scenario     string   `json:"scenario"`
	Creator      string   `json:"creator"`
	CreatorNotes string   `json:"creator_notes"`
	Tags         []string `json:"tags"`
	SystemPrompt string   `json:"system_prompt"`
}

func extractRow(meta models.CardMetadata, data []byte) (CardRow, string) {
	row := CardRow{
		Path:      meta.Path,
		Name:      stemName(meta.Path),
		Checksum:  meta.Checksum,
		UpdatedAt: meta.UpdatedAt,
	}

	payload, err := png.FindCardPayload(data)
	if err != nil || payload == nil {
		return row, ""
	}

	if payload.Format == "ccv3" {
		var c card.Card
		if json.Unmarshal([]byte(payload.JSON), &c) == nil && c.Data.Name != "" {
			row.Name = c.Data.Name
			row.Creator = c.Data.Creator
			row.Tags = c.Data.Tags
			row.HasHidden = strings.Contains(c.Data.SystemPrompt, "\n\n[")
			return row, cardBody(c.Data.Name, c.Data.Description, c.Data.Personality,
				c.Data.Scenario, c.Data.CreatorNotes)
		}
	}

	var lf legacyFields
	if json.Unmarshal([]byte(payload.JSON), &lf) == nil {
		inner := legacyInner{
			Name: lf.Name, Description: lf.Description, Personality: lf.Personality,
			Scenario: lf.Scenario, Creator: lf.Creator, CreatorNotes: lf.CreatorNotes,
			Tags: lf.Tags, SystemPrompt: lf.SystemPrompt,
		}
		if lf.Data != nil && lf.Data.Name != "" {
			inner = *lf.Data
		}
		if inner.Name != "" {
			row.Name = inner.Name
			row.Creator = inner.Creator
			row.Tags = inner.Tags
			row.HasHidden = strings.Contains(inner.SystemPrompt, "\n\n[")
			return row, cardBody(inner.Name, inner.Description, inner.Personality,
				inner.Scenario, inner.CreatorNotes)
		}
	}
	return row, ""
}

func cardBody(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

func stemName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// RemoveFile drops the index row for a deleted library file. Missing rows
// are tolerated.
func RemoveFile(db CardIndex, path string) error {
	err := db.DeleteCard(path)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}
