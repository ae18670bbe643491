// Package cardservice implements the card recovery and library operations
// on top of the storage and index layers.
package cardservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Shizuku-Yume/Arcaferry/internal/apperr"
	"github.com/Shizuku-Yume/Arcaferry/internal/card"
	"github.com/Shizuku-Yume/Arcaferry/internal/checksum"
	"github.com/Shizuku-Yume/Arcaferry/internal/export"
	"github.com/Shizuku-Yume/Arcaferry/internal/index"
	"github.com/Shizuku-Yume/Arcaferry/internal/models"
	"github.com/Shizuku-Yume/Arcaferry/internal/parser"
	"github.com/Shizuku-Yume/Arcaferry/internal/png"
	"github.com/Shizuku-Yume/Arcaferry/internal/prompt"
	"github.com/Shizuku-Yume/Arcaferry/internal/source"
	"github.com/Shizuku-Yume/Arcaferry/internal/storage"
)

// Service ties card extraction, building, and embedding to the library.
type Service struct {
	store  storage.Provider
	db     index.CardIndex
	logger *slog.Logger

	// DefaultPersona is substituted with {{user}} in recovered values
	// when a call supplies no persona name.
	DefaultPersona string
}

// New creates a Service.
func New(store storage.Provider, db index.CardIndex, logger *slog.Logger) *Service {
	return &Service{store: store, db: db, logger: logger}
}

// ExtractedCard is the result of reading a card out of a PNG.
type ExtractedCard struct {
	Format string    `json:"format"` // "ccv3" or "chara"
	Card   card.Card `json:"card"`
}

// ExtractCard reads the embedded card payload out of raw PNG bytes.
func (s *Service) ExtractCard(data []byte) (*ExtractedCard, error) {
	payload, err := png.FindCardPayload(data)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, apperr.ErrNoCardPayload
	}
	var c card.Card
	if err := json.Unmarshal([]byte(payload.JSON), &c); err != nil {
		return nil, fmt.Errorf("cardservice: decode %s payload: %w", payload.Format, err)
	}
	return &ExtractedCard{Format: payload.Format, Card: c}, nil
}

// ExtractCardFromLibrary reads the card embedded in a library file.
func (s *Service) ExtractCardFromLibrary(path string) (*ExtractedCard, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return nil, err
	}
	return s.ExtractCard(data)
}

// ImportPNG adds a PNG to the library and indexes it. The file must carry
// a card payload and the path must not already be taken.
func (s *Service) ImportPNG(path string, data []byte) error {
	if _, err := s.ExtractCard(data); err != nil {
		return err
	}
	if _, err := s.db.GetChecksum(path); err == nil {
		return apperr.ErrAlreadyExists
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err := s.store.Write(path, data); err != nil {
		return err
	}
	return s.indexPath(path, data)
}

// ExportCard embeds a card into a PNG and writes it to the library. When
// basePNG is nil a placeholder avatar is generated.
func (s *Service) ExportCard(c card.Card, basePNG []byte, path string) ([]byte, error) {
	data, err := export.CardPNG(c, basePNG)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return data, nil
	}
	if err := s.store.Write(path, data); err != nil {
		return nil, err
	}
	if err := s.indexPath(path, data); err != nil {
		return nil, err
	}
	return data, nil
}

// StripCard removes the embedded card chunks, returning a clean avatar.
func (s *Service) StripCard(data []byte) ([]byte, error) {
	out, err := png.RemoveText(data, "ccv3")
	if err != nil {
		return nil, err
	}
	return png.RemoveText(out, "chara")
}

// Delete removes a card from the library and the index.
func (s *Service) Delete(path string) error {
	if err := s.store.Delete(path); err != nil {
		return err
	}
	return index.RemoveFile(s.db, path)
}

// ListCards returns a page of indexed cards and the library total.
func (s *Service) ListCards(limit, offset int, tag string) ([]index.CardRow, int, error) {
	return s.db.ListCards(limit, offset, tag)
}

// Search runs full-text search over indexed cards.
func (s *Service) Search(query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

func (s *Service) indexPath(path string, data []byte) error {
	return index.IndexFile(s.db, s.store, models.CardMetadata{
		Path:      path,
		Checksum:  checksum.Sum(data),
		UpdatedAt: time.Now().UTC(),
	})
}

// Disclosure is the prepared recovery request for one source document.
type Disclosure struct {
	Prompt       string                   `json:"prompt"`
	Candidates   []source.HiddenCandidate `json:"candidates"`
	Expectations []parser.Expectation     `json:"-"`
}

// PrepareDisclosure flattens the document and builds the export prompt for
// its hidden attributes. Returns nil when the document hides nothing.
func (s *Service) PrepareDisclosure(doc *source.Document) *Disclosure {
	flat := source.Flatten(doc)
	labels := flat.HiddenLabels()
	if len(labels) == 0 {
		return nil
	}
	return &Disclosure{
		Prompt:       prompt.BuildDisclosurePrompt(labels),
		Candidates:   flat.HiddenCandidates,
		Expectations: parser.Expectations(flat.HiddenCandidates),
	}
}

// RecoveryResult reports how a disclosure reply was applied.
type RecoveryResult struct {
	Card      card.Card         `json:"card"`
	Recovered map[string]string `json:"recovered"`
	Refused   bool              `json:"refused"`
}

// FinalizeCard builds the canonical card from a source document and an
// optional disclosure reply. A refusal or an unparseable reply degrades to
// the base card rather than failing.
func (s *Service) FinalizeCard(doc *source.Document, reply, personaName string, lorebook []source.LorebookEntry) RecoveryResult {
	var recovered map[string]string
	refused := false

	if personaName == "" {
		personaName = s.DefaultPersona
	}

	if strings.TrimSpace(reply) != "" {
		if parser.IsRefusal(reply) {
			refused = true
			s.logger.Warn("model refused disclosure, building base card",
				"name", doc.Name)
		} else {
			flat := source.Flatten(doc)
			recovered = parser.Parse(reply, parser.Expectations(flat.HiddenCandidates), personaName)
			s.logger.Info("disclosure reply parsed",
				"expected", len(flat.HiddenCandidates), "recovered", len(recovered))
		}
	}

	return RecoveryResult{
		Card:      card.BuildCard(doc, recovered, lorebook),
		Recovered: recovered,
		Refused:   refused,
	}
}
