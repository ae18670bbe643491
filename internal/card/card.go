// Package card defines the canonical character card schema (CCv3) and
// builds cards from platform source documents.
package card

import "encoding/json"

// Spec identifiers written into every card.
const (
	SpecName    = "chara_card_v3"
	SpecVersion = "3.0"
)

// LorebookEntry is one keyed-content entry of a character book.
type LorebookEntry struct {
	Keys           []string        `json:"keys"`
	SecondaryKeys  []string        `json:"secondary_keys"`
	Content        string          `json:"content"`
	Enabled        bool            `json:"enabled"`
	InsertionOrder int             `json:"insertion_order"`
	CaseSensitive  bool            `json:"case_sensitive"`
	UseRegex       bool            `json:"use_regex"`
	Constant       bool            `json:"constant"`
	Name           string          `json:"name,omitempty"`
	Priority       int             `json:"priority"`
	ID             json.RawMessage `json:"id,omitempty"` // int or string at the source's whim
	Comment        string          `json:"comment,omitempty"`
	Selective      bool            `json:"selective"`
	Position       string          `json:"position,omitempty"` // "before_char" or "after_char"
}

// Lorebook is the character book attached to a card.
type Lorebook struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	ScanDepth         int             `json:"scan_depth,omitempty"`
	TokenBudget       int             `json:"token_budget,omitempty"`
	RecursiveScanning bool            `json:"recursive_scanning"`
	Entries           []LorebookEntry `json:"entries"`
}

// Data holds the card fields proper.
type Data struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Personality string `json:"personality"`
	Scenario    string `json:"scenario"`
	FirstMes    string `json:"first_mes"`
	MesExample  string `json:"mes_example"`

	AlternateGreetings      []string `json:"alternate_greetings"`
	SystemPrompt            string   `json:"system_prompt"`
	PostHistoryInstructions string   `json:"post_history_instructions"`

	CharacterBook *Lorebook `json:"character_book,omitempty"`

	Creator          string   `json:"creator"`
	CreatorNotes     string   `json:"creator_notes"`
	Tags             []string `json:"tags"`
	CharacterVersion string   `json:"character_version"`

	CreationDate     int64 `json:"creation_date,omitempty"`
	ModificationDate int64 `json:"modification_date,omitempty"`
}

// Card is the canonical CCv3 envelope.
type Card struct {
	Spec        string `json:"spec"`
	SpecVersion string `json:"spec_version"`
	Data        Data   `json:"data"`
}

// New returns a card envelope with the spec identifiers set.
func New(name string) Card {
	return Card{
		Spec:        SpecName,
		SpecVersion: SpecVersion,
		Data: Data{
			Name:               name,
			AlternateGreetings: []string{},
			Tags:               []string{},
		},
	}
}
