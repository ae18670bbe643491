// Package source models the character document returned by the
// role-play platform and flattens its overlapping attribute lists into
// one canonical, ordered sequence.
//
// The platform is loose about key names: an attribute's label may arrive
// as "label" or "name", its value as any of "value", "content", "text",
// "desc" or "description". That normalization happens once here, at the
// package boundary, so every consumer sees a single field set.
package source

import (
	"encoding/json"
	"strings"
)

// Attribute is one normalized profile attribute.
//
// Visible reports whether the platform exposes the value; an attribute
// with Visible=false and an empty value is a hidden setting the platform
// withholds.
type Attribute struct {
	Label   string
	Value   string
	Visible bool
}

// rawAttribute carries every key spelling the platform is known to use.
type rawAttribute struct {
	Label       string `json:"label"`
	Name        string `json:"name"`
	Value       string `json:"value"`
	Content     string `json:"content"`
	Text        string `json:"text"`
	Desc        string `json:"desc"`
	Description string `json:"description"`
	IsVisible   *bool  `json:"isVisible"`
}

// UnmarshalJSON normalizes the interchangeable key spellings. A missing
// isVisible means visible.
func (a *Attribute) UnmarshalJSON(data []byte) error {
	var raw rawAttribute
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Label = firstNonEmpty(raw.Label, raw.Name)
	a.Value = firstNonEmpty(raw.Value, raw.Content, raw.Text, raw.Desc, raw.Description)
	a.Visible = raw.IsVisible == nil || *raw.IsVisible
	return nil
}

// MarshalJSON writes the canonical spelling.
func (a Attribute) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Label     string `json:"label"`
		Value     string `json:"value"`
		IsVisible bool   `json:"isVisible"`
	}{a.Label, a.Value, a.Visible})
}

// GreetingItem is one greeting whose text may sit under several keys.
type GreetingItem struct {
	Value   string `json:"value"`
	Content string `json:"content"`
	Text    string `json:"text"`
}

// Message returns the greeting text, whichever key carried it.
func (g GreetingItem) Message() string {
	return firstNonEmpty(g.Value, g.Content, g.Text)
}

// Prologue is the structured greeting container.
type Prologue struct {
	Greetings []GreetingItem `json:"greetings"`
}

// Character is one entry of the document's character list; the first
// entry carries the attribute lists and the per-character prompt.
type Character struct {
	Name        string      `json:"name"`
	Attrs       []Attribute `json:"attrs"`
	AdviseAttrs []Attribute `json:"adviseAttrs"`
	CustomAttrs []Attribute `json:"customAttrs"`
	Prompt      string      `json:"prompt"`
}

// ChatInfo carries per-chat overrides for a few card fields.
type ChatInfo struct {
	CharMesExample   string    `json:"charMesExample"`
	CharCreatorNotes string    `json:"charCreatorNotes"`
	StudioPrologue   *Prologue `json:"studioPrologue"`
}

// LorebookEntry is a raw world-info entry as the platform delivers it.
// Keys and SecondaryKeys are comma-separated strings.
type LorebookEntry struct {
	Keys           string          `json:"keys"`
	SecondaryKeys  string          `json:"secondaryKeys"`
	Content        string          `json:"content"`
	Position       *int            `json:"position"`
	Constant       bool            `json:"constant"`
	Enabled        *bool           `json:"enabled"`
	InsertionOrder int             `json:"insertionOrder"`
	CaseSensitive  bool            `json:"caseSensitive"`
	UseRegex       bool            `json:"useRegex"`
	Name           string          `json:"name"`
	Priority       *int            `json:"priority"`
	ID             json.RawMessage `json:"id"`
	Comment        string          `json:"comment"`
}

// LorebookWrapper groups entries under a named book.
type LorebookWrapper struct {
	Name      string          `json:"name"`
	EntryList []LorebookEntry `json:"entryList"`
}

// Document is the character profile as fetched from the platform.
type Document struct {
	Name                    string `json:"name"`
	Description             string `json:"description"`
	Personality             string `json:"personality"`
	Scenario                string `json:"scenario"`
	FirstMes                string `json:"first_mes"`
	MesExample              string `json:"mes_example"`
	SystemPrompt            string `json:"system_prompt"`
	PostHistoryInstructions string `json:"post_history_instructions"`
	Creator                 string `json:"creator"`
	CreatorNotes            string `json:"creator_notes"`
	AuthorName              string `json:"authorName"`
	Intro                   string `json:"intro"`

	Tags []string `json:"tags"`

	CustomAttrs []Attribute       `json:"customAttrs"`
	CharList    []Character       `json:"charList"`
	ChatInfo    *ChatInfo         `json:"chatInfo"`
	Prologue    *Prologue         `json:"prologue"`
	Greeting    []GreetingItem    `json:"greeting"`
	Books       []LorebookWrapper `json:"characterbooks"`
}

// HiddenCandidate addresses one withheld attribute in the flattened
// sequence. MergedIndex is the attribute's position in the flattened
// order and is the durable key for reattaching a recovered value.
// Candidates are immutable once created.
type HiddenCandidate struct {
	OriginIndex int    // ordinal among hidden candidates, in flatten order
	Label       string
	MergedIndex int // position in the flattened attribute sequence
}

// Flattened is the result of merging the document's attribute lists.
type Flattened struct {
	Attributes       []Attribute
	HiddenCandidates []HiddenCandidate
}

// Flatten concatenates the four attribute sources in fixed precedence
// order: document-level custom attributes, then the first character's
// base, advisory, and custom attributes. Order is stable: flattening the
// same document twice yields identical output.
//
// An attribute becomes a hidden candidate iff it is not visible and its
// value is empty at flatten time.
func Flatten(doc *Document) Flattened {
	var attrs []Attribute
	attrs = append(attrs, doc.CustomAttrs...)
	if len(doc.CharList) > 0 {
		first := doc.CharList[0]
		attrs = append(attrs, first.Attrs...)
		attrs = append(attrs, first.AdviseAttrs...)
		attrs = append(attrs, first.CustomAttrs...)
	}

	var hidden []HiddenCandidate
	for i, a := range attrs {
		if a.Visible || strings.TrimSpace(a.Value) != "" {
			continue
		}
		label := strings.TrimSpace(a.Label)
		if label == "" {
			continue
		}
		hidden = append(hidden, HiddenCandidate{
			OriginIndex: len(hidden),
			Label:       label,
			MergedIndex: i,
		})
	}

	return Flattened{Attributes: attrs, HiddenCandidates: hidden}
}

// HiddenLabels returns the deduplicated labels of the hidden candidates,
// in flatten order. This is the input to the disclosure prompt.
func (f Flattened) HiddenLabels() []string {
	seen := make(map[string]struct{}, len(f.HiddenCandidates))
	var out []string
	for _, h := range f.HiddenCandidates {
		if _, dup := seen[h.Label]; dup {
			continue
		}
		seen[h.Label] = struct{}{}
		out = append(out, h.Label)
	}
	return out
}

// HasHiddenSettings reports whether the document withholds at least one
// attribute value.
func HasHiddenSettings(doc *Document) bool {
	return len(Flatten(doc).HiddenCandidates) > 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
