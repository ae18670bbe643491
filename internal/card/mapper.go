package card

import (
	"fmt"
	"strings"
	"time"

	"github.com/Shizuku-Yume/Arcaferry/internal/parser"
	"github.com/Shizuku-Yume/Arcaferry/internal/source"
)

// Provenance marker prepended to every card's tag list.
const platformTag = "QuackAI"

// personalitySynonyms are the normalized attribute labels accepted as a
// personality field when the document has no explicit one.
var personalitySynonyms = map[string]struct{}{
	"personality": {},
	"性格":           {},
	"性格特征":         {},
	"性格设定":         {},
}

// RecoveredKey builds the map key a recovered value is stored under
// when its hidden candidate is known.
func RecoveredKey(mergedIndex int, label string) string {
	return fmt.Sprintf("%d:%s", mergedIndex, label)
}

// BuildCard maps a platform document to the canonical card. recovered
// may be nil; lorebookEntries may be empty, in which case any book
// embedded in the document is used instead. The function is total:
// every field has a fallback ending in an empty string or slice.
//
// Mapping the same inputs twice yields identical cards except for the
// creation and modification timestamps.
func BuildCard(doc *source.Document, recovered map[string]string, lorebookEntries []source.LorebookEntry) Card {
	flat := source.Flatten(doc)
	attrs := applyRecovered(flat, recovered)

	name := doc.Name
	if len(doc.CharList) > 0 && doc.CharList[0].Name != "" {
		name = doc.CharList[0].Name
	}

	c := New(name)
	c.Data.Description = formatAttrs(attrs, true)
	c.Data.Personality = personality(doc, attrs)
	c.Data.Scenario = doc.Scenario
	c.Data.PostHistoryInstructions = doc.PostHistoryInstructions
	c.Data.CharacterVersion = "1.0"

	firstMes, alternates := greetings(doc)
	c.Data.FirstMes = firstMes
	c.Data.AlternateGreetings = alternates

	c.Data.SystemPrompt = systemPrompt(doc, attrs)
	c.Data.MesExample = firstNonEmpty(chatMesExample(doc), doc.MesExample)
	c.Data.Creator = firstNonEmpty(doc.AuthorName, doc.Creator)
	c.Data.CreatorNotes = firstNonEmpty(chatCreatorNotes(doc), doc.CreatorNotes, doc.Intro)
	c.Data.Tags = tags(doc)
	c.Data.CharacterBook = characterBook(doc, lorebookEntries, name)

	now := time.Now().Unix()
	c.Data.CreationDate = now
	c.Data.ModificationDate = now
	return c
}

// applyRecovered fills hidden attribute values from the recovered map.
// Lookup prefers the "{mergedIndex}:{label}" key, falling back to the
// bare label. Attributes whose value is a placeholder marker are
// likewise replaced when a bare-label entry exists.
func applyRecovered(flat source.Flattened, recovered map[string]string) []source.Attribute {
	attrs := make([]source.Attribute, len(flat.Attributes))
	copy(attrs, flat.Attributes)
	if len(recovered) == 0 {
		return attrs
	}

	for _, h := range flat.HiddenCandidates {
		v, ok := recovered[RecoveredKey(h.MergedIndex, h.Label)]
		if !ok {
			v, ok = recovered[h.Label]
		}
		if ok && strings.TrimSpace(v) != "" {
			attrs[h.MergedIndex].Value = v
		}
	}

	for i, a := range attrs {
		if !parser.IsPlaceholder(a.Value) {
			continue
		}
		if v, ok := recovered[strings.TrimSpace(a.Label)]; ok && strings.TrimSpace(v) != "" {
			attrs[i].Value = v
		}
	}
	return attrs
}

// formatAttrs renders attributes as newline-joined "[label: value]"
// lines, keeping flatten order. visibleOnly=true keeps attributes the
// platform exposes; visibleOnly=false keeps only hidden ones.
func formatAttrs(attrs []source.Attribute, visibleOnly bool) string {
	var lines []string
	for _, a := range attrs {
		if a.Visible != visibleOnly {
			continue
		}
		if a.Label == "" || a.Value == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s: %s]", a.Label, a.Value))
	}
	return strings.Join(lines, "\n")
}

func personality(doc *source.Document, attrs []source.Attribute) string {
	if doc.Personality != "" {
		return doc.Personality
	}
	for _, a := range attrs {
		key := strings.ToLower(strings.TrimSpace(a.Label))
		if _, ok := personalitySynonyms[key]; ok {
			return a.Value
		}
	}
	return ""
}

// greetings resolves the first message and alternates. The structured
// prologue wins, then the generic greeting list, then the bare
// first-message field. Studio alternates merge in afterwards,
// de-duplicated and never equal to the first message. Greeting text is
// carried verbatim; HTML inside it must survive byte-for-byte.
func greetings(doc *source.Document) (string, []string) {
	var firstMes string
	var alternates []string

	if doc.Prologue != nil {
		firstMes, alternates = splitGreetings(doc.Prologue.Greetings)
	}
	if firstMes == "" {
		fm, alts := splitGreetings(doc.Greeting)
		firstMes = fm
		if len(alternates) == 0 {
			alternates = alts
		}
	}
	if firstMes == "" {
		firstMes = doc.FirstMes
	}

	if doc.ChatInfo != nil && doc.ChatInfo.StudioPrologue != nil {
		_, studioAlts := splitGreetings(doc.ChatInfo.StudioPrologue.Greetings)
		existing := make(map[string]struct{}, len(alternates))
		for _, g := range alternates {
			existing[g] = struct{}{}
		}
		for _, g := range studioAlts {
			if g == "" || g == firstMes {
				continue
			}
			if _, dup := existing[g]; dup {
				continue
			}
			existing[g] = struct{}{}
			alternates = append(alternates, g)
		}
	}

	if alternates == nil {
		alternates = []string{}
	}
	return firstMes, alternates
}

func splitGreetings(items []source.GreetingItem) (string, []string) {
	var values []string
	for _, g := range items {
		if msg := g.Message(); msg != "" {
			values = append(values, msg)
		}
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0], values[1:]
}

// systemPrompt joins the base prompt (per-character prompt overrides
// the document-level one) with a block of hidden "[label: value]" lines
// when any hidden attribute carries content after recovery.
func systemPrompt(doc *source.Document, attrs []source.Attribute) string {
	var base string
	if len(doc.CharList) > 0 && doc.CharList[0].Prompt != "" {
		base = doc.CharList[0].Prompt
	} else {
		base = doc.SystemPrompt
	}

	hidden := formatAttrs(attrs, false)
	switch {
	case hidden == "":
		return base
	case base == "":
		return hidden
	default:
		return base + "\n\n" + hidden
	}
}

func chatMesExample(doc *source.Document) string {
	if doc.ChatInfo == nil {
		return ""
	}
	return doc.ChatInfo.CharMesExample
}

func chatCreatorNotes(doc *source.Document) string {
	if doc.ChatInfo == nil {
		return ""
	}
	return doc.ChatInfo.CharCreatorNotes
}

func tags(doc *source.Document) []string {
	out := append([]string{}, doc.Tags...)
	for _, t := range out {
		if t == platformTag {
			return out
		}
	}
	return append([]string{platformTag}, out...)
}

// characterBook builds the card's lorebook: supplied entries win, then
// entries embedded in the document, else no book at all.
func characterBook(doc *source.Document, supplied []source.LorebookEntry, name string) *Lorebook {
	entries := supplied
	if len(entries) == 0 {
		for _, book := range doc.Books {
			entries = append(entries, book.EntryList...)
		}
	}
	if len(entries) == 0 {
		return nil
	}

	book := &Lorebook{
		Name:        name + "的世界书",
		ScanDepth:   50,
		TokenBudget: 500,
		Entries:     make([]LorebookEntry, 0, len(entries)),
	}
	for i, e := range entries {
		book.Entries = append(book.Entries, MapLorebookEntry(e, i))
	}
	return book
}

// MapLorebookEntry converts one raw platform entry. Keys fall back to
// [name] only when the raw key string is empty and the entry is not
// constant; constant entries keep empty keys rather than being dropped.
// selective is derived from the presence of secondary keys, never taken
// from the source.
func MapLorebookEntry(e source.LorebookEntry, ordinal int) LorebookEntry {
	keys := splitKeys(e.Keys)
	if len(keys) == 0 && !e.Constant && e.Name != "" {
		keys = []string{e.Name}
	}
	if keys == nil {
		keys = []string{}
	}
	secondary := splitKeys(e.SecondaryKeys)
	if secondary == nil {
		secondary = []string{}
	}

	position := "before_char"
	if e.Position != nil && *e.Position == 1 {
		position = "after_char"
	}

	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	priority := 10
	if e.Priority != nil {
		priority = *e.Priority
	}

	return LorebookEntry{
		Keys:           keys,
		SecondaryKeys:  secondary,
		Content:        e.Content,
		Enabled:        enabled,
		InsertionOrder: ordinal + 1,
		CaseSensitive:  e.CaseSensitive,
		UseRegex:       e.UseRegex,
		Constant:       e.Constant,
		Name:           e.Name,
		Priority:       priority,
		ID:             []byte(fmt.Sprintf("%d", ordinal+1)),
		Comment:        e.Comment,
		Selective:      len(secondary) > 0,
		Position:       position,
	}
}

func splitKeys(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
