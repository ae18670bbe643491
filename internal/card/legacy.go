package card

import "encoding/json"

// legacyCard is the flat V2 ("chara") schema written for tools that
// predate CCv3. Fields the legacy schema does not know about are simply
// dropped; extensions defaults to an empty object.
type legacyCard struct {
	Name                    string    `json:"name"`
	Description             string    `json:"description"`
	Personality             string    `json:"personality"`
	Scenario                string    `json:"scenario"`
	FirstMes                string    `json:"first_mes"`
	MesExample              string    `json:"mes_example"`
	CreatorNotes            string    `json:"creator_notes"`
	SystemPrompt            string    `json:"system_prompt"`
	PostHistoryInstructions string    `json:"post_history_instructions"`
	AlternateGreetings      []string  `json:"alternate_greetings"`
	Tags                    []string  `json:"tags"`
	Creator                 string    `json:"creator"`
	CharacterVersion        string    `json:"character_version"`
	CharacterBook           *Lorebook `json:"character_book,omitempty"`
	Extensions              struct{}  `json:"extensions"`
}

// LegacyJSON down-converts the card to the legacy chara schema. The
// projection is pure: the card itself is never modified.
func LegacyJSON(c Card) (string, error) {
	v2 := legacyCard{
		Name:                    c.Data.Name,
		Description:             c.Data.Description,
		Personality:             c.Data.Personality,
		Scenario:                c.Data.Scenario,
		FirstMes:                c.Data.FirstMes,
		MesExample:              c.Data.MesExample,
		CreatorNotes:            c.Data.CreatorNotes,
		SystemPrompt:            c.Data.SystemPrompt,
		PostHistoryInstructions: c.Data.PostHistoryInstructions,
		AlternateGreetings:      c.Data.AlternateGreetings,
		Tags:                    c.Data.Tags,
		Creator:                 c.Data.Creator,
		CharacterVersion:        c.Data.CharacterVersion,
		CharacterBook:           c.Data.CharacterBook,
	}
	if v2.AlternateGreetings == nil {
		v2.AlternateGreetings = []string{}
	}
	if v2.Tags == nil {
		v2.Tags = []string{}
	}
	out, err := json.Marshal(v2)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
