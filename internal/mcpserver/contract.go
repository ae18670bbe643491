package mcpserver

// CardFormatContract describes the canonical CCv3 card format that
// LLM consumers should follow when embedding cards into the library.
const CardFormatContract = `# Arcaferry Card Format Contract

Every character card stored in Arcaferry MUST be a CCv3 envelope.

## Structure

` + "```" + `json
{
  "spec": "chara_card_v3",
  "spec_version": "3.0",
  "data": {
    "name": "Character name",
    "description": "[label: value] lines describing the character",
    "personality": "",
    "scenario": "",
    "first_mes": "Opening greeting",
    "mes_example": "",
    "alternate_greetings": [],
    "system_prompt": "",
    "post_history_instructions": "",
    "creator": "",
    "creator_notes": "",
    "tags": ["QuackAI"],
    "character_version": "1.0",
    "character_book": {
      "name": "Book name",
      "description": "",
      "scan_depth": 50,
      "token_budget": 500,
      "recursive_scanning": false,
      "entries": []
    }
  }
}
` + "```" + `

## Rules

1. **` + "`" + `spec` + "`" + ` is always ` + "`" + `chara_card_v3` + "`" + ` with ` + "`" + `spec_version` + "`" + ` ` + "`" + `3.0` + "`" + `.**
   Tools fill these in when omitted.
2. **` + "`" + `data.name` + "`" + ` is required.** It is the primary display name everywhere.
3. **Field keys are snake_case.** Unknown keys are dropped on re-export.
4. **Hidden settings** recovered from a disclosure reply live at the end of
   ` + "`" + `system_prompt` + "`" + `, separated by a blank line, one ` + "`" + `[label: value]` + "`" + ` per line.
5. **Lorebook entries** need ` + "`" + `keys` + "`" + ` and ` + "`" + `secondary_keys` + "`" + ` as JSON arrays
   (possibly empty), ` + "`" + `position` + "`" + ` as ` + "`" + `before_char` + "`" + ` or ` + "`" + `after_char` + "`" + `, and
   sequential ` + "`" + `insertion_order` + "`" + ` starting at 1.
6. **File paths** end with ` + "`" + `.png` + "`" + ` and use forward slashes.
7. **Placeholders** must not reach an embedded card. Do not embed
   cards whose values still read ` + "`" + `完整内容` + "`" + ` or UNKNOWN.

## Storage

The card JSON is carried inside the PNG avatar as tEXt chunks:

- ` + "`" + `ccv3` + "`" + ` keyword: the base64-encoded CCv3 envelope above.
- ` + "`" + `chara` + "`" + ` keyword: a base64-encoded V2 down-conversion kept for
  compatibility with older frontends.

Both chunks sit immediately before IEND; image pixels are never touched.
`
