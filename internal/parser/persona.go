package parser

import (
	"regexp"
	"strings"
)

// placeholderMarkers are template fragments an agent sometimes echoes
// back instead of real content.
var placeholderMarkers = []string{
	"完整内容",
	"完整内容（原文）",
	"完整内容(原文)",
	"完整内容（必填）",
}

// IsPlaceholder reports whether a recovered value is an echo of the
// prompt's template rather than real content.
func IsPlaceholder(value string) bool {
	for _, m := range placeholderMarkers {
		if strings.Contains(value, m) {
			return true
		}
	}
	return false
}

// asciiNameRe accepts names safe for word-boundary replacement. CJK
// names fall through to plain substring replacement because ASCII word
// boundaries are meaningless there.
var asciiNameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_ \-]{0,63}$`)

// SubstitutePersona normalizes the human participant's name to {{user}}
// in recovered text. The platform's default persona name "momo" is
// always replaced. HTML encoding is never touched; this operates on raw
// text only.
func SubstitutePersona(text, personaName string) string {
	out := strings.ReplaceAll(text, "momo", "{{user}}")

	name := strings.TrimSpace(personaName)
	if name == "" || name == "{{user}}" || strings.EqualFold(name, "momo") {
		return out
	}

	if asciiNameRe.MatchString(name) {
		return replaceBounded(out, name)
	}
	return strings.ReplaceAll(out, name, "{{user}}")
}

// replaceBounded replaces case-insensitive occurrences of name that are
// not embedded in a longer ASCII word, so "Alice" matches in "Alice的"
// but not in "Malice".
func replaceBounded(text, name string) string {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(name))
	if err != nil {
		return strings.ReplaceAll(text, name, "{{user}}")
	}

	var b strings.Builder
	last := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if isASCIIWord(byteBefore(text, loc[0])) || isASCIIWord(byteAt(text, loc[1])) {
			continue
		}
		b.WriteString(text[last:loc[0]])
		b.WriteString("{{user}}")
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func byteBefore(s string, i int) byte {
	if i == 0 {
		return 0
	}
	return s[i-1]
}

func byteAt(s string, i int) byte {
	if i >= len(s) {
		return 0
	}
	return s[i]
}

func isASCIIWord(c byte) bool {
	return c == '_' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

// refusalPatterns catch the common ways an agent declines the export
// request, in English and Chinese.
var refusalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)I (?:cannot|can't|am unable to|won't|will not)`),
	regexp.MustCompile(`(?:对不起|抱歉|很遗憾).*(?:无法|不能|不会)`),
	regexp.MustCompile(`作为(?:AI|人工智能|一个AI)`),
	regexp.MustCompile(`(?i)I'm (?:sorry|afraid|not able)`),
	regexp.MustCompile(`(?:违反|违背).*(?:政策|规定|准则)`),
}

// IsRefusal reports whether a short reply is a refusal rather than an
// export attempt. Long replies are never classified as refusals; real
// content sometimes quotes refusal-like phrases.
func IsRefusal(text string) bool {
	if len(text) > 500 {
		return false
	}
	for _, p := range refusalPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
