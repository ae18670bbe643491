// Package parser recovers label→value pairs from free-form agent
// replies. Agents rarely honor the requested export format exactly, so
// extraction runs as an ordered cascade of strategies, from the strict
// tag vocabulary down to scraping loose "label: value" lines and JSON
// fragments. Each tier is independently fault-tolerant: a tier that
// matches nothing contributes nothing, and the cascade stops early once
// every expected label has a value.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Shizuku-Yume/Arcaferry/internal/source"
)

// Expectation is one label the reply is expected to disclose.
// MergedIndex is the flattened-attribute position the value reattaches
// to, or -1 when the caller only knows the label.
type Expectation struct {
	MergedIndex int
	Label       string
}

// Key is the map key a recovered value for this expectation is stored
// under: "{mergedIndex}:{label}" when the position is known, else the
// bare label.
func (e Expectation) Key() string {
	if e.MergedIndex < 0 {
		return e.Label
	}
	return fmt.Sprintf("%d:%s", e.MergedIndex, e.Label)
}

// Expectations adapts flattened hidden candidates.
func Expectations(hidden []source.HiddenCandidate) []Expectation {
	out := make([]Expectation, 0, len(hidden))
	for _, h := range hidden {
		out = append(out, Expectation{MergedIndex: h.MergedIndex, Label: h.Label})
	}
	return out
}

// LabelExpectations adapts bare labels when no candidate positions are
// known; recovered values are keyed by label alone.
func LabelExpectations(labels []string) []Expectation {
	out := make([]Expectation, 0, len(labels))
	for _, l := range labels {
		out = append(out, Expectation{MergedIndex: -1, Label: l})
	}
	return out
}

var (
	attrOpenRe   = regexp.MustCompile(`(?i)<ATTR\b[^>]*\bname\s*=\s*(?:"([^"]+)"|'([^']+)')[^>]*>`)
	attrStopRe   = regexp.MustCompile(`(?i)</ATTR>|<ATTR\b|<DONE\s*/?>|</CF_EXPORT>`)
	blockRe      = regexp.MustCompile(`(?is)===ATTR_START\s*[:：]\s*(.*?)===\s*(.*?)\s*===ATTR_END===`)
	bracketRe    = regexp.MustCompile(`\[([^:\]]+):\s*([^\]]{5,})\]`)
	exportTagRe  = regexp.MustCompile(`(?i)</?CF_EXPORT[^>]*>`)
	doneTagRe    = regexp.MustCompile(`(?i)<DONE\s*/?>`)
	exportWrapRe = regexp.MustCompile(`(?is)<CF_EXPORT[^>]*>(.*?)</CF_EXPORT>`)
)

// Parse runs the cascade over a raw reply. The returned map is keyed per
// Expectation.Key and is empty — never nil — when nothing is
// recoverable. personaName may be empty; when set, occurrences of it in
// recovered values are normalized to {{user}}.
func Parse(reply string, expected []Expectation, personaName string) map[string]string {
	result := make(map[string]string)
	if len(expected) == 0 || reply == "" {
		return result
	}

	// A complete wrapper narrows the scan to its inner content; anything
	// else is taken as-is.
	if m := exportWrapRe.FindStringSubmatch(reply); m != nil {
		reply = m[1]
	}

	tiers := []func(string, []Expectation, string, map[string]string){
		parseAttrTags,
		parseAttrBlocks,
		parseHashHeaders,
		parseBrackets,
		parseSingleLines,
		parseMultiLines,
		parseJSONCandidates,
	}
	for _, tier := range tiers {
		tier(reply, expected, personaName, result)
		if len(result) >= len(expected) {
			break
		}
	}
	return result
}

// parseAttrTags handles the requested format: <ATTR name="label">value.
// A value runs to the closing tag or, when the agent forgot it, to the
// next opening tag, terminator, or end of reply.
func parseAttrTags(text string, expected []Expectation, personaName string, result map[string]string) {
	for _, m := range attrOpenRe.FindAllStringSubmatchIndex(text, -1) {
		label := submatch(text, m, 1)
		if label == "" {
			label = submatch(text, m, 2)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}

		valueStart := m[1]
		valueEnd := len(text)
		if stop := attrStopRe.FindStringIndex(text[valueStart:]); stop != nil {
			valueEnd = valueStart + stop[0]
		}
		mergeValue(result, expected, label, text[valueStart:valueEnd], personaName)
	}
}

func parseAttrBlocks(text string, expected []Expectation, personaName string, result map[string]string) {
	for _, m := range blockRe.FindAllStringSubmatch(text, -1) {
		mergeValue(result, expected, m[1], m[2], personaName)
	}
}

func parseHashHeaders(text string, expected []Expectation, personaName string, result map[string]string) {
	for _, e := range expected {
		re, err := regexp.Compile(`(?s)###\s*` + regexp.QuoteMeta(e.Label) + `[：:]\s*(.*?)(?:###|$)`)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(text); m != nil {
			mergeValue(result, expected, e.Label, m[1], personaName)
		}
	}
}

func parseBrackets(text string, expected []Expectation, personaName string, result map[string]string) {
	for _, m := range bracketRe.FindAllStringSubmatch(text, -1) {
		mergeValue(result, expected, m[1], m[2], personaName)
	}
}

// labelLinePrefix matches the lead-in of a "label: value" line, allowing
// numbering, list bullets, and bold markers around the label.
func labelLinePrefix(label string) string {
	return `(?:^|\n)\s*(?:\d+\.\s*|[-*]\s*)?(?:\*\*)?` + regexp.QuoteMeta(label) + `(?:\*\*)?\s*[：:]\s*`
}

func parseSingleLines(text string, expected []Expectation, personaName string, result map[string]string) {
	for _, e := range expected {
		re, err := regexp.Compile(`(?i)` + labelLinePrefix(e.Label) + `([^\n]+)`)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(text); m != nil {
			mergeValue(result, expected, e.Label, m[1], personaName)
		}
	}
}

// parseMultiLines captures values spanning several lines. A value ends
// where the next expected label's line begins, or at an export
// terminator, or at the end of the reply.
func parseMultiLines(text string, expected []Expectation, personaName string, result map[string]string) {
	var alternatives []string
	for _, e := range expected {
		alternatives = append(alternatives, regexp.QuoteMeta(e.Label))
	}
	stopRe, err := regexp.Compile(
		`(?i)\n\s*(?:\d+\.\s*|[-*]\s*)?(?:\*\*)?(?:` + strings.Join(alternatives, "|") + `)(?:\*\*)?\s*[：:]` +
			`|\n\s*</?CF_EXPORT[^>]*>|\n\s*<DONE\s*/?>`)
	if err != nil {
		return
	}

	for _, e := range expected {
		startRe, err := regexp.Compile(`(?i)` + labelLinePrefix(e.Label))
		if err != nil {
			continue
		}
		loc := startRe.FindStringIndex(text)
		if loc == nil {
			continue
		}
		valueStart := loc[1]
		valueEnd := len(text)
		if stop := stopRe.FindStringIndex(text[valueStart:]); stop != nil {
			valueEnd = valueStart + stop[0]
		}
		mergeValue(result, expected, e.Label, text[valueStart:valueEnd], personaName)
	}
}

func submatch(text string, indexes []int, n int) string {
	if indexes[2*n] < 0 {
		return ""
	}
	return text[indexes[2*n]:indexes[2*n+1]]
}

// mergeValue cleans a raw captured value, reconciles the captured label
// against the expected set, and stores the value. Exact label matches
// (after normalization) always beat fuzzy containment matches; among
// several matches the longest normalized label wins. Per key, the
// longest non-placeholder value wins across tiers.
func mergeValue(result map[string]string, expected []Expectation, matchedLabel, rawValue, personaName string) bool {
	label := strings.TrimSpace(matchedLabel)
	value := cleanValue(rawValue)
	value = SubstitutePersona(value, personaName)
	if label == "" || value == "" || IsPlaceholder(value) {
		return false
	}

	labelNorm := normalizeLabel(label)

	var exact *Expectation
	for i := range expected {
		e := expected[i]
		expectedNorm := normalizeLabel(e.Label)
		if strings.TrimSpace(e.Label) == label || (labelNorm != "" && expectedNorm != "" && labelNorm == expectedNorm) {
			if exact == nil || len(normalizeLabel(e.Label)) > len(normalizeLabel(exact.Label)) {
				exact = &expected[i]
			}
		}
	}
	if exact != nil {
		store(result, exact.Key(), value)
		return true
	}

	var best *Expectation
	bestScore := -1
	for i := range expected {
		e := expected[i]
		if !fuzzyLabelMatch(label, e.Label) {
			continue
		}
		score := labelMatchScore(label, e.Label)
		if best == nil || score > bestScore ||
			(score == bestScore && len(normalizeLabel(e.Label)) > len(normalizeLabel(best.Label))) {
			best = &expected[i]
			bestScore = score
		}
	}
	if best != nil {
		store(result, best.Key(), value)
		return true
	}
	return false
}

func store(result map[string]string, key, value string) {
	if existing, ok := result[key]; !ok || len(value) > len(existing) {
		result[key] = value
	}
}

func cleanValue(value string) string {
	out := strings.TrimSpace(value)
	if out == "" {
		return ""
	}
	out = exportTagRe.ReplaceAllString(out, "")
	out = doneTagRe.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

var labelNoiseRe = regexp.MustCompile("[\\s\\-_(){}\\[\\]<>《》【】「」『』\"'`.,，。:：/\\\\|]+")

// normalizeLabel lowercases and strips whitespace and punctuation so
// that decorations an agent adds around a label do not break matching.
func normalizeLabel(label string) string {
	out := strings.ToLower(strings.TrimSpace(label))
	return labelNoiseRe.ReplaceAllString(out, "")
}

func fuzzyLabelMatch(candidate, expected string) bool {
	c := strings.ToLower(strings.TrimSpace(candidate))
	e := strings.ToLower(strings.TrimSpace(expected))
	if c == e {
		return true
	}
	cNorm := normalizeLabel(c)
	eNorm := normalizeLabel(e)
	if cNorm != "" && eNorm != "" && cNorm == eNorm {
		return true
	}
	if cNorm != "" && eNorm != "" && (strings.Contains(eNorm, cNorm) || strings.Contains(cNorm, eNorm)) {
		return true
	}
	return strings.Contains(e, c) || strings.Contains(c, e)
}

// labelMatchScore ranks fuzzy matches: normalized equality far outranks
// containment, which outranks bare overlap. Ties between containment
// matches go to the longer normalized label.
func labelMatchScore(candidate, expected string) int {
	cNorm := normalizeLabel(candidate)
	eNorm := normalizeLabel(expected)
	if cNorm == "" || eNorm == "" {
		return 0
	}
	if cNorm == eNorm {
		return 10000 + len(eNorm)
	}
	if strings.Contains(eNorm, cNorm) || strings.Contains(cNorm, eNorm) {
		return 5000 + min(len(cNorm), len(eNorm))
	}
	return min(len(cNorm), len(eNorm))
}
