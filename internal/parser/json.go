package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// maxJSONDepth bounds recursion over attacker-shaped JSON; anything
// nested deeper is ignored rather than walked.
const maxJSONDepth = 32

var (
	fenceRe   = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")
	jsonTagRe = regexp.MustCompile(`(?is)<json>\s*(.*?)\s*</json>`)
)

// parseJSONCandidates is the last cascade tier: it collects plausible
// JSON fragments from the reply and walks each one for label/value
// pairs. Malformed candidates are skipped, never fatal.
func parseJSONCandidates(text string, expected []Expectation, personaName string, result map[string]string) {
	var candidates []string
	if s := strings.TrimSpace(text); s != "" {
		candidates = append(candidates, s)
	}
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			candidates = append(candidates, s)
		}
	}
	for _, m := range jsonTagRe.FindAllStringSubmatch(text, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			candidates = append(candidates, s)
		}
	}
	if first, last := strings.Index(text, "{"), strings.LastIndex(text, "}"); first != -1 && last > first {
		if s := strings.TrimSpace(text[first : last+1]); s != "" {
			candidates = append(candidates, s)
		}
	}
	if first, last := strings.Index(text, "["), strings.LastIndex(text, "]"); first != -1 && last > first {
		if s := strings.TrimSpace(text[first : last+1]); s != "" {
			candidates = append(candidates, s)
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		walkJSON([]byte(candidate), expected, personaName, result, 0)
		if len(result) >= len(expected) {
			return
		}
	}
}

// walkJSON visits a JSON node in document order. Objects are checked
// for an explicit label/value pair shape first, then every key/scalar
// pair is offered to the label matcher and every nested container is
// walked.
func walkJSON(data []byte, expected []Expectation, personaName string, result map[string]string, depth int) {
	if depth > maxJSONDepth {
		return
	}

	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		walkObject([]byte(trimmed), expected, personaName, result, depth)
	case strings.HasPrefix(trimmed, "["):
		_, _ = jsonparser.ArrayEach([]byte(trimmed), func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
			if dataType == jsonparser.Object || dataType == jsonparser.Array {
				walkJSON(value, expected, personaName, result, depth+1)
			}
		})
	}
}

func walkObject(data []byte, expected []Expectation, personaName string, result map[string]string, depth int) {
	var labelCandidate, valueCandidate string
	for _, lk := range []string{"name", "label", "key", "title"} {
		if v, err := jsonparser.GetString(data, lk); err == nil && strings.TrimSpace(v) != "" {
			labelCandidate = strings.TrimSpace(v)
			break
		}
	}
	for _, vk := range []string{"value", "content", "text", "data"} {
		if v, err := jsonparser.GetString(data, vk); err == nil && strings.TrimSpace(v) != "" {
			valueCandidate = v
			break
		}
	}
	if labelCandidate != "" && valueCandidate != "" {
		mergeValue(result, expected, labelCandidate, valueCandidate, personaName)
	}

	_ = jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		switch dataType {
		case jsonparser.String:
			if s, err := jsonparser.ParseString(value); err == nil {
				mergeValue(result, expected, string(key), s, personaName)
			}
		case jsonparser.Number:
			mergeValue(result, expected, string(key), string(value), personaName)
		case jsonparser.Boolean:
			if b, err := jsonparser.ParseBoolean(value); err == nil {
				mergeValue(result, expected, string(key), strconv.FormatBool(b), personaName)
			}
		case jsonparser.Object, jsonparser.Array:
			walkJSON(value, expected, personaName, result, depth+1)
		}
		return nil
	})
}
