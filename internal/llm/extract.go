package llm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"examkey/internal/model"
)

// Extraction is the structured payload recovered from a model response.
// Indices are 0-based positions into the choice order the prompt was built
// with.
type Extraction struct {
	Indices     []int
	Explanation string
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Extract recovers an {indices, explanation} payload from untrusted model
// output. The text may be clean JSON, fenced, wrapped in prose, or contain
// several candidate objects; extractJSONString salvages the most plausible
// span and the final decode is strict. Indices are converted from the
// model's 1-based numbering to 0-based, dropping anything non-positive.
func Extract(raw string, qtype model.QuestionType) (Extraction, error) {
	candidate := extractJSONString(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return Extraction{}, &InvalidResponseError{Msg: "invalid JSON: " + err.Error()}
	}

	indices := toIntList(obj[correctField(qtype)])
	out := Extraction{Indices: make([]int, 0, len(indices))}
	for _, n := range indices {
		n--
		if n < 0 {
			continue
		}
		out.Indices = append(out.Indices, n)
	}

	if s, ok := obj[fieldExplanation].(string); ok {
		out.Explanation = strings.TrimSpace(s)
	}
	return out, nil
}

// extractJSONString locates the JSON object inside a possibly noisy
// response. Strategies are tried in order; each is used only if the
// previous yields nothing parseable. The last resort returns the trimmed
// input so the caller's decode produces a meaningful diagnostic.
func extractJSONString(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return trimmed
	}

	// 1) Fenced block: ```json ... ```
	if strings.Contains(text, "```") {
		if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
			if inner := strings.TrimSpace(m[1]); inner != "" {
				return inner
			}
		}
	}

	// 2) Anchor on the last "explanation" occurrence, back up to the
	// nearest opening brace, then walk forward balancing braces. Depth is
	// counted character by character since explanation strings may contain
	// braces themselves.
	if idx := strings.LastIndex(text, fieldExplanation); idx >= 0 {
		if start := strings.LastIndex(text[:idx], "{"); start >= 0 {
			depth := 0
			for i := start; i < len(text); i++ {
				switch text[i] {
				case '{':
					depth++
				case '}':
					depth--
				}
				if depth == 0 {
					candidate := text[start : i+1]
					if strings.Contains(candidate, fieldExplanation) &&
						(strings.Contains(candidate, fieldSingle) || strings.Contains(candidate, fieldMulti)) {
						return candidate
					}
				}
			}
		}
	}

	// 3) Whole-line JSON.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			return line
		}
	}

	// 4) Scan from a known correctness key and read until braces balance.
	for _, field := range []string{fieldSingle, fieldMulti} {
		needle := `{"` + field + `"`
		pos := 0
		for {
			rel := strings.Index(text[pos:], needle)
			if rel < 0 {
				break
			}
			start := pos + rel
			depth := 0
			for i := start; i < len(text); i++ {
				switch text[i] {
				case '{':
					depth++
				case '}':
					depth--
				}
				if depth == 0 {
					candidate := text[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate
					}
					break
				}
			}
			pos = start + 1
		}
	}

	return trimmed
}

// toIntList coerces a decoded JSON value into a list of integers. Scalars
// become one-element lists; strings are parsed leniently (a non-numeric
// string counts as 0, which the caller's 1-based shift then discards).
func toIntList(v any) []int {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		return []int{int(t)}
	case json.Number:
		n, _ := t.Int64()
		return []int{int(n)}
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return []int{0}
		}
		return []int{n}
	case []any:
		out := make([]int, 0, len(t))
		for _, item := range t {
			out = append(out, toIntList(item)...)
		}
		return out
	default:
		return []int{0}
	}
}
