package llm

import (
	"fmt"
	"strings"

	"examkey/internal/model"
)

// Field names the extraction heuristics search for. The prompt must request
// exactly these so Extract can anchor on them.
const (
	fieldSingle      = "correct_index"
	fieldMulti       = "correct_indices"
	fieldExplanation = "explanation"
)

// correctField returns the correctness field name for a question type.
func correctField(t model.QuestionType) string {
	if t == model.MultiChoice {
		return fieldMulti
	}
	return fieldSingle
}

// BuildPrompt produces the grading instruction for one question. Choices are
// numbered 1..N in the order given; the builder never reorders them. The
// reply is requested as a minimal JSON object with a 1-based correctness
// field named per the single/multi convention plus a short explanation.
func BuildPrompt(body string, choices []model.Choice, qtype model.QuestionType) string {
	var sb strings.Builder
	sb.WriteString("You are an expert at grading multiple choice questions.\n\n")
	sb.WriteString("You MUST return ONLY a valid JSON object.\n")
	sb.WriteString("Do NOT include markdown, comments, or text outside JSON.\n\n")

	sb.WriteString("Question:\n")
	sb.WriteString(body)
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Options (numbered 1 to %d):\n", len(choices)))
	for i, c := range choices {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, c.Label))
	}
	sb.WriteString("\n")

	single := qtype != model.MultiChoice
	if single {
		sb.WriteString("Exactly one option is correct.\n")
	} else {
		sb.WriteString("One or more options may be correct.\n")
	}

	key := correctField(qtype)
	sb.WriteString("Return JSON with:\n")
	if single {
		sb.WriteString(fmt.Sprintf("- %q: integer (1-based, the number of the correct option)\n", key))
	} else {
		sb.WriteString(fmt.Sprintf("- %q: array of integers (1-based numbers of all correct options)\n", key))
	}
	sb.WriteString(fmt.Sprintf("- %q: short explanation in English\n\n", fieldExplanation))

	if single {
		sb.WriteString(fmt.Sprintf("Example format: {%q: 2, %q: \"...\"}\n", key, fieldExplanation))
	} else {
		sb.WriteString(fmt.Sprintf("Example format: {%q: [1, 3], %q: \"...\"}\n", key, fieldExplanation))
	}

	return sb.String()
}
