// Package scoring compares candidate submissions against the persisted
// canonical answer key. Score is a pure function: no state, no side
// effects, byte-identical output for identical input.
package scoring

import (
	"sort"
	"strings"

	"examkey/internal/model"
)

// Result is the outcome of scoring one attempt.
type Result struct {
	Score   int                   `json:"score"`
	Total   int                   `json:"total"`
	Details []model.ScoringDetail `json:"details"`
}

// Explainer optionally supplies the stored explanation per question for the
// result view. A nil map is fine.
type Explainer map[int64]string

// Score grades submissions against the canonical correct-choice sets.
//
// A submission is correct iff the canonical set for its question is
// non-empty and the normalized submitted set equals it as an unordered set.
// Submissions for unknown question ids are skipped and do not count toward
// Total; Total is the number of canonical-backed questions.
func Score(submissions []model.Submission, canonical map[int64][]string, explanations Explainer) Result {
	if len(submissions) == 0 {
		return Result{Score: 0, Total: len(canonical)}
	}

	res := Result{Total: len(canonical)}
	for _, sub := range submissions {
		correctKeys, ok := canonical[sub.QuestionID]
		if !ok {
			continue
		}

		userSet := NormalizeKeys(sub.Answers)
		correctSet := NormalizeKeys(correctKeys)
		correct := len(correctSet) > 0 && equalSets(userSet, correctSet)
		if correct {
			res.Score++
		}

		res.Details = append(res.Details, model.ScoringDetail{
			QuestionID:     sub.QuestionID,
			Correct:        correct,
			UserAnswers:    userSet,
			CorrectAnswers: correctSet,
			Explanation:    explanations[sub.QuestionID],
		})
	}
	return res
}

// NormalizeKeys maps raw choice keys to the canonical comparable form:
// trimmed, uppercased, deduplicated, sorted. Empty entries are dropped.
func NormalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// equalSets compares two already-normalized (sorted, deduplicated) key sets.
func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
