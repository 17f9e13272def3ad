// Package random provides the deterministic, seed-based ordering used when
// serving exams: the same seed always yields the same permutation, on any
// host and across process restarts.
package random

import "math/rand"

// Shuffle returns a permutation of items driven by seed. The input slice is
// never mutated. Determinism relies on math/rand's seeded source, so two
// calls with equal seeds produce identical output.
func Shuffle[T any](seed int64, items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// SessionSeed derives the seed for a candidate's question order. Candidates
// in the same room share the room's seed so everyone sees the same paper;
// a candidate outside a room gets a stable seed from their attempt token.
// ok is false when neither exists, meaning the persisted order stands.
func SessionSeed(roomID int64, attemptToken string) (seed int64, ok bool) {
	if roomID > 0 {
		return roomID, true
	}
	if attemptToken != "" {
		return TokenSeed(attemptToken), true
	}
	return 0, false
}

// TokenSeed maps an attempt token to a seed by summing its byte values.
func TokenSeed(token string) int64 {
	var sum int64
	for _, b := range []byte(token) {
		sum += int64(b)
	}
	return sum
}

// ChoiceSeed mixes the base seed with a question id so choice order differs
// per question but stays stable for that question. The multiplier spreads
// consecutive ids far apart, so no two questions share a seed.
func ChoiceSeed(base, questionID int64) int64 {
	const mix uint64 = 0x9E3779B97F4A7C15
	return int64(uint64(base) ^ (uint64(questionID) * mix))
}
