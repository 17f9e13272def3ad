package store

import (
	"context"
	"database/sql"
	"reflect"
	"testing"
	"time"

	"examkey/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testImport() model.SessionImport {
	return model.SessionImport{
		HashID: "abc123",
		Exam: model.ExamImport{
			ID:             77,
			Title:          "Networking Basics",
			Time:           1800,
			TotalQuestions: 2,
			NumberPass:     1,
		},
		Questions: []model.QuestionImport{
			{
				ID:       101,
				Type:     model.SingleChoice,
				Question: "Which port does HTTPS use?",
				Choices: []model.ChoiceImport{
					{ID: "A", Label: "80"},
					{ID: "B", Label: "443"},
					{ID: "C", Label: "22"},
				},
			},
			{
				ID:       102,
				Type:     model.MultiChoice,
				Question: "Which of these are transport protocols?",
				Choices: []model.ChoiceImport{
					{ID: "A", Label: "TCP"},
					{ID: "B", Label: "HTTP"},
					{ID: "C", Label: "UDP"},
				},
			},
		},
	}
}

func importTestSession(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.ImportSession(context.Background(), testImport())
	if err != nil {
		t.Fatalf("importTestSession: %v", err)
	}
	return id
}

func TestImportAndGetSession(t *testing.T) {
	s := newTestStore(t)
	sessionID := importTestSession(t, s)
	ctx := context.Background()

	sess, err := s.GetSessionByHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetSessionByHash: %v", err)
	}
	if sess.ID != sessionID || sess.Title != "Networking Basics" || sess.ExternalExamID != 77 {
		t.Errorf("unexpected session: %+v", sess)
	}

	questions, err := s.QuestionsForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("QuestionsForSession: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].ExternalQuestionID != 101 || questions[0].Type != model.SingleChoice {
		t.Errorf("unexpected first question: %+v", questions[0])
	}
	if questions[1].AnswersFetchedAt != nil {
		t.Error("fresh question should have no fetch timestamp")
	}

	choices, err := s.ChoicesForQuestion(ctx, questions[0].ID)
	if err != nil {
		t.Fatalf("ChoicesForQuestion: %v", err)
	}
	keys := make([]string, 0, len(choices))
	for _, c := range choices {
		keys = append(keys, c.Key)
	}
	if !reflect.DeepEqual(keys, []string{"A", "B", "C"}) {
		t.Errorf("choices not in key order: %v", keys)
	}

	// Duplicate hash id must be rejected.
	if _, err := s.ImportSession(ctx, testImport()); err == nil {
		t.Error("re-importing the same hash id should fail")
	}
}

func TestImportValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := testImport()
	bad.HashID = "other"
	bad.Questions[0].Type = "essay"
	if _, err := s.ImportSession(ctx, bad); err == nil {
		t.Error("unknown question type should be rejected")
	}

	bad = testImport()
	bad.HashID = "other2"
	bad.Questions[1].Choices = nil
	if _, err := s.ImportSession(ctx, bad); err == nil {
		t.Error("question without choices should be rejected")
	}

	// Failed imports roll back entirely.
	if _, err := s.GetSessionByHash(ctx, "other"); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows after rollback, got %v", err)
	}
}

func TestReplaceAnswerKeyIdempotent(t *testing.T) {
	s := newTestStore(t)
	sessionID := importTestSession(t, s)
	ctx := context.Background()

	questions, err := s.QuestionsForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("QuestionsForSession: %v", err)
	}
	qID := questions[0].ID

	first := time.Now().Add(-time.Minute)
	if err := s.ReplaceAnswerKey(ctx, qID, []string{"A", "C"}, "first take", first); err != nil {
		t.Fatalf("ReplaceAnswerKey: %v", err)
	}

	key, err := s.AnswerKey(ctx, qID)
	if err != nil {
		t.Fatalf("AnswerKey: %v", err)
	}
	if !reflect.DeepEqual(key.ChoiceKeys, []string{"A", "C"}) || key.Explanation != "first take" {
		t.Errorf("unexpected key after first replace: %+v", key)
	}

	// Re-fetch with a different result: the old rows must not survive.
	if err := s.ReplaceAnswerKey(ctx, qID, []string{"B"}, "second take", time.Now()); err != nil {
		t.Fatalf("ReplaceAnswerKey: %v", err)
	}
	key, err = s.AnswerKey(ctx, qID)
	if err != nil {
		t.Fatalf("AnswerKey: %v", err)
	}
	if !reflect.DeepEqual(key.ChoiceKeys, []string{"B"}) {
		t.Errorf("stale answer rows survived re-fetch: %v", key.ChoiceKeys)
	}
	if key.Explanation != "second take" {
		t.Errorf("explanation = %q, want %q", key.Explanation, "second take")
	}

	updated, err := s.QuestionsForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("QuestionsForSession: %v", err)
	}
	if updated[0].AnswersFetchedAt == nil {
		t.Error("fetch timestamp should be stamped with the replace")
	}
	if updated[0].Explanation != "second take" {
		t.Errorf("question explanation = %q", updated[0].Explanation)
	}
}

func TestCanonicalForSession(t *testing.T) {
	s := newTestStore(t)
	sessionID := importTestSession(t, s)
	ctx := context.Background()

	questions, err := s.QuestionsForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("QuestionsForSession: %v", err)
	}
	if err := s.ReplaceAnswerKey(ctx, questions[0].ID, []string{"B"}, "https uses 443", time.Now()); err != nil {
		t.Fatalf("ReplaceAnswerKey: %v", err)
	}

	canonical, explanations, err := s.CanonicalForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("CanonicalForSession: %v", err)
	}
	if !reflect.DeepEqual(canonical[101], []string{"B"}) {
		t.Errorf("canonical[101] = %v, want [B]", canonical[101])
	}
	// Question 102 has no answer key yet but still appears, with an empty set.
	if got, ok := canonical[102]; !ok || len(got) != 0 {
		t.Errorf("canonical[102] = %v (present=%v), want present and empty", got, ok)
	}
	if explanations[101] != "https uses 443" {
		t.Errorf("explanations[101] = %q", explanations[101])
	}
}

func TestAttemptsAndSubmissions(t *testing.T) {
	s := newTestStore(t)
	sessionID := importTestSession(t, s)
	ctx := context.Background()

	a1, err := s.FindOrCreateAttempt(ctx, sessionID, nil, "alice@example.com")
	if err != nil {
		t.Fatalf("FindOrCreateAttempt: %v", err)
	}
	if a1.AttemptToken == "" {
		t.Fatal("attempt token must be generated")
	}

	// Same candidate, same scope: same attempt.
	again, err := s.FindOrCreateAttempt(ctx, sessionID, nil, "alice@example.com")
	if err != nil {
		t.Fatalf("FindOrCreateAttempt: %v", err)
	}
	if again.ID != a1.ID || again.AttemptToken != a1.AttemptToken {
		t.Errorf("expected the existing attempt, got %+v", again)
	}

	// Same candidate in a room: distinct attempt.
	room, err := s.CreateRoom(ctx, "morning batch", nil, nil)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	roomAttempt, err := s.FindOrCreateAttempt(ctx, sessionID, &room.ID, "alice@example.com")
	if err != nil {
		t.Fatalf("FindOrCreateAttempt (room): %v", err)
	}
	if roomAttempt.ID == a1.ID {
		t.Error("room attempt should be distinct from the roomless one")
	}

	subs := []model.Submission{{QuestionID: 101, Answers: []string{"B"}}}
	if err := s.SaveSubmissions(ctx, a1.ID, subs); err != nil {
		t.Fatalf("SaveSubmissions: %v", err)
	}

	// Resubmission overwrites, it does not accumulate.
	subs = []model.Submission{
		{QuestionID: 101, Answers: []string{"A"}},
		{QuestionID: 102, Answers: []string{"A", "C"}},
	}
	if err := s.SaveSubmissions(ctx, a1.ID, subs); err != nil {
		t.Fatalf("SaveSubmissions: %v", err)
	}

	stored, err := s.GetAttemptByToken(ctx, sessionID, a1.AttemptToken)
	if err != nil {
		t.Fatalf("GetAttemptByToken: %v", err)
	}
	decoded, err := Submissions(stored)
	if err != nil {
		t.Fatalf("Submissions: %v", err)
	}
	if !reflect.DeepEqual(decoded, subs) {
		t.Errorf("decoded = %+v, want %+v", decoded, subs)
	}

	attempts, err := s.AttemptsForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("AttemptsForSession: %v", err)
	}
	if len(attempts) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(attempts))
	}
}

func TestRooms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ends := time.Now().Add(time.Hour)
	room, err := s.CreateRoom(ctx, "evening", nil, &ends)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.RoomCode == "" {
		t.Fatal("room code must be generated")
	}

	got, err := s.GetRoomByCode(ctx, room.RoomCode)
	if err != nil {
		t.Fatalf("GetRoomByCode: %v", err)
	}
	if got.ID != room.ID || got.Name != "evening" {
		t.Errorf("unexpected room: %+v", got)
	}
	if got.Expired() {
		t.Error("room ending in an hour should not be expired")
	}

	byID, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if byID.RoomCode != room.RoomCode {
		t.Errorf("GetRoom returned %+v", byID)
	}

	if _, err := s.GetRoomByCode(ctx, "nope"); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.GetImportedFileHash(ctx, "exam.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash(ctx, "exam.json", "deadbeef"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash(ctx, "exam.json", "cafebabe"); err != nil {
		t.Fatalf("SetImportedFileHash (update): %v", err)
	}

	hash, err = s.GetImportedFileHash(ctx, "exam.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "cafebabe" {
		t.Errorf("hash = %q, want cafebabe", hash)
	}
}
