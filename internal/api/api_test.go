package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"examkey/internal/model"
	"examkey/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	r := chi.NewRouter()
	New(s, nil).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, s
}

func importFixture(t *testing.T, s *store.Store) int64 {
	t.Helper()
	id, err := s.ImportSession(context.Background(), model.SessionImport{
		HashID: "exam42",
		Exam:   model.ExamImport{ID: 42, Title: "Sample", TotalQuestions: 3, NumberPass: 2},
		Questions: []model.QuestionImport{
			{ID: 201, Type: model.SingleChoice, Question: "Q1?", Choices: []model.ChoiceImport{
				{ID: "A", Label: "a1"}, {ID: "B", Label: "b1"}, {ID: "C", Label: "c1"}, {ID: "D", Label: "d1"},
			}},
			{ID: 202, Type: model.MultiChoice, Question: "Q2?", Choices: []model.ChoiceImport{
				{ID: "A", Label: "a2"}, {ID: "B", Label: "b2"}, {ID: "C", Label: "c2"},
			}},
			{ID: 203, Type: model.SingleChoice, Question: "Q3?", Choices: []model.ChoiceImport{
				{ID: "A", Label: "a3"}, {ID: "B", Label: "b3"},
			}},
		},
	})
	if err != nil {
		t.Fatalf("ImportSession: %v", err)
	}
	return id
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func getExam(t *testing.T, srv *httptest.Server, token string) examView {
	t.Helper()
	url := srv.URL + "/api/exams/exam42"
	if token != "" {
		url += "?attempt=" + token
	}
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET exam: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET exam status = %d", resp.StatusCode)
	}
	return decode[examView](t, resp)
}

func questionOrder(v examView) []int64 {
	ids := make([]int64, 0, len(v.Questions))
	for _, q := range v.Questions {
		ids = append(ids, q.ID)
	}
	return ids
}

func TestExamFlow(t *testing.T) {
	srv, s := newTestServer(t)
	sessionID := importFixture(t, s)
	ctx := context.Background()

	// Unknown exam.
	resp, err := http.Get(srv.URL + "/api/exams/nothere")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown exam status = %d, want 404", resp.StatusCode)
	}

	// Create an attempt, no room.
	resp = postJSON(t, srv.URL+"/api/exams/exam42/attempts", map[string]string{"display_name": "bob"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create attempt status = %d", resp.StatusCode)
	}
	attempt := decode[model.ExamAttempt](t, resp)
	if attempt.AttemptToken == "" {
		t.Fatal("no attempt token returned")
	}

	// The same candidate reloading sees the same question order.
	first := getExam(t, srv, attempt.AttemptToken)
	second := getExam(t, srv, attempt.AttemptToken)
	if !reflect.DeepEqual(questionOrder(first), questionOrder(second)) {
		t.Errorf("question order not stable across reloads: %v vs %v",
			questionOrder(first), questionOrder(second))
	}
	if len(first.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(first.Questions))
	}

	// Without any seed source the persisted order is served.
	plain := getExam(t, srv, "")
	if !reflect.DeepEqual(questionOrder(plain), []int64{201, 202, 203}) {
		t.Errorf("seedless order = %v, want persisted order", questionOrder(plain))
	}

	// Persist answer keys directly, then submit and score.
	questions, err := s.QuestionsForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("QuestionsForSession: %v", err)
	}
	if err := s.ReplaceAnswerKey(ctx, questions[0].ID, []string{"B"}, "b is right", time.Now()); err != nil {
		t.Fatalf("ReplaceAnswerKey: %v", err)
	}
	if err := s.ReplaceAnswerKey(ctx, questions[1].ID, []string{"A", "C"}, "a and c", time.Now()); err != nil {
		t.Fatalf("ReplaceAnswerKey: %v", err)
	}

	resp = postJSON(t, srv.URL+"/api/exams/exam42/submissions", map[string]any{
		"attempt_token": attempt.AttemptToken,
		"answers": []model.Submission{
			{QuestionID: 201, Answers: []string{"B"}},
			{QuestionID: 202, Answers: []string{"C", "A"}},
			{QuestionID: 203, Answers: []string{"A"}},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/exams/exam42/result?attempt=" + attempt.AttemptToken)
	if err != nil {
		t.Fatalf("GET result: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result status = %d", resp.StatusCode)
	}
	result := decode[struct {
		Score   int                   `json:"score"`
		Total   int                   `json:"total"`
		Details []model.ScoringDetail `json:"details"`
	}](t, resp)

	// Q201 right, Q202 right (order-independent), Q203 has no key yet.
	if result.Score != 2 || result.Total != 3 {
		t.Errorf("score = %d/%d, want 2/3", result.Score, result.Total)
	}
	if len(result.Details) != 3 {
		t.Errorf("details = %d entries, want 3", len(result.Details))
	}
}

func TestRoomMatesShareQuestionOrder(t *testing.T) {
	srv, s := newTestServer(t)
	importFixture(t, s)

	resp := postJSON(t, srv.URL+"/api/rooms", map[string]string{"name": "batch 1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room status = %d", resp.StatusCode)
	}
	room := decode[model.ExamRoom](t, resp)

	makeAttempt := func(name string) model.ExamAttempt {
		resp := postJSON(t, srv.URL+"/api/exams/exam42/attempts", map[string]string{
			"display_name": name,
			"room_code":    room.RoomCode,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create attempt status = %d", resp.StatusCode)
		}
		return decode[model.ExamAttempt](t, resp)
	}

	alice := makeAttempt("alice")
	bob := makeAttempt("bob")
	if alice.AttemptToken == bob.AttemptToken {
		t.Fatal("distinct candidates must get distinct attempts")
	}

	aliceExam := getExam(t, srv, alice.AttemptToken)
	bobExam := getExam(t, srv, bob.AttemptToken)
	if !reflect.DeepEqual(questionOrder(aliceExam), questionOrder(bobExam)) {
		t.Errorf("room mates must share question order: %v vs %v",
			questionOrder(aliceExam), questionOrder(bobExam))
	}
	for i := range aliceExam.Questions {
		if !reflect.DeepEqual(aliceExam.Questions[i].Choices, bobExam.Questions[i].Choices) {
			t.Errorf("room mates must share choice order for question %d", aliceExam.Questions[i].ID)
		}
	}
}

func TestSubmitUnknownAttempt(t *testing.T) {
	srv, s := newTestServer(t)
	importFixture(t, s)

	resp := postJSON(t, srv.URL+"/api/exams/exam42/submissions", map[string]any{
		"attempt_token": "bogus",
		"answers":       []model.Submission{},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestFetchEndpointWithoutBackends(t *testing.T) {
	srv, s := newTestServer(t)
	importFixture(t, s)

	resp := postJSON(t, srv.URL+"/api/exams/exam42/answer-keys", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when no backends are configured", resp.StatusCode)
	}
}
