package model

import "time"

// QuestionType says how many choices a question expects to be correct.
type QuestionType string

const (
	// SingleChoice questions have exactly one correct choice.
	SingleChoice QuestionType = "single_choice"
	// MultiChoice questions may have several correct choices.
	MultiChoice QuestionType = "multi_choice"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	return t == SingleChoice || t == MultiChoice
}

// ExamSession is one importable exam: a title plus an ordered question set.
// Sessions are addressed externally by HashID.
type ExamSession struct {
	ID               int64     `json:"id"`
	HashID           string    `json:"hash_id"`
	ExternalExamID   int64     `json:"external_exam_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	TimeLimitSeconds int       `json:"time_limit_seconds"`
	TotalQuestions   int       `json:"total_questions"`
	NumberPass       int       `json:"number_pass"`
	CreatedAt        time.Time `json:"created_at"`
}

// Question is a multiple choice question belonging to a session.
// Type is fixed at creation; choices are a non-empty ordered sequence.
type Question struct {
	ID                 int64        `json:"id"`
	SessionID          int64        `json:"session_id"`
	ExternalQuestionID int64        `json:"external_question_id"`
	Type               QuestionType `json:"type"`
	Body               string       `json:"body"`
	Explanation        string       `json:"explanation"`
	AnswersFetchedAt   *time.Time   `json:"answers_fetched_at,omitempty"`
}

// Choice is one selectable option of a question. Key is unique within the
// owning question (letter-coded: "A", "B", ...).
type Choice struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"question_id"`
	Key        string `json:"key"`
	Label      string `json:"label"`
}

// ExamRoom groups candidates so they all see the same question order.
type ExamRoom struct {
	ID       int64      `json:"id"`
	RoomCode string     `json:"room_code"`
	Name     string     `json:"name"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// Started reports whether the room's exam window has opened.
func (r ExamRoom) Started() bool {
	return r.StartsAt == nil || !time.Now().Before(*r.StartsAt)
}

// Expired reports whether the room's exam window has closed.
func (r ExamRoom) Expired() bool {
	return r.EndsAt != nil && time.Now().After(*r.EndsAt)
}

// ExamAttempt is one candidate's run at a session, optionally inside a room.
// Submissions are stored as a JSON payload and overwritten on resubmit.
type ExamAttempt struct {
	ID              int64     `json:"id"`
	SessionID       int64     `json:"session_id"`
	RoomID          *int64    `json:"room_id,omitempty"`
	AttemptToken    string    `json:"attempt_token"`
	DisplayName     string    `json:"display_name"`
	SubmissionsJSON string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// Submission is a candidate's selection for one question. Answers holds one
// choice key for single-choice questions and one or more for multi-choice.
type Submission struct {
	QuestionID int64    `json:"question_id"`
	Answers    []string `json:"answers"`
}

// ScoringDetail is the per-question outcome of a scoring call. Ephemeral,
// recomputed on every result view.
type ScoringDetail struct {
	QuestionID     int64    `json:"question_id"`
	Correct        bool     `json:"correct"`
	UserAnswers    []string `json:"user_answers"`
	CorrectAnswers []string `json:"correct_answers"`
	Explanation    string   `json:"explanation,omitempty"`
}

// AnswerKey is the persisted canonical answer for one question.
type AnswerKey struct {
	QuestionID  int64    `json:"question_id"`
	ChoiceKeys  []string `json:"choice_keys"`
	Explanation string   `json:"explanation"`
}

// FetchError records why the answer-key fetch for one question failed.
type FetchError struct {
	QuestionID int64  `json:"question_id"`
	Error      string `json:"error"`
}

// FetchReport aggregates a session-level answer-key fetch. A failed question
// never aborts the batch, so Success+len(Errors) == Total.
type FetchReport struct {
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Errors  []FetchError `json:"errors"`
}
