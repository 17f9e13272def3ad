package model

// SessionImport is the exam payload supplied by the surrounding
// application. Field names follow its wire format.
type SessionImport struct {
	HashID    string           `json:"hashId"`
	Language  string           `json:"language"`
	StartTime string           `json:"startTime"`
	Exam      ExamImport       `json:"exam"`
	Questions []QuestionImport `json:"questions"`
}

// ExamImport carries exam-level metadata.
type ExamImport struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Time           int    `json:"time"`
	TotalQuestions int    `json:"totalQuestions"`
	NumberPass     int    `json:"numberPass"`
}

// QuestionImport is one question in the import payload.
type QuestionImport struct {
	ID          int64          `json:"id"`
	Type        QuestionType   `json:"type"`
	Question    string         `json:"question"`
	Explanation string         `json:"explanation"`
	Choices     []ChoiceImport `json:"choices"`
}

// ChoiceImport is one choice in the import payload. ID is the letter-coded
// choice key ("A", "B", ...).
type ChoiceImport struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}
