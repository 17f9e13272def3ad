package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"examkey/internal/model"

	_ "modernc.org/sqlite"
)

// Store persists exam sessions, questions, choices, attempts, and the
// canonical answer key. It is the only writer of correct-answer rows.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exam_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash_id TEXT NOT NULL UNIQUE,
		external_exam_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		time_limit_seconds INTEGER NOT NULL DEFAULT 0,
		total_questions INTEGER NOT NULL DEFAULT 0,
		number_pass INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		external_question_id INTEGER NOT NULL,
		question_type TEXT NOT NULL,
		body TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		answers_fetched_at DATETIME,
		FOREIGN KEY (session_id) REFERENCES exam_sessions(id)
	);

	CREATE TABLE IF NOT EXISTS question_choices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id INTEGER NOT NULL,
		choice_key TEXT NOT NULL,
		label TEXT NOT NULL,
		UNIQUE (question_id, choice_key),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS question_correct_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id INTEGER NOT NULL,
		choice_key TEXT NOT NULL,
		UNIQUE (question_id, choice_key),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS exam_rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		starts_at DATETIME,
		ends_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS exam_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		room_id INTEGER,
		attempt_token TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		submissions TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES exam_sessions(id),
		FOREIGN KEY (room_id) REFERENCES exam_rooms(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ImportSession persists an exam payload (session, questions, choices) in
// one transaction. Importing the same hash id twice is rejected.
func (s *Store) ImportSession(ctx context.Context, imp model.SessionImport) (int64, error) {
	if imp.HashID == "" {
		return 0, fmt.Errorf("import: hashId is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO exam_sessions (hash_id, external_exam_id, title, description, time_limit_seconds, total_questions, number_pass, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		imp.HashID, imp.Exam.ID, imp.Exam.Title, imp.Exam.Description,
		imp.Exam.Time, imp.Exam.TotalQuestions, imp.Exam.NumberPass, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	sessionID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, qi := range imp.Questions {
		qtype := qi.Type
		if !qtype.Valid() {
			return 0, fmt.Errorf("question %d: unknown type %q", qi.ID, qi.Type)
		}
		if len(qi.Choices) == 0 {
			return 0, fmt.Errorf("question %d: choices must be non-empty", qi.ID)
		}
		qres, err := tx.ExecContext(ctx,
			`INSERT INTO questions (session_id, external_question_id, question_type, body, explanation)
			 VALUES (?, ?, ?, ?, ?)`,
			sessionID, qi.ID, qtype, qi.Question, qi.Explanation,
		)
		if err != nil {
			return 0, fmt.Errorf("insert question %d: %w", qi.ID, err)
		}
		questionID, err := qres.LastInsertId()
		if err != nil {
			return 0, err
		}
		for _, ci := range qi.Choices {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO question_choices (question_id, choice_key, label) VALUES (?, ?, ?)`,
				questionID, ci.ID, ci.Label,
			)
			if err != nil {
				return 0, fmt.Errorf("insert choice %s of question %d: %w", ci.ID, qi.ID, err)
			}
		}
	}

	return sessionID, tx.Commit()
}

// GetSessionByHash returns the session addressed by its external hash id.
func (s *Store) GetSessionByHash(ctx context.Context, hashID string) (model.ExamSession, error) {
	var sess model.ExamSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, hash_id, external_exam_id, title, description, time_limit_seconds, total_questions, number_pass, created_at
		 FROM exam_sessions WHERE hash_id = ?`, hashID,
	).Scan(&sess.ID, &sess.HashID, &sess.ExternalExamID, &sess.Title, &sess.Description,
		&sess.TimeLimitSeconds, &sess.TotalQuestions, &sess.NumberPass, &sess.CreatedAt)
	return sess, err
}

// QuestionsForSession returns a session's questions in persisted order.
func (s *Store) QuestionsForSession(ctx context.Context, sessionID int64) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, external_question_id, question_type, body, explanation, answers_fetched_at
		 FROM questions WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SessionID, &q.ExternalQuestionID, &q.Type, &q.Body, &q.Explanation, &q.AnswersFetchedAt); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ChoicesForQuestion returns a question's choices ordered by choice key.
// This is the fixed order both the prompt builder and the answer-key
// mapping rely on.
func (s *Store) ChoicesForQuestion(ctx context.Context, questionID int64) ([]model.Choice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question_id, choice_key, label FROM question_choices WHERE question_id = ? ORDER BY choice_key`, questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var choices []model.Choice
	for rows.Next() {
		var c model.Choice
		if err := rows.Scan(&c.ID, &c.QuestionID, &c.Key, &c.Label); err != nil {
			return nil, err
		}
		choices = append(choices, c)
	}
	return choices, rows.Err()
}

// ReplaceAnswerKey atomically replaces a question's correct-answer set,
// stores the explanation, and stamps the fetch time. Delete-then-insert in
// one transaction guarantees idempotence: no stale rows survive a re-fetch
// and no reader observes a partially replaced key.
func (s *Store) ReplaceAnswerKey(ctx context.Context, questionID int64, choiceKeys []string, explanation string, fetchedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM question_correct_answers WHERE question_id = ?`, questionID); err != nil {
		return fmt.Errorf("clear answer key: %w", err)
	}
	for _, key := range choiceKeys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO question_correct_answers (question_id, choice_key) VALUES (?, ?)`,
			questionID, key); err != nil {
			return fmt.Errorf("insert answer key: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE questions SET explanation = ?, answers_fetched_at = ? WHERE id = ?`,
		explanation, fetchedAt, questionID); err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	return tx.Commit()
}

// AnswerKey returns the persisted correct choice keys (sorted) and
// explanation for one question.
func (s *Store) AnswerKey(ctx context.Context, questionID int64) (model.AnswerKey, error) {
	key := model.AnswerKey{QuestionID: questionID}
	rows, err := s.db.QueryContext(ctx,
		`SELECT choice_key FROM question_correct_answers WHERE question_id = ? ORDER BY choice_key`, questionID,
	)
	if err != nil {
		return key, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return key, err
		}
		key.ChoiceKeys = append(key.ChoiceKeys, k)
	}
	if err := rows.Err(); err != nil {
		return key, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT explanation FROM questions WHERE id = ?`, questionID).Scan(&key.Explanation)
	return key, err
}

// CanonicalForSession returns the answer key for every question in a
// session, keyed by external question id (the id submissions carry), plus
// the stored explanations.
func (s *Store) CanonicalForSession(ctx context.Context, sessionID int64) (map[int64][]string, map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.external_question_id, q.explanation, a.choice_key
		 FROM questions q
		 LEFT JOIN question_correct_answers a ON a.question_id = q.id
		 WHERE q.session_id = ?
		 ORDER BY q.external_question_id, a.choice_key`, sessionID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	canonical := make(map[int64][]string)
	explanations := make(map[int64]string)
	for rows.Next() {
		var (
			extID       int64
			explanation string
			choiceKey   sql.NullString
		)
		if err := rows.Scan(&extID, &explanation, &choiceKey); err != nil {
			return nil, nil, err
		}
		if _, ok := canonical[extID]; !ok {
			canonical[extID] = nil
			explanations[extID] = explanation
		}
		if choiceKey.Valid {
			canonical[extID] = append(canonical[extID], choiceKey.String)
		}
	}
	return canonical, explanations, rows.Err()
}

// CreateRoom creates an exam room with a generated room code.
func (s *Store) CreateRoom(ctx context.Context, name string, startsAt, endsAt *time.Time) (model.ExamRoom, error) {
	room := model.ExamRoom{
		RoomCode: uuid.NewString()[:8],
		Name:     name,
		StartsAt: startsAt,
		EndsAt:   endsAt,
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_rooms (room_code, name, starts_at, ends_at) VALUES (?, ?, ?, ?)`,
		room.RoomCode, room.Name, room.StartsAt, room.EndsAt,
	)
	if err != nil {
		return model.ExamRoom{}, err
	}
	room.ID, err = res.LastInsertId()
	return room, err
}

// GetRoom returns a room by id.
func (s *Store) GetRoom(ctx context.Context, id int64) (model.ExamRoom, error) {
	var room model.ExamRoom
	err := s.db.QueryRowContext(ctx,
		`SELECT id, room_code, name, starts_at, ends_at FROM exam_rooms WHERE id = ?`, id,
	).Scan(&room.ID, &room.RoomCode, &room.Name, &room.StartsAt, &room.EndsAt)
	return room, err
}

// GetRoomByCode returns the room addressed by its code.
func (s *Store) GetRoomByCode(ctx context.Context, code string) (model.ExamRoom, error) {
	var room model.ExamRoom
	err := s.db.QueryRowContext(ctx,
		`SELECT id, room_code, name, starts_at, ends_at FROM exam_rooms WHERE room_code = ?`, code,
	).Scan(&room.ID, &room.RoomCode, &room.Name, &room.StartsAt, &room.EndsAt)
	return room, err
}

// FindOrCreateAttempt returns the candidate's attempt for a session (scoped
// to a room when given), creating it with a fresh token on first access.
func (s *Store) FindOrCreateAttempt(ctx context.Context, sessionID int64, roomID *int64, displayName string) (model.ExamAttempt, error) {
	query := `SELECT id, session_id, room_id, attempt_token, display_name, submissions, created_at
	          FROM exam_attempts WHERE session_id = ? AND display_name = ?`
	args := []any{sessionID, displayName}
	if roomID != nil {
		query += ` AND room_id = ?`
		args = append(args, *roomID)
	} else {
		query += ` AND room_id IS NULL`
	}

	var a model.ExamAttempt
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.SessionID, &a.RoomID, &a.AttemptToken, &a.DisplayName, &a.SubmissionsJSON, &a.CreatedAt)
	if err == nil {
		return a, nil
	}
	if err != sql.ErrNoRows {
		return model.ExamAttempt{}, err
	}

	a = model.ExamAttempt{
		SessionID:    sessionID,
		RoomID:       roomID,
		AttemptToken: uuid.NewString(),
		DisplayName:  displayName,
		CreatedAt:    time.Now(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_attempts (session_id, room_id, attempt_token, display_name, submissions, created_at)
		 VALUES (?, ?, ?, ?, '', ?)`,
		a.SessionID, a.RoomID, a.AttemptToken, a.DisplayName, a.CreatedAt,
	)
	if err != nil {
		return model.ExamAttempt{}, err
	}
	a.ID, err = res.LastInsertId()
	return a, err
}

// GetAttemptByToken returns an attempt by its token, scoped to a session.
func (s *Store) GetAttemptByToken(ctx context.Context, sessionID int64, token string) (model.ExamAttempt, error) {
	var a model.ExamAttempt
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, room_id, attempt_token, display_name, submissions, created_at
		 FROM exam_attempts WHERE session_id = ? AND attempt_token = ?`, sessionID, token,
	).Scan(&a.ID, &a.SessionID, &a.RoomID, &a.AttemptToken, &a.DisplayName, &a.SubmissionsJSON, &a.CreatedAt)
	return a, err
}

// AttemptsForSession returns all attempts for a session.
func (s *Store) AttemptsForSession(ctx context.Context, sessionID int64) ([]model.ExamAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, room_id, attempt_token, display_name, submissions, created_at
		 FROM exam_attempts WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.ExamAttempt
	for rows.Next() {
		var a model.ExamAttempt
		if err := rows.Scan(&a.ID, &a.SessionID, &a.RoomID, &a.AttemptToken, &a.DisplayName, &a.SubmissionsJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// SaveSubmissions overwrites the attempt's submission payload. New
// submissions replace old ones, they do not accumulate.
func (s *Store) SaveSubmissions(ctx context.Context, attemptID int64, subs []model.Submission) error {
	payload, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("marshal submissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE exam_attempts SET submissions = ? WHERE id = ?`, string(payload), attemptID)
	return err
}

// Submissions decodes an attempt's stored submission payload.
func Submissions(a model.ExamAttempt) ([]model.Submission, error) {
	if a.SubmissionsJSON == "" {
		return nil, nil
	}
	var subs []model.Submission
	if err := json.Unmarshal([]byte(a.SubmissionsJSON), &subs); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	return subs, nil
}
