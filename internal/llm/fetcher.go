package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"examkey/internal/model"
)

// AnswerStore is the canonical answer store contract the fetcher needs:
// read a question's choices in their fixed order, and atomically replace
// its answer key.
type AnswerStore interface {
	QuestionsForSession(ctx context.Context, sessionID int64) ([]model.Question, error)
	ChoicesForQuestion(ctx context.Context, questionID int64) ([]model.Choice, error)
	ReplaceAnswerKey(ctx context.Context, questionID int64, choiceKeys []string, explanation string, fetchedAt time.Time) error
}

// Fetcher acquires AI answer keys: build prompt, walk the backend chain,
// extract, persist. Backends are tried one at a time, never concurrently;
// a wrong answer persisted early is worse than a slow correct one.
type Fetcher struct {
	store    AnswerStore
	backends []TextBackend
	workers  int
}

// NewFetcher creates a Fetcher. workers bounds the per-question parallelism
// of FetchSession; values below 1 fall back to a small default.
func NewFetcher(store AnswerStore, backends []TextBackend, workers int) *Fetcher {
	if workers < 1 {
		workers = 4
	}
	return &Fetcher{store: store, backends: backends, workers: workers}
}

// FetchAndSave acquires and persists the answer key for one question.
// It returns the number of correct choices stored. Persistence is a full
// replace plus timestamp update in one transaction, so re-fetching is
// idempotent and readers never observe a partial key.
func (f *Fetcher) FetchAndSave(ctx context.Context, q model.Question) (int, error) {
	choices, err := f.store.ChoicesForQuestion(ctx, q.ID)
	if err != nil {
		return 0, fmt.Errorf("load choices: %w", err)
	}
	if len(choices) == 0 {
		return 0, fmt.Errorf("question %d has no choices", q.ID)
	}

	prompt := BuildPrompt(q.Body, choices, q.Type)
	ext, err := f.generate(ctx, prompt, q.Type)
	if err != nil {
		return 0, err
	}

	// Map 0-based indices back to the stored choice keys, in the same
	// order the prompt numbered them. Out-of-range indices are dropped.
	keys := make([]string, 0, len(ext.Indices))
	for _, idx := range ext.Indices {
		if idx >= len(choices) {
			continue
		}
		keys = append(keys, choices[idx].Key)
	}

	if err := f.store.ReplaceAnswerKey(ctx, q.ID, keys, ext.Explanation, time.Now()); err != nil {
		return 0, fmt.Errorf("persist answer key: %w", err)
	}
	return len(keys), nil
}

// generate walks the ordered backend chain with a shared prompt. Only an
// InvalidResponse with a retryable signature moves past the primary; any
// InvalidResponse from a fallback skips to the next. When the chain is
// exhausted the FIRST error is reported, so the failure reflects the
// primary attempt. Credential and transport errors are never retried.
func (f *Fetcher) generate(ctx context.Context, prompt string, qtype model.QuestionType) (Extraction, error) {
	if len(f.backends) == 0 {
		return Extraction{}, fmt.Errorf("no text-generation backends configured")
	}

	var firstErr error
	for i, backend := range f.backends {
		text, err := backend.Generate(ctx, prompt)
		if err == nil {
			var ext Extraction
			ext, err = Extract(text, qtype)
			if err == nil {
				if i > 0 {
					slog.Info("answer key recovered via fallback", "backend", backend.Name())
				}
				return ext, nil
			}
		}

		ir := invalidResponse(err)
		if ir == nil {
			return Extraction{}, err
		}
		if firstErr == nil {
			firstErr = err
		}
		if i == 0 && !ir.Retryable() {
			return Extraction{}, err
		}
		slog.Warn("backend failed, trying next", "backend", backend.Name(), "error", ir.Msg)
	}
	return Extraction{}, firstErr
}

// FetchSession fetches answer keys for every question in a session. Each
// question is independent: fetches run across a bounded worker pool and one
// failure never aborts the batch.
func (f *Fetcher) FetchSession(ctx context.Context, sessionID int64) (model.FetchReport, error) {
	questions, err := f.store.QuestionsForSession(ctx, sessionID)
	if err != nil {
		return model.FetchReport{}, fmt.Errorf("load questions: %w", err)
	}

	report := model.FetchReport{Total: len(questions)}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, f.workers)
	)

	for _, q := range questions {
		wg.Add(1)
		go func(q model.Question) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			count, err := f.FetchAndSave(ctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, model.FetchError{
					QuestionID: q.ExternalQuestionID,
					Error:      err.Error(),
				})
				return
			}
			report.Success++
			slog.Debug("answer key stored", "question_id", q.ExternalQuestionID, "correct_count", count)
		}(q)
	}
	wg.Wait()

	sort.Slice(report.Errors, func(i, j int) bool {
		return report.Errors[i].QuestionID < report.Errors[j].QuestionID
	})
	return report, nil
}
