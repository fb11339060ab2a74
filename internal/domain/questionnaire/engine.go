package questionnaire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// CompletionRecorder receives the finished answer set. Implemented by
// *engagement.Store.
type CompletionRecorder interface {
	RecordQuestionnaireCompletion(ctx context.Context, id shared.UserID, answers map[string]string) error
}

// Status is the outcome of one Submit.
type Status int

const (
	// StatusNext means the answer was accepted and another question follows.
	StatusNext Status = iota
	// StatusRejected means the answer failed validation; the index is unchanged.
	StatusRejected
	// StatusComplete means the last answer was accepted and the session is gone.
	StatusComplete
)

// Prompt is the question to show next.
type Prompt struct {
	Index    int // 0-based
	Total    int
	Question Question
}

// Text renders the prompt with a step counter.
func (p Prompt) Text() string {
	return fmt.Sprintf("Вопрос %d из %d\n\n%s", p.Index+1, p.Total, p.Question.Prompt)
}

// Completion is produced exactly once per finished session.
type Completion struct {
	UserID      shared.UserID
	Answers     map[string]string
	CompletedAt time.Time
	Report      string
	Results     []ResultItem
	// Recorded is false when the store ignored the answers (unknown user).
	Recorded bool
}

// Outcome describes what happened to a submitted answer.
type Outcome struct {
	Status     Status
	Next       *Prompt
	Reason     string
	Completion *Completion
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Questions []Question
	Sessions  *SessionTable
	// ResultCount is the length of the simulated result listing.
	ResultCount int
	Logger      *slog.Logger
}

// Engine drives sessions through the question list.
type Engine struct {
	questions   []Question
	sessions    *SessionTable
	recorder    CompletionRecorder
	resultCount int
	logger      *slog.Logger
}

// NewEngine creates an engine recording completions into recorder.
func NewEngine(recorder CompletionRecorder, cfg EngineConfig) *Engine {
	if len(cfg.Questions) == 0 {
		cfg.Questions = DefaultQuestions()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionTable(DefaultSessionTableConfig())
	}
	if cfg.ResultCount <= 0 {
		cfg.ResultCount = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		questions:   cfg.Questions,
		sessions:    cfg.Sessions,
		recorder:    recorder,
		resultCount: cfg.ResultCount,
		logger:      cfg.Logger.With(slog.String("component", "questionnaire")),
	}
}

// Questions returns the configured form.
func (e *Engine) Questions() []Question {
	return e.questions
}

// Start opens a fresh session for id, discarding any previous one, and
// returns the first question.
func (e *Engine) Start(id shared.UserID) Prompt {
	_, evicted := e.sessions.Open(id)
	if evicted != nil {
		e.logger.Warn("session table full, evicted oldest session",
			slog.Int64("evicted_user_id", evicted.Int64()),
		)
	}
	e.logger.Debug("questionnaire started", slog.Int64("user_id", id.Int64()))
	return e.prompt(0)
}

// Active reports whether id has a live session.
func (e *Engine) Active(id shared.UserID) bool {
	_, err := e.sessions.Get(id)
	return err == nil
}

// Current returns the question id is expected to answer.
func (e *Engine) Current(id shared.UserID) (Prompt, error) {
	s, err := e.sessions.Get(id)
	if err != nil {
		return Prompt{}, err
	}
	return e.prompt(s.Index), nil
}

// SweepExpired drops abandoned sessions.
func (e *Engine) SweepExpired() int {
	return e.sessions.Sweep()
}

// OpenSessions returns the session table size.
func (e *Engine) OpenSessions() int {
	return e.sessions.Len()
}

// Cancel abandons the session of id.
func (e *Engine) Cancel(id shared.UserID) bool {
	return e.sessions.Delete(id)
}

// Submit validates text against the current question of id's session.
//
// Errors are returned only for a missing or expired session; a rejected
// answer is reported through StatusRejected.
func (e *Engine) Submit(ctx context.Context, id shared.UserID, text string) (Outcome, error) {
	s, err := e.sessions.Get(id)
	if err != nil {
		return Outcome{}, err
	}
	if s.Index < 0 || s.Index >= len(e.questions) {
		e.sessions.Delete(id)
		return Outcome{}, shared.NewDomainError("questionnaire", "Submit", shared.ErrInvalidState, "session index out of range")
	}

	q := e.questions[s.Index]
	value, err := q.Validate(text)
	if err != nil {
		reason := err.Error()
		if ve, ok := shared.AsValidation(err); ok {
			reason = ve.Reason
		}
		e.logger.Debug("answer rejected",
			slog.Int64("user_id", id.Int64()),
			slog.String("field", q.Field),
			slog.String("type", q.Type.String()),
		)
		return Outcome{Status: StatusRejected, Reason: reason, Next: ptr(e.prompt(s.Index))}, nil
	}

	s.Answers[q.Field] = value
	if s.Index+1 < len(e.questions) {
		s.Index++
		e.sessions.Put(s)
		return Outcome{Status: StatusNext, Next: ptr(e.prompt(s.Index))}, nil
	}

	// Drop the session before recording so the form completes exactly once.
	e.sessions.Delete(id)
	return Outcome{Status: StatusComplete, Completion: e.complete(ctx, s)}, nil
}

func (e *Engine) complete(ctx context.Context, s Session) *Completion {
	c := &Completion{
		UserID:      s.UserID,
		Answers:     s.Answers,
		CompletedAt: e.sessions.now(),
		Recorded:    true,
	}

	if err := e.recorder.RecordQuestionnaireCompletion(ctx, s.UserID, s.Answers); err != nil {
		c.Recorded = false
		level := slog.LevelError
		if errors.Is(err, shared.ErrUnknownUser) {
			level = slog.LevelWarn
		}
		e.logger.Log(ctx, level, "failed to record questionnaire",
			slog.Int64("user_id", s.UserID.Int64()),
			slog.String("error", err.Error()),
		)
	}

	c.Results = SimulateResults(s.Answers, e.resultCount)
	c.Report = BuildCompletionReport(e.questions, s.Answers, c.Results)
	return c
}

func (e *Engine) prompt(i int) Prompt {
	return Prompt{Index: i, Total: len(e.questions), Question: e.questions[i]}
}

func ptr[T any](v T) *T {
	return &v
}
