package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-researcher/pkg/report"
	"github.com/mikeboe/deep-researcher/pkg/research"
	"github.com/mikeboe/deep-researcher/pkg/session"
)

// Service runs the pipeline on behalf of HTTP callers and keeps the
// session state between requests.
type Service struct {
	Engine *research.Engine
	Store  session.Store
	// LogHandler receives every record of a session run in addition to
	// the session's own log.
	LogHandler slog.Handler
}

func NewService(engine *research.Engine, store session.Store) *Service {
	return &Service{
		Engine:     engine,
		Store:      store,
		LogHandler: slog.Default().Handler(),
	}
}

// engineFor returns an engine whose logs are captured into the session.
func (s *Service) engineFor(id uuid.UUID) *research.Engine {
	return s.Engine.WithLogger(slog.New(NewSessionLogHandler(s.Store, id, s.LogHandler)))
}

// Research runs one query through the pipeline without a session.
func (s *Service) Research(ctx context.Context, query string, onProgress research.ProgressFunc) (research.Result, error) {
	return s.Engine.Run(ctx, query, onProgress)
}

// Plan decomposes a query without a session.
func (s *Service) Plan(ctx context.Context, query string) research.Plan {
	return s.Engine.Plan(ctx, query)
}

// CreateSession opens a session for query and plans it.
func (s *Service) CreateSession(ctx context.Context, query string) (*session.Session, error) {
	sess, err := s.Store.Create(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.plan(ctx, sess.ID, query)
}

// Ask starts a new query in an existing session and plans it.
func (s *Service) Ask(ctx context.Context, id uuid.UUID, query string) (*session.Session, error) {
	if err := s.Store.StartQuery(ctx, id, query); err != nil {
		return nil, err
	}
	return s.plan(ctx, id, query)
}

// Replan regenerates the questions for the session's active query and
// clears its previous report.
func (s *Service) Replan(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	sess, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Store.SetResult(ctx, id, "", []string{}); err != nil {
		return nil, err
	}
	return s.plan(ctx, id, sess.Query)
}

func (s *Service) plan(ctx context.Context, id uuid.UUID, query string) (*session.Session, error) {
	plan := s.engineFor(id).Plan(ctx, query)
	if err := s.Store.SetQuestions(ctx, id, plan.SubQuestions); err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, id)
}

// GenerateReport writes the report for a session. Edited questions, when
// given, replace the stored plan first. The finished report is stored and
// recorded once in the chat history.
func (s *Service) GenerateReport(ctx context.Context, id uuid.UUID, questions []string, mode research.Mode, onProgress research.ProgressFunc, onUpdate func(string)) (research.ReportResult, error) {
	sess, err := s.Store.Get(ctx, id)
	if err != nil {
		return research.ReportResult{}, err
	}

	if len(questions) > 0 {
		if err := s.Store.SetQuestions(ctx, id, questions); err != nil {
			return research.ReportResult{}, err
		}
	} else {
		questions = sess.Questions
	}
	if len(questions) == 0 {
		return research.ReportResult{}, fmt.Errorf("session has no research questions")
	}

	res, err := s.engineFor(id).Report(ctx, questions, mode, onProgress, onUpdate)
	if err != nil {
		return res, err
	}

	if err := s.Store.SetResult(ctx, id, res.Report, res.Sources); err != nil {
		return res, err
	}
	if err := s.Store.AppendMessage(ctx, id, session.RoleAssistant, report.AssistantMessage(res.Report)); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) ListSessions(ctx context.Context) ([]session.Session, error) {
	return s.Store.List(ctx)
}

func (s *Service) GetSessionLogs(ctx context.Context, id uuid.UUID) ([]session.LogEntry, error) {
	return s.Store.Logs(ctx, id)
}
