package session

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

const titleLength = 40

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Session struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Query     string    `json:"query"`
	History   []Message `json:"history"`
	Questions []string  `json:"questions"`
	Result    string    `json:"result"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LogEntry is one log record captured during a session's pipeline run.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Store keeps research sessions: their chat history, the current plan and
// the last report.
type Store interface {
	Create(ctx context.Context, query string) (*Session, error)
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	List(ctx context.Context) ([]Session, error)
	AppendMessage(ctx context.Context, id uuid.UUID, role, content string) error
	SetQuestions(ctx context.Context, id uuid.UUID, questions []string) error
	SetResult(ctx context.Context, id uuid.UUID, result string, sources []string) error
	StartQuery(ctx context.Context, id uuid.UUID, query string) error
	AppendLog(ctx context.Context, id uuid.UUID, entry LogEntry) error
	Logs(ctx context.Context, id uuid.UUID) ([]LogEntry, error)
}

type record struct {
	session Session
	logs    []LogEntry
}

// MemoryStore is an in-process Store. Values handed out are copies.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*record
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*record),
		now:      time.Now,
	}
}

// Create opens a session for query. The title is the first 40 characters
// of the query and the query is recorded as the first user message.
func (s *MemoryStore) Create(ctx context.Context, query string) (*Session, error) {
	now := s.now()
	sess := Session{
		ID:        uuid.New(),
		Title:     title(query),
		Query:     query,
		History:   []Message{{Role: RoleUser, Content: query, CreatedAt: now}},
		Questions: []string{},
		Sources:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &record{session: sess}
	s.mu.Unlock()

	out := clone(sess)
	return &out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(r.session)
	return &out, nil
}

// List returns all sessions, most recently updated first.
func (s *MemoryStore) List(ctx context.Context) ([]Session, error) {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, r := range s.sessions {
		out = append(out, clone(r.session))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, id uuid.UUID, role, content string) error {
	return s.update(id, func(sess *Session, now time.Time) {
		sess.History = append(sess.History, Message{Role: role, Content: content, CreatedAt: now})
	})
}

func (s *MemoryStore) SetQuestions(ctx context.Context, id uuid.UUID, questions []string) error {
	return s.update(id, func(sess *Session, _ time.Time) {
		sess.Questions = append([]string{}, questions...)
	})
}

func (s *MemoryStore) SetResult(ctx context.Context, id uuid.UUID, result string, sources []string) error {
	return s.update(id, func(sess *Session, _ time.Time) {
		sess.Result = result
		sess.Sources = append([]string{}, sources...)
	})
}

// StartQuery makes query the session's active query: the plan, result and
// sources of the previous query are cleared and the query is appended to
// the history.
func (s *MemoryStore) StartQuery(ctx context.Context, id uuid.UUID, query string) error {
	return s.update(id, func(sess *Session, now time.Time) {
		sess.Query = query
		sess.Questions = []string{}
		sess.Result = ""
		sess.Sources = []string{}
		sess.History = append(sess.History, Message{Role: RoleUser, Content: query, CreatedAt: now})
	})
}

func (s *MemoryStore) AppendLog(ctx context.Context, id uuid.UUID, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	r.logs = append(r.logs, entry)
	return nil
}

func (s *MemoryStore) Logs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(r.logs), nil
}

func (s *MemoryStore) update(id uuid.UUID, fn func(sess *Session, now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	fn(&r.session, now)
	r.session.UpdatedAt = now
	return nil
}

func title(query string) string {
	runes := []rune(query)
	if len(runes) > titleLength {
		runes = runes[:titleLength]
	}
	return string(runes)
}

func clone(s Session) Session {
	s.History = slices.Clone(s.History)
	s.Questions = slices.Clone(s.Questions)
	s.Sources = slices.Clone(s.Sources)
	return s
}
