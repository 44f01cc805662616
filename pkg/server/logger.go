package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-researcher/pkg/session"
)

// SessionLogHandler is a slog.Handler that records log lines into a
// session's run log and passes them on to the next handler.
type SessionLogHandler struct {
	Store     session.Store
	SessionID uuid.UUID
	next      slog.Handler
	attrs     []slog.Attr
	group     string
}

func NewSessionLogHandler(store session.Store, id uuid.UUID, next slog.Handler) *SessionLogHandler {
	return &SessionLogHandler{
		Store:     store,
		SessionID: id,
		next:      next,
	}
}

func (h *SessionLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true // the session log keeps everything
}

func (h *SessionLogHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = attrValue(a.Value)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	// Stored with a background context so entries survive a cancelled request.
	err := h.Store.AppendLog(context.Background(), h.SessionID, session.LogEntry{
		Time:    ts,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   attrs,
	})

	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		r = r.Clone()
		r.AddAttrs(slog.String("session_id", h.SessionID.String()))
		if nextErr := h.next.Handle(ctx, r); nextErr != nil && err == nil {
			err = nextErr
		}
	}
	return err
}

func (h *SessionLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	if h.next != nil {
		c.next = h.next.WithAttrs(attrs)
	}
	return &c
}

func (h *SessionLogHandler) WithGroup(name string) slog.Handler {
	c := *h
	if h.group != "" {
		c.group = h.group + "." + name
	} else {
		c.group = name
	}
	if h.next != nil {
		c.next = h.next.WithGroup(name)
	}
	return &c
}

func (h *SessionLogHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

// attrValue keeps errors readable once the entry is encoded as JSON.
func attrValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return v.Any()
}
