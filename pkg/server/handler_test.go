package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-researcher/pkg/research"
	"github.com/mikeboe/deep-researcher/pkg/research/tools"
	"github.com/mikeboe/deep-researcher/pkg/session"
)

// stubModel answers each pipeline stage by looking at its system prompt.
type stubModel struct{}

func (stubModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	var system, user string
	for _, m := range msgs {
		text := m.Parts[0].(llms.TextContent).Text
		if m.Role == llms.ChatMessageTypeSystem {
			system = text
		} else {
			user = text
		}
	}

	if opts.StreamingFunc != nil {
		var full strings.Builder
		for _, chunk := range []string{"## Introduction\n", "Streamed.\n", "## Conclusion\n"} {
			full.WriteString(chunk)
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full.String()}}}, nil
	}

	var reply string
	switch {
	case strings.Contains(system, "Classify"):
		reply = "NORMAL"
	case strings.Contains(system, "Research Planner"):
		reply = `{"sub_questions": ["Q1", "Q2", "Q3", "Q4", "Q5", "Q6"]}`
	case strings.Contains(system, "research writer"):
		reply = "A section."
	case strings.Contains(system, "senior research analyst"):
		reply = "## Introduction\n## Key Findings\n## Implications and Challenges\n## Conclusion"
	default:
		reply = "echo: " + user
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type stubSearcher struct{}

func (stubSearcher) Search(ctx context.Context, query string, maxResults int) ([]tools.SearchResult, error) {
	return []tools.SearchResult{
		{URL: "https://example.com/" + query, Content: "about " + query},
		{URL: "https://example.com/shared", Content: "shared"},
	}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := research.New(stubModel{}, stubSearcher{}, research.DefaultConfig())
	svc := NewService(engine, session.NewMemoryStore())
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r)
	return r, svc
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// readEvents decodes the "data: " frames of an SSE body.
func readEvents(t *testing.T, body string) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestResearch(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantIntent research.Intent
	}{
		{"plan query", `{"query": "impact of AI on jobs"}`, http.StatusOK, research.IntentPlan},
		{"chat query", `{"query": "hello"}`, http.StatusOK, research.IntentNormal},
		{"missing query", `{}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/api/research", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var res research.Result
			if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if res.Intent != tt.wantIntent {
				t.Errorf("intent = %q, want %q", res.Intent, tt.wantIntent)
			}
		})
	}
}

func TestResearchStream(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/research/stream", `{"query": "impact of AI on jobs"}`)
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := readEvents(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Type != "progress" {
		t.Errorf("first event = %q, want progress", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != "result" {
		t.Fatalf("last event = %q, want result", last.Type)
	}
	payload := last.Payload.(map[string]interface{})
	sources := payload["sources"].([]interface{})
	if sources[0] != "https://example.com/Q1" && sources[0] != "https://example.com/Q2" {
		t.Errorf("unexpected sources %v", sources)
	}
}

func TestSessionReportFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/sessions", `{"query": "Benefits of remote work for small companies today"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var sess session.Session
	_ = json.Unmarshal(w.Body.Bytes(), &sess)
	if sess.Title != "Benefits of remote work for small compan" {
		t.Errorf("title = %q", sess.Title)
	}
	if len(sess.Questions) != 6 {
		t.Errorf("got %d questions, want 6", len(sess.Questions))
	}

	base := "/api/sessions/" + sess.ID.String()

	w = doRequest(r, http.MethodPost, base+"/report", `{"mode": "fast", "questions": [{"question": "Edited 1"}, "Edited 2", "Edited 3"]}`)
	events := readEvents(t, w.Body.String())
	var snapshots int
	for _, ev := range events {
		if ev.Type == "snapshot" {
			snapshots++
		}
		if ev.Type == "error" {
			t.Fatalf("report failed: %v", ev.Payload)
		}
	}
	if snapshots != 3 {
		t.Errorf("got %d snapshots, want 3", snapshots)
	}
	if done := events[len(events)-1]; done.Type != "done" {
		t.Fatalf("last event = %q, want done", done.Type)
	}

	w = doRequest(r, http.MethodGet, base, "")
	_ = json.Unmarshal(w.Body.Bytes(), &sess)
	wantReport := "## Introduction\nStreamed.\n## Conclusion\n"
	if sess.Result != wantReport {
		t.Errorf("stored result = %q", sess.Result)
	}
	if fmt.Sprint(sess.Questions) != "[Edited 1 Edited 2 Edited 3]" {
		t.Errorf("edited questions not stored: %v", sess.Questions)
	}
	if len(sess.History) != 2 || sess.History[1].Content != "### 📘 Research Report\n"+wantReport {
		t.Errorf("unexpected history %+v", sess.History)
	}
	wantSources := "[https://example.com/Edited 1 https://example.com/Edited 2 https://example.com/shared]"
	if fmt.Sprint(sess.Sources) != wantSources {
		t.Errorf("sources = %v", sess.Sources)
	}

	w = doRequest(r, http.MethodGet, base+"/report.txt", "")
	if w.Body.String() != wantReport {
		t.Errorf("export body = %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "research_report.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	w = doRequest(r, http.MethodGet, base+"/logs", "")
	var logs []session.LogEntry
	_ = json.Unmarshal(w.Body.Bytes(), &logs)
	if len(logs) == 0 {
		t.Error("no logs captured for the session")
	}

	w = doRequest(r, http.MethodPost, base+"/messages", `{"query": "next question"}`)
	_ = json.Unmarshal(w.Body.Bytes(), &sess)
	if sess.Result != "" || len(sess.Sources) != 0 || sess.Query != "next question" {
		t.Errorf("new query did not reset the session: %+v", sess)
	}
}

func TestSessionErrors(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodPost, "/api/sessions", `{"query": "AI overview"}`)
	var sess session.Session
	_ = json.Unmarshal(w.Body.Bytes(), &sess)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"invalid id", http.MethodGet, "/api/sessions/not-a-uuid", "", http.StatusBadRequest},
		{"unknown id", http.MethodGet, "/api/sessions/" + uuid.NewString(), "", http.StatusNotFound},
		{"unknown id logs", http.MethodGet, "/api/sessions/" + uuid.NewString() + "/logs", "", http.StatusNotFound},
		{"no report yet", http.MethodGet, "/api/sessions/" + sess.ID.String() + "/report.txt", "", http.StatusNotFound},
		{"bad mode", http.MethodPost, "/api/sessions/" + sess.ID.String() + "/report", `{"mode": "slow"}`, http.StatusBadRequest},
		{"bad questions", http.MethodPost, "/api/sessions/" + sess.ID.String() + "/report", `{"questions": "Q1"}`, http.StatusBadRequest},
		{"report unknown id", http.MethodPost, "/api/sessions/" + uuid.NewString() + "/report", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := doRequest(r, tt.method, tt.path, tt.body); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestReplanClearsReport(t *testing.T) {
	r, svc := newTestRouter(t)
	w := doRequest(r, http.MethodPost, "/api/sessions", `{"query": "AI overview"}`)
	var sess session.Session
	_ = json.Unmarshal(w.Body.Bytes(), &sess)
	_ = svc.Store.SetResult(context.Background(), sess.ID, "old", []string{"https://old.example"})

	w = doRequest(r, http.MethodPost, "/api/sessions/"+sess.ID.String()+"/plan", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"sources":[]`) {
		t.Errorf("sources should be an empty list after replan: %s", w.Body.String())
	}
	_ = json.Unmarshal(w.Body.Bytes(), &sess)
	if sess.Result != "" || len(sess.Sources) != 0 || len(sess.Questions) != 6 {
		t.Errorf("unexpected session after replan: %+v", sess)
	}
}

func mcpCall(r http.Handler, sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMCP(t *testing.T) {
	r, _ := newTestRouter(t)

	w := mcpCall(r, "", `{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("call without session: status = %d", w.Code)
	}

	w = mcpCall(r, "", `{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`)
	sid := w.Header().Get("Mcp-Session-Id")
	if sid == "" {
		t.Fatal("initialize did not return a session id")
	}

	w = mcpCall(r, sid, `{"jsonrpc": "2.0", "id": 2, "method": "tools/list"}`)
	var list struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	var names []string
	for _, tool := range list.Result.Tools {
		names = append(names, tool.Name)
	}
	if strings.Join(names, ",") != "research,plan,calculate" {
		t.Errorf("tools = %v", names)
	}

	tests := []struct {
		name     string
		params   string
		wantText string
		wantCode int
	}{
		{"calculate", `{"name": "calculate", "arguments": {"expression": "2+2"}}`, "4", 0},
		{"plan", `{"name": "plan", "arguments": {"query": "AI"}}`, "Q1\nQ2\nQ3\nQ4\nQ5\nQ6", 0},
		{"research chat", `{"name": "research", "arguments": {"query": "hello"}}`, "### 📘 Research Report\necho: hello", 0},
		{"missing query", `{"name": "research", "arguments": {}}`, "", -32602},
		{"unknown tool", `{"name": "search_content", "arguments": {}}`, "", -32601},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := fmt.Sprintf(`{"jsonrpc": "2.0", "id": 3, "method": "tools/call", "params": %s}`, tt.params)
			w := mcpCall(r, sid, body)

			var resp struct {
				Result struct {
					Content []struct {
						Text string `json:"text"`
					} `json:"content"`
				} `json:"result"`
				Error *MCPError `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if tt.wantCode != 0 {
				if resp.Error == nil || resp.Error.Code != tt.wantCode {
					t.Errorf("error = %+v, want code %d", resp.Error, tt.wantCode)
				}
				return
			}
			if resp.Error != nil {
				t.Fatalf("unexpected error %+v", resp.Error)
			}
			if got := resp.Result.Content[0].Text; got != tt.wantText {
				t.Errorf("text = %q, want %q", got, tt.wantText)
			}
		})
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		if w := doRequest(r, http.MethodGet, path, ""); w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", path, w.Code)
		}
	}
}
