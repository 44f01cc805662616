package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/deep-researcher/pkg/report"
	"github.com/mikeboe/deep-researcher/pkg/research"
	"github.com/mikeboe/deep-researcher/pkg/session"
)

// MCPSession represents an MCP session
type MCPSession struct {
	ID      string
	Created int64
}

// MCPRequest represents an MCP JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an MCP JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StreamEvent is one server-sent event.
type StreamEvent struct {
	Type    string      `json:"type"` // "progress", "snapshot", "result", "done", "error"
	Payload interface{} `json:"payload"`
}

type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// ReportRequest asks for a session report. Questions is optional and may
// hold strings or {question} objects.
type ReportRequest struct {
	Questions json.RawMessage `json:"questions,omitempty"`
	Mode      research.Mode   `json:"mode"`
}

type Handler struct {
	Service *Service

	mcpSessions map[string]*MCPSession
	sessionMu   sync.RWMutex
}

func NewHandler(s *Service) *Handler {
	return &Handler{
		Service:     s,
		mcpSessions: make(map[string]*MCPSession),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/mcp", h.MCPHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/research", h.research)
		api.POST("/research/stream", h.researchStream)

		api.POST("/sessions", h.createSession)
		api.GET("/sessions", h.listSessions)
		api.GET("/sessions/:id", h.getSession)
		api.POST("/sessions/:id/messages", h.ask)
		api.POST("/sessions/:id/plan", h.replan)
		api.POST("/sessions/:id/report", h.generateReport)
		api.GET("/sessions/:id/report.txt", h.exportReport)
		api.GET("/sessions/:id/logs", h.getSessionLogs)
	}
}

// MCPHandler handles MCP protocol requests
func (h *Handler) MCPHandler(c *gin.Context) {
	sessionID := c.GetHeader("Mcp-Session-Id")

	var req MCPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error: &MCPError{
				Code:    -32700,
				Message: "Parse error",
			},
		})
		return
	}

	if req.Method == "initialize" {
		if sessionID == "" {
			sessionID = uuid.New().String()
			c.Header("Mcp-Session-Id", sessionID)

			h.sessionMu.Lock()
			h.mcpSessions[sessionID] = &MCPSession{
				ID:      sessionID,
				Created: time.Now().Unix(),
			}
			h.sessionMu.Unlock()
		}

		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"serverInfo": map[string]interface{}{
					"name":    "deep-researcher-mcp",
					"version": "1.0.0",
				},
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
			},
		})
		return
	}

	if sessionID == "" {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32000,
				Message: "Bad Request: No valid session ID provided",
			},
		})
		return
	}

	h.sessionMu.RLock()
	_, exists := h.mcpSessions[sessionID]
	h.sessionMu.RUnlock()

	if !exists {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32000,
				Message: "Invalid session ID",
			},
		})
		return
	}

	switch req.Method {
	case "tools/list":
		h.handleToolsList(c, req)
	case "tools/call":
		h.handleToolsCall(c, req)
	case "ping":
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		})
	default:
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: "Method not found",
			},
		})
	}
}

func stringProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func (h *Handler) handleToolsList(c *gin.Context, req MCPRequest) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": []map[string]interface{}{
				{
					"name":        "research",
					"description": "Research a question on the web and return a structured report with its sources.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"query": stringProperty("The research question."),
						},
						"required": []string{"query"},
					},
				},
				{
					"name":        "plan",
					"description": "Break a research question into focused sub-questions.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"query": stringProperty("The research question."),
						},
						"required": []string{"query"},
					},
				},
				{
					"name":        "calculate",
					"description": "Evaluate an arithmetic expression.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"expression": stringProperty("Expression using + - * / ** // and parentheses."),
						},
						"required": []string{"expression"},
					},
				},
			},
		},
	})
}

type queryArgs struct {
	Query string `json:"query"`
}

type calculateArgs struct {
	Expression string `json:"expression"`
}

func (h *Handler) handleToolsCall(c *gin.Context, req MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.sendError(c, req.ID, -32602, "Invalid params")
		return
	}

	switch params.Name {
	case "research":
		var args queryArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.Query == "" {
			h.sendError(c, req.ID, -32602, "Invalid arguments")
			return
		}
		res, err := h.Service.Research(c.Request.Context(), args.Query, nil)
		if err != nil {
			h.sendError(c, req.ID, -32603, err.Error())
			return
		}
		h.sendResult(c, req.ID, report.Markdown(res.Report, res.Sources))

	case "plan":
		var args queryArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.Query == "" {
			h.sendError(c, req.ID, -32602, "Invalid arguments")
			return
		}
		plan := h.Service.Plan(c.Request.Context(), args.Query)
		h.sendResult(c, req.ID, plan)

	case "calculate":
		var args calculateArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			h.sendError(c, req.ID, -32602, "Invalid arguments")
			return
		}
		h.sendResult(c, req.ID, research.Calculate(args.Expression))

	default:
		h.sendError(c, req.ID, -32601, fmt.Sprintf("Tool not found: %s", params.Name))
	}
}

func (h *Handler) sendError(c *gin.Context, id interface{}, code int, msg string) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: msg,
		},
	})
}

func (h *Handler) sendResult(c *gin.Context, id interface{}, result interface{}) {
	var textContent string
	switch v := result.(type) {
	case string:
		textContent = v
	case research.Plan:
		textContent = strings.Join(v.SubQuestions, "\n")
	default:
		textContent = fmt.Sprintf("%v", result)
	}

	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": textContent,
				},
			},
		},
	})
}

// --- SSE ---

func startStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Transfer-Encoding", "chunked")
	c.Status(http.StatusOK)
}

func writeEvent(c *gin.Context, event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal stream event", "type", event.Type, "error", err)
		return
	}
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func progressWriter(c *gin.Context) research.ProgressFunc {
	return func(ev research.Event) {
		writeEvent(c, StreamEvent{Type: "progress", Payload: ev})
	}
}

// --- Research ---

func (h *Handler) research(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Service.Research(c.Request.Context(), req.Query, nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) researchStream(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	startStream(c)
	res, err := h.Service.Research(c.Request.Context(), req.Query, progressWriter(c))
	if err != nil {
		writeEvent(c, StreamEvent{Type: "error", Payload: err.Error()})
		return
	}
	writeEvent(c, StreamEvent{Type: "result", Payload: res})
}

// --- Sessions ---

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *Handler) createSession(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.Service.CreateSession(c.Request.Context(), req.Query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.Service.ListSessions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	// Return empty list instead of null
	if sessions == nil {
		sessions = []session.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) getSession(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	sess, err := h.Service.GetSession(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) ask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.Service.Ask(c.Request.Context(), id, req.Query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) replan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	sess, err := h.Service.Replan(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) generateReport(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = research.ModeDeep
	}
	if req.Mode != research.ModeDeep && req.Mode != research.ModeFast {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown mode %q", req.Mode)})
		return
	}

	var questions []string
	if len(req.Questions) > 0 && string(req.Questions) != "null" {
		var err error
		questions, err = research.DecodeSubQuestions(req.Questions)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if _, err := h.Service.GetSession(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	startStream(c)
	res, err := h.Service.GenerateReport(c.Request.Context(), id, questions, req.Mode,
		progressWriter(c),
		func(snapshot string) {
			writeEvent(c, StreamEvent{Type: "snapshot", Payload: snapshot})
		},
	)
	if err != nil {
		writeEvent(c, StreamEvent{Type: "error", Payload: err.Error()})
		return
	}
	writeEvent(c, StreamEvent{Type: "done", Payload: res})
}

func (h *Handler) exportReport(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	sess, err := h.Service.GetSession(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if sess.Result == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "session has no report yet"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.TXTFilename))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(sess.Result))
}

func (h *Handler) getSessionLogs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	logs, err := h.Service.GetSessionLogs(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if logs == nil {
		logs = []session.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}
