package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulab-ai/agent-hub/internal/chat"
	"github.com/edulab-ai/agent-hub/internal/middleware"
	"github.com/edulab-ai/agent-hub/internal/model"
	"github.com/edulab-ai/agent-hub/internal/provider"
	"github.com/edulab-ai/agent-hub/pkg/logger"
)

type stubSessions struct {
	fragments []string
}

func (s *stubSessions) Name() string { return "stub" }

func (s *stubSessions) StartSession(systemInstruction string) *provider.Session {
	return &provider.Session{}
}

func (s *stubSessions) StreamReply(ctx context.Context, sess *provider.Session, message string) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, fragment := range s.fragments {
			chunks <- fragment
		}
	}()
	return chunks, errs
}

type stubBots struct{}

func (s *stubBots) Name() string { return "stub-bot" }

func (s *stubBots) StreamReply(ctx context.Context, botID, userID, message string) (<-chan string, <-chan error) {
	chunks := make(chan string, 1)
	errs := make(chan error, 1)
	close(chunks)
	close(errs)
	return chunks, errs
}

type stubRecorder struct{}

func (stubRecorder) Record(model.Turn) {}

type stubCatalog map[string]model.Tool

func (c stubCatalog) Get(id string) (model.Tool, bool) {
	t, ok := c[id]
	return t, ok
}

func newTestChatHandler(fragments []string, tools stubCatalog) *ChatHandler {
	orch := chat.New(&stubSessions{fragments: fragments}, &stubBots{}, stubRecorder{}, logger.NewNop())
	if tools == nil {
		tools = stubCatalog{}
	}
	return NewChatHandler(orch, tools, logger.NewNop())
}

func postJSON(h http.HandlerFunc, target, body string, studentID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if studentID != "" {
		ctx := context.WithValue(req.Context(), middleware.StudentIDKey, studentID)
		req = req.WithContext(ctx)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestStartSession_GeneralAssistant(t *testing.T) {
	h := newTestChatHandler(nil, nil)

	w := postJSON(h.StartSession, "/api/v1/chat/session", `{}`, "s1")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.SessionID, "authenticated sessions are keyed by identity")
	assert.Equal(t, chat.StateIdle, resp.State)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, model.RoleModel, resp.Messages[0].Role)
}

func TestStartSession_AnonymousGetsOpaqueKey(t *testing.T) {
	h := newTestChatHandler(nil, nil)

	w := postJSON(h.StartSession, "/api/v1/chat/session", `{}`, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
}

func TestStartSession_UnknownTool(t *testing.T) {
	h := newTestChatHandler(nil, nil)

	w := postJSON(h.StartSession, "/api/v1/chat/session", `{"tool_id":"nope"}`, "s1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartSession_ExternalTool(t *testing.T) {
	h := newTestChatHandler(nil, stubCatalog{
		"dict": {ID: "dict", ExternalLink: "https://dictionary.example.com"},
	})

	w := postJSON(h.StartSession, "/api/v1/chat/session", `{"tool_id":"dict"}`, "s1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessage_StreamsReply(t *testing.T) {
	h := newTestChatHandler([]string{"Hel", "lo"}, nil)

	w := postJSON(h.StartSession, "/api/v1/chat/session", `{}`, "s1")
	require.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(h.SendMessage, "/api/v1/chat/message", `{"content":"hi"}`, "s1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event: message\n")
	assert.Contains(t, body, "event: done\n")
	assert.Contains(t, body, `"text":"Hello"`)
}

func TestSendMessage_NoSession(t *testing.T) {
	h := newTestChatHandler(nil, nil)

	w := postJSON(h.SendMessage, "/api/v1/chat/message", `{"content":"hi"}`, "s1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessage_EmptyContent(t *testing.T) {
	h := newTestChatHandler(nil, nil)

	w := postJSON(h.SendMessage, "/api/v1/chat/message", `{"content":""}`, "s1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessage_AnonymousNeedsSessionID(t *testing.T) {
	h := newTestChatHandler([]string{"ok"}, nil)

	w := postJSON(h.SendMessage, "/api/v1/chat/message", `{"content":"hi"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(h.StartSession, "/api/v1/chat/session", `{}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = postJSON(h.SendMessage, "/api/v1/chat/message",
		`{"session_id":"`+resp.SessionID+`","content":"hi"}`, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMessages_Snapshot(t *testing.T) {
	h := newTestChatHandler(nil, nil)

	w := postJSON(h.StartSession, "/api/v1/chat/session", `{}`, "s1")
	require.Equal(t, http.StatusCreated, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/messages", nil)
	ctx := context.WithValue(req.Context(), middleware.StudentIDKey, "s1")
	rec := httptest.NewRecorder()
	h.Messages(rec, req.WithContext(ctx))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		State    chat.State      `json:"state"`
		Messages []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, chat.StateIdle, resp.State)
	assert.Len(t, resp.Messages, 1)
}

func TestEndSession(t *testing.T) {
	h := newTestChatHandler(nil, nil)

	w := postJSON(h.StartSession, "/api/v1/chat/session", `{}`, "s1")
	require.Equal(t, http.StatusCreated, w.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/chat/session", nil)
	ctx := context.WithValue(req.Context(), middleware.StudentIDKey, "s1")
	rec := httptest.NewRecorder()
	h.EndSession(rec, req.WithContext(ctx))
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/chat/messages", nil)
	rec = httptest.NewRecorder()
	h.Messages(rec, req.WithContext(ctx))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
