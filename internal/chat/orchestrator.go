// Package chat owns live session state and the streaming send loop that
// turns provider fragments into UI-visible message state.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edulab-ai/agent-hub/internal/model"
	"github.com/edulab-ai/agent-hub/internal/provider"
	"github.com/edulab-ai/agent-hub/pkg/logger"
	"github.com/edulab-ai/agent-hub/pkg/metrics"
)

// State is the per-session streaming state.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateStreaming    State = "streaming"
)

var (
	// ErrNoActiveSession is returned when a send arrives without activation.
	ErrNoActiveSession = errors.New("no active chat session")
	// ErrSendInFlight rejects overlapping sends on one session.
	ErrSendInFlight = errors.New("a send is already in flight for this session")
	// ErrExternalTool rejects chat activation for link-out tools.
	ErrExternalTool = errors.New("tool opens externally and cannot be chatted with")
)

// The general fallback assistant, used when no tool is active.
const generalInstruction = "You are a helpful English learning assistant. Answer questions about English grammar, vocabulary, and culture."

// Anonymous callers still get replies from the stateless provider; they are
// just never recorded.
const anonymousUserID = "anonymous_user"

// SessionStreamer is the contextful provider as the orchestrator sees it.
type SessionStreamer interface {
	Name() string
	StartSession(systemInstruction string) *provider.Session
	StreamReply(ctx context.Context, sess *provider.Session, message string) (<-chan string, <-chan error)
}

// BotStreamer is the stateless-per-call provider as the orchestrator sees it.
type BotStreamer interface {
	Name() string
	StreamReply(ctx context.Context, botID, userID, message string) (<-chan string, <-chan error)
}

// TurnRecorder receives completed turns for detached persistence.
type TurnRecorder interface {
	Record(turn model.Turn)
}

// Publisher receives the growing model message after every fragment, and the
// final frozen message at stream end. Fragments are atomic text; the
// published text is always a complete prefix of the final reply.
type Publisher func(msg model.Message)

// Session is the ephemeral state bound to one active tool (or none, for the
// general fallback).
type Session struct {
	ID        string
	StudentID string
	Tool      *model.Tool

	mu              sync.Mutex
	state           State
	messages        []model.Message
	providerSession *provider.Session
	sending         bool
}

// State returns the session's current streaming state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a snapshot of the session's messages.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Orchestrator manages chat sessions: at most one per owner key, with one
// in-flight send per session. The owner key identifies the client holding the
// session; the student identity travels separately and may be empty for
// anonymous chats, which are served but never recorded.
type Orchestrator struct {
	sessions SessionStreamer
	bots     BotStreamer
	recorder TurnRecorder
	logger   *logger.Logger

	mu     sync.RWMutex
	active map[string]*Session
}

// New creates an orchestrator.
func New(sessions SessionStreamer, bots BotStreamer, rec TurnRecorder, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		bots:     bots,
		recorder: rec,
		logger:   log,
		active:   make(map[string]*Session),
	}
}

// Activate starts a fresh session under the owner key, discarding any prior
// one. A nil tool activates the general fallback assistant. The greeting
// message is synthesized immediately, never streamed.
func (o *Orchestrator) Activate(owner, studentID string, tool *model.Tool) (*Session, error) {
	if tool != nil && tool.ExternalLink != "" {
		return nil, ErrExternalTool
	}

	sess := &Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		StudentID: studentID,
		Tool:      tool,
		state:     StateInitializing,
	}

	// The general fallback always runs on the contextful provider with a
	// fixed generic instruction; Coze tools need no pre-session call.
	switch {
	case tool == nil:
		sess.providerSession = o.sessions.StartSession(generalInstruction)
	case tool.Provider == model.ProviderSession:
		sess.providerSession = o.sessions.StartSession(tool.SystemInstruction)
	}

	sess.messages = append(sess.messages, model.Message{
		ID:        "init-greeting",
		Role:      model.RoleModel,
		Text:      greetingFor(tool),
		CreatedAt: time.Now(),
	})
	sess.state = StateIdle

	o.mu.Lock()
	if _, replaced := o.active[owner]; !replaced {
		metrics.ChatSessionsActive.Inc()
	}
	o.active[owner] = sess
	o.mu.Unlock()

	o.logger.Info("chat session activated",
		zap.String("session_id", sess.ID),
		zap.String("student_id", studentID),
		zap.String("tool_id", toolID(tool)),
	)
	return sess, nil
}

// Get returns the owner's active session, if any.
func (o *Orchestrator) Get(owner string) (*Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	sess, ok := o.active[owner]
	return sess, ok
}

// Close discards the owner's active session. Any outstanding stream is
// abandoned, not cancelled.
func (o *Orchestrator) Close(owner string) {
	o.mu.Lock()
	if _, ok := o.active[owner]; ok {
		delete(o.active, owner)
		metrics.ChatSessionsActive.Dec()
	}
	o.mu.Unlock()
}

// Send appends the student's message, streams the reply fragment by fragment
// through publish, and on clean completion hands the finished turn to the
// recorder on a detached task. It blocks until the stream ends; overlapping
// sends on one session are rejected.
func (o *Orchestrator) Send(ctx context.Context, owner, text string, publish Publisher) (model.Message, error) {
	o.mu.RLock()
	sess, ok := o.active[owner]
	o.mu.RUnlock()
	if !ok {
		return model.Message{}, ErrNoActiveSession
	}
	if publish == nil {
		publish = func(model.Message) {}
	}

	sess.mu.Lock()
	if sess.sending {
		sess.mu.Unlock()
		return model.Message{}, ErrSendInFlight
	}
	sess.sending = true
	sess.state = StateStreaming

	now := time.Now()
	sess.messages = append(sess.messages, model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleUser,
		Text:      text,
		CreatedAt: now,
	})
	reply := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleModel,
		CreatedAt: now,
	}
	sess.messages = append(sess.messages, reply)
	replyIndex := len(sess.messages) - 1
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.sending = false
		sess.state = StateIdle
		sess.mu.Unlock()
	}()

	chunks, errs := o.openStream(ctx, sess, text)

	start := time.Now()
	fragments := 0
	for fragment := range chunks {
		fragments++
		sess.mu.Lock()
		sess.messages[replyIndex].Text += fragment
		reply = sess.messages[replyIndex]
		sess.mu.Unlock()
		publish(reply)
	}

	if err := <-errs; err != nil {
		metrics.RecordProviderStream(o.providerName(sess), "error", time.Since(start).Seconds(), fragments)
		o.logger.Error("reply stream failed",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		failure := model.Message{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Role:      model.RoleModel,
			Text:      "Sorry, the service is temporarily unavailable.",
			CreatedAt: time.Now(),
		}
		sess.mu.Lock()
		sess.messages = append(sess.messages, failure)
		sess.mu.Unlock()
		publish(failure)
		return failure, nil
	}

	metrics.RecordProviderStream(o.providerName(sess), "ok", time.Since(start).Seconds(), fragments)

	if reply.Text != "" && sess.StudentID != "" {
		o.recorder.Record(model.Turn{
			StudentID: sess.StudentID,
			AgentID:   agentID(sess.Tool),
			UserInput: text,
			BotReply:  reply.Text,
		})
	}

	return reply, nil
}

// openStream dispatches on the session's provider tag.
func (o *Orchestrator) openStream(ctx context.Context, sess *Session, text string) (<-chan string, <-chan error) {
	if sess.Tool != nil && sess.Tool.Provider == model.ProviderCoze {
		userID := sess.StudentID
		if userID == "" {
			userID = anonymousUserID
		}
		return o.bots.StreamReply(ctx, sess.Tool.CozeBotID, userID, text)
	}
	return o.sessions.StreamReply(ctx, sess.providerSession, text)
}

func (o *Orchestrator) providerName(sess *Session) string {
	if sess.Tool != nil && sess.Tool.Provider == model.ProviderCoze {
		return o.bots.Name()
	}
	return o.sessions.Name()
}

func greetingFor(tool *model.Tool) string {
	if tool == nil {
		return "Hi! I'm your English learning assistant. Ask me anything!"
	}
	return "Hello! I'm your " + tool.Title + ". How can I help you today?"
}

func agentID(tool *model.Tool) string {
	switch {
	case tool == nil:
		return "general"
	case tool.ID != "":
		return tool.ID
	case tool.CozeBotID != "":
		return tool.CozeBotID
	default:
		return "general"
	}
}

func toolID(tool *model.Tool) string {
	if tool == nil {
		return ""
	}
	return tool.ID
}
