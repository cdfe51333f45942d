package provider

import (
	"context"
	"errors"
)

// ErrSessionNotInitialized is reported when a reply is requested before
// StartSession bound a system instruction.
var ErrSessionNotInitialized = errors.New("chat session not initialized")

// User-visible substitutes for failures on the chat path. Raw errors are
// logged, never rendered.
const (
	msgSessionNotStarted = "This tool's session has not been started yet. Please reopen the tool and try again."
	msgCompletionFailed  = "Sorry, I encountered an error while processing your request."
)

// Session is the contextful provider's conversational state: the system
// instruction bound at start plus the accumulated exchange history. It is
// owned by exactly one chat session and passed back on every reply call.
type Session struct {
	history []ChatMessage
}

// SessionProvider is the contextful conversational backend adapter. A session
// must be started before replies can be streamed.
type SessionProvider struct {
	backend Backend
	logErr  func(err error)
}

// NewSessionProvider creates a contextful provider over the given backend.
// logErr receives stream failures for operational visibility; nil disables.
func NewSessionProvider(backend Backend, logErr func(err error)) *SessionProvider {
	if logErr == nil {
		logErr = func(error) {}
	}
	return &SessionProvider{backend: backend, logErr: logErr}
}

// Name returns the underlying backend name.
func (p *SessionProvider) Name() string {
	return p.backend.Name()
}

// StartSession binds a system instruction and returns a fresh session handle.
func (p *SessionProvider) StartSession(systemInstruction string) *Session {
	return &Session{
		history: []ChatMessage{{Role: chatRoleSystem, Content: systemInstruction}},
	}
}

// StreamReply streams the reply to one new message as text fragments. Both
// returned channels close when the stream ends. Failures are delivered as a
// single terminal human-readable fragment; the error channel never carries
// chat-path failures.
func (p *SessionProvider) StreamReply(ctx context.Context, sess *Session, message string) (<-chan string, <-chan error) {
	chunks := make(chan string, fragmentBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if sess == nil {
			p.logErr(ErrSessionNotInitialized)
			chunks <- msgSessionNotStarted
			return
		}

		messages := append(append([]ChatMessage(nil), sess.history...), ChatMessage{
			Role:    chatRoleUser,
			Content: message,
		})

		reply, err := p.backend.StreamCompletion(ctx, messages, func(delta string) error {
			chunks <- delta
			return nil
		})
		if err != nil {
			p.logErr(err)
			chunks <- msgCompletionFailed
			return
		}

		// The exchange becomes context for the next reply only once it
		// completed cleanly.
		sess.history = append(sess.history,
			ChatMessage{Role: chatRoleUser, Content: message},
			ChatMessage{Role: chatRoleAssistant, Content: reply},
		)
	}()

	return chunks, errs
}
