// Package provider contains adapters for the two conversational backends.
//
// Every adapter exposes the same shape: a lazy, finite stream of text
// fragments delivered over a bounded channel. Transport and protocol failures
// never escape an adapter as errors on the chat path; they become a single
// human-readable fragment so the conversation degrades instead of breaking.
package provider

import (
	"context"
	"errors"
)

// DeltaFunc is called for each text delta during a streaming completion.
type DeltaFunc func(delta string) error

// ChatMessage is one turn of model context.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	chatRoleSystem    = "system"
	chatRoleUser      = "user"
	chatRoleAssistant = "assistant"
)

// Backend is a streaming chat-completion backend for the contextful provider.
type Backend interface {
	// StreamCompletion streams a reply to the given context, invoking onDelta
	// per text fragment, and returns the full concatenated reply.
	StreamCompletion(ctx context.Context, messages []ChatMessage, onDelta DeltaFunc) (string, error)

	// Name returns the backend name for logging and metrics.
	Name() string
}

// BackendKind selects the completion backend implementation.
type BackendKind string

const (
	BackendOpenAI    BackendKind = "openai"
	BackendAnthropic BackendKind = "anthropic"
)

// NewBackend creates a completion backend.
func NewBackend(kind BackendKind, apiKey, model string) (Backend, error) {
	switch kind {
	case BackendOpenAI:
		return NewOpenAIBackend(apiKey, model)
	case BackendAnthropic:
		return NewAnthropicBackend(apiKey, model)
	default:
		return nil, errors.New("unknown session provider backend: " + string(kind))
	}
}

// fragmentBuffer is the capacity of every adapter's fragment channel.
const fragmentBuffer = 16
