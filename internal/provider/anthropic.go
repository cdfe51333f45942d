package provider

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend streams chat completions from Anthropic.
type AnthropicBackend struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicBackend creates a new Anthropic backend.
func NewAnthropicBackend(apiKey, model string) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Name returns the backend name.
func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

// StreamCompletion streams a reply, invoking onDelta per text fragment. A
// leading system message is lifted into the request's system prompt.
func (b *AnthropicBackend) StreamCompletion(ctx context.Context, messages []ChatMessage, onDelta DeltaFunc) (string, error) {
	var system string
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == chatRoleSystem {
			system = msg.Content
			continue
		}
		converted = append(converted, anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(b.model),
		MaxTokens: anthropic.F(int64(4096)),
		Messages:  anthropic.F(converted),
	}
	if system != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{{
			Type: anthropic.F(anthropic.TextBlockParamTypeText),
			Text: anthropic.F(system),
		}})
	}

	stream := b.client.Messages.NewStreaming(ctx, params)

	var content string
	for stream.Next() {
		event := stream.Current()
		if event.Type != anthropic.MessageStreamEventTypeContentBlockDelta {
			continue
		}
		delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta)
		if !ok || delta.Type != "text_delta" || delta.Text == "" {
			continue
		}
		content += delta.Text
		if err := onDelta(delta.Text); err != nil {
			return content, err
		}
	}
	if err := stream.Err(); err != nil {
		return content, err
	}

	return content, nil
}
