package provider

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend streams chat completions from OpenAI.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates a new OpenAI backend.
func NewOpenAIBackend(apiKey, model string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIBackend{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Name returns the backend name.
func (b *OpenAIBackend) Name() string {
	return "openai"
}

// StreamCompletion streams a reply, invoking onDelta per text fragment.
func (b *OpenAIBackend) StreamCompletion(ctx context.Context, messages []ChatMessage, onDelta DeltaFunc) (string, error) {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		converted[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    b.model,
		Messages: converted,
		Stream:   true,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var content string
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return content, err
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		content += delta
		if err := onDelta(delta); err != nil {
			return content, err
		}
	}

	return content, nil
}
