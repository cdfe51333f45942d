package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

const defaultCozeBase = "https://api.coze.com"

// User-visible substitutes for Coze failures, matching the adapter contract:
// one descriptive fragment, then end of stream.
const (
	msgCozeRejected    = "Error connecting to Coze agent."
	msgCozeUnreachable = "I'm having trouble connecting right now."
)

// cozeEventDelta is the only event kind that carries reply text. Everything
// else, including conversation.message.completed, is observed and discarded
// because delta events already carry the authoritative incremental text.
const cozeEventDelta = "conversation.message.delta"

// CozeClient is the stateless-per-call conversational backend adapter. Every
// message is one self-contained v3 chat call; the platform keeps history
// server-side.
type CozeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logErr     func(err error)
}

// NewCozeClient creates a Coze chat client. logErr receives transport
// failures for operational visibility; nil disables.
func NewCozeClient(baseURL, apiKey string, logErr func(err error)) *CozeClient {
	if baseURL == "" {
		baseURL = defaultCozeBase
	}
	if logErr == nil {
		logErr = func(error) {}
	}
	return &CozeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Streams are long-lived; the per-read deadline belongs to the
		// transport, not a whole-request timeout.
		httpClient: &http.Client{},
		logErr:     logErr,
	}
}

// Name returns the provider name for logging and metrics.
func (c *CozeClient) Name() string {
	return "coze"
}

type cozeChatRequest struct {
	BotID              string        `json:"bot_id"`
	UserID             string        `json:"user_id"`
	Stream             bool          `json:"stream"`
	AutoSaveHistory    bool          `json:"auto_save_history"`
	AdditionalMessages []cozeMessage `json:"additional_messages"`
}

type cozeMessage struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type cozeStreamEvent struct {
	Event string `json:"event"`
	Data  struct {
		Content string `json:"content"`
	} `json:"data"`
}

// StreamReply streams the bot's reply to one message as text fragments. Both
// returned channels close when the stream ends. Non-success responses and
// transport failures yield one descriptive fragment and terminate; malformed
// data lines are skipped as keep-alive noise.
func (c *CozeClient) StreamReply(ctx context.Context, botID, userID, message string) (<-chan string, <-chan error) {
	chunks := make(chan string, fragmentBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := json.Marshal(cozeChatRequest{
			BotID:           botID,
			UserID:          userID,
			Stream:          true,
			AutoSaveHistory: true,
			AdditionalMessages: []cozeMessage{{
				Role:        "user",
				Content:     message,
				ContentType: "text",
			}},
		})
		if err != nil {
			c.logErr(err)
			chunks <- msgCozeUnreachable
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/chat", bytes.NewReader(body))
		if err != nil {
			c.logErr(err)
			chunks <- msgCozeUnreachable
			return
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logErr(err)
			chunks <- msgCozeUnreachable
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			c.logErr(errors.New("coze chat: status " + resp.Status + ": " + strings.TrimSpace(string(detail))))
			chunks <- msgCozeRejected
			return
		}

		c.scanEvents(resp.Body, chunks)
	}()

	return chunks, errs
}

// scanEvents consumes the newline-delimited event stream. Partial reads are
// buffered until a full line is available; a trailing unterminated line at
// stream end is dropped.
func (c *CozeClient) scanEvents(body io.Reader, chunks chan<- string) {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				c.logErr(err)
				chunks <- msgCozeUnreachable
			}
			return
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var event cozeStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			// Keep-alive or non-JSON noise between events.
			continue
		}
		if event.Event != cozeEventDelta || event.Data.Content == "" {
			continue
		}
		chunks <- event.Data.Content
	}
}
