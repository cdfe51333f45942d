// Package agentlog reads conversation logs from the external agent platform.
package agentlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Conversation is one logged conversation thread for a bot.
type Conversation struct {
	ID        string            `json:"id"`
	CreatedAt int64             `json:"created_at"`
	MetaData  map[string]string `json:"meta_data"`
}

// Message is one logged message inside a conversation. CreatedAt is unix
// seconds; ChatID correlates a user message with its assistant reply.
type Message struct {
	ID        string            `json:"id"`
	ChatID    string            `json:"chat_id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	CreatedAt int64             `json:"created_at"`
	MetaData  map[string]string `json:"meta_data"`
}

// ConversationPage is one page of a bot's conversation listing.
type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"has_more"`
}

// MessagePage is one page of a conversation's message listing.
type MessagePage struct {
	Messages []Message `json:"data"`
	HasMore  bool      `json:"has_more"`
	LastID   string    `json:"last_id"`
}

// Client calls the agent platform's log API with bearer authentication.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a log API client.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("agent platform API key is required")
	}
	if baseURL == "" {
		baseURL = "https://api.coze.com"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type conversationListResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Conversations []Conversation `json:"conversations"`
		HasMore       bool           `json:"has_more"`
	} `json:"data"`
}

// ListConversations returns one page of a bot's conversations.
func (c *Client) ListConversations(ctx context.Context, botID string, pageNum, pageSize int) (*ConversationPage, error) {
	q := url.Values{}
	q.Set("bot_id", botID)
	q.Set("page_num", strconv.Itoa(pageNum))
	q.Set("page_size", strconv.Itoa(pageSize))

	var decoded conversationListResponse
	if err := c.get(ctx, "/v1/conversations?"+q.Encode(), &decoded); err != nil {
		return nil, err
	}
	if decoded.Code != 0 {
		return nil, fmt.Errorf("conversation list rejected: code %d: %s", decoded.Code, decoded.Msg)
	}
	return &ConversationPage{
		Conversations: decoded.Data.Conversations,
		HasMore:       decoded.Data.HasMore,
	}, nil
}

type messageListRequest struct {
	Order   string `json:"order"`
	Limit   int    `json:"limit"`
	AfterID string `json:"after_id,omitempty"`
}

// ListMessages returns one page of a conversation's messages in ascending
// chronological order, starting after afterID when non-empty.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int, afterID string) (*MessagePage, error) {
	body, err := json.Marshal(messageListRequest{
		Order:   "asc",
		Limit:   limit,
		AfterID: afterID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message list request: %w", err)
	}

	endpoint := c.baseURL + "/v1/conversation/message/list?conversation_id=" + url.QueryEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build message list request: %w", err)
	}
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("message list rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var page MessagePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode message list: %w", err)
	}
	return &page, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("request rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}
