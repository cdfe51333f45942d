package agentlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient("http://example.com", "")
	assert.Error(t, err)
}

func TestListConversations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/conversations", r.URL.Path)
		require.Equal(t, "bot-1", r.URL.Query().Get("bot_id"))
		require.Equal(t, "2", r.URL.Query().Get("page_num"))
		require.Equal(t, "50", r.URL.Query().Get("page_size"))
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"conversations": []map[string]any{
					{"id": "c1", "created_at": 100, "meta_data": map[string]string{"user_id": "u1"}},
				},
				"has_more": true,
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key")
	require.NoError(t, err)

	page, err := client.ListConversations(context.Background(), "bot-1", 2, 50)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, "c1", page.Conversations[0].ID)
	assert.Equal(t, "u1", page.Conversations[0].MetaData["user_id"])
}

func TestListConversations_PlatformErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 4100, "msg": "token expired"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key")
	require.NoError(t, err)

	_, err = client.ListConversations(context.Background(), "bot-1", 1, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
}

func TestListMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/conversation/message/list", r.URL.Path)
		require.Equal(t, "c1", r.URL.Query().Get("conversation_id"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "asc", req["order"])
		assert.Equal(t, float64(100), req["limit"])
		assert.Equal(t, "m5", req["after_id"])

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "m6", "chat_id": "chatA", "role": "user", "content": "hi", "created_at": 123},
			},
			"has_more": false,
			"last_id":  "m6",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key")
	require.NoError(t, err)

	page, err := client.ListMessages(context.Background(), "c1", 100, "m5")
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Equal(t, "m6", page.LastID)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, int64(123), page.Messages[0].CreatedAt)
}

func TestListMessages_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key")
	require.NoError(t, err)

	_, err = client.ListMessages(context.Background(), "c1", 100, "")
	assert.Error(t, err)
}
