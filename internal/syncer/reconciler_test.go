package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulab-ai/agent-hub/internal/agentlog"
	"github.com/edulab-ai/agent-hub/internal/store"
	"github.com/edulab-ai/agent-hub/pkg/logger"
)

// fakeLogClient serves canned conversations and messages per bot.
type fakeLogClient struct {
	conversations map[string][]agentlog.Conversation
	messages      map[string][]agentlog.Message
	failBots      map[string]bool
	pageSize      int // when > 0, messages are served in pages of this size
}

func (f *fakeLogClient) ListConversations(ctx context.Context, botID string, pageNum, pageSize int) (*agentlog.ConversationPage, error) {
	if f.failBots[botID] {
		return nil, errors.New("platform unavailable")
	}
	if pageNum > 1 {
		return &agentlog.ConversationPage{}, nil
	}
	return &agentlog.ConversationPage{Conversations: f.conversations[botID]}, nil
}

func (f *fakeLogClient) ListMessages(ctx context.Context, conversationID string, limit int, afterID string) (*agentlog.MessagePage, error) {
	msgs := f.messages[conversationID]
	if f.pageSize <= 0 {
		return &agentlog.MessagePage{Messages: msgs}, nil
	}

	start := 0
	if afterID != "" {
		for i, m := range msgs {
			if m.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	end := start + f.pageSize
	if end > len(msgs) {
		end = len(msgs)
	}
	page := &agentlog.MessagePage{Messages: msgs[start:end], HasMore: end < len(msgs)}
	if len(page.Messages) > 0 {
		page.LastID = page.Messages[len(page.Messages)-1].ID
	}
	return page, nil
}

// fakeTurnStore keeps cursors and inserted rows in memory.
type fakeTurnStore struct {
	cursors  map[string]int64
	inserted []store.Conversation
}

func newFakeTurnStore() *fakeTurnStore {
	return &fakeTurnStore{cursors: make(map[string]int64)}
}

func (f *fakeTurnStore) InsertTurns(ctx context.Context, turns []store.Conversation) error {
	f.inserted = append(f.inserted, turns...)
	return nil
}

func (f *fakeTurnStore) GetCursor(ctx context.Context, botID string) (int64, error) {
	return f.cursors[botID], nil
}

func (f *fakeTurnStore) SetCursor(ctx context.Context, botID string, ts int64) error {
	f.cursors[botID] = ts
	return nil
}

func userMsg(id, chatID, content string, at int64, meta map[string]string) agentlog.Message {
	return agentlog.Message{ID: id, ChatID: chatID, Role: "user", Content: content, CreatedAt: at, MetaData: meta}
}

func assistantMsg(id, chatID, content string, at int64) agentlog.Message {
	return agentlog.Message{ID: id, ChatID: chatID, Role: "assistant", Content: content, CreatedAt: at}
}

func TestRun_PairsTurnsAndAdvancesCursor(t *testing.T) {
	client := &fakeLogClient{
		conversations: map[string][]agentlog.Conversation{
			"b1": {{ID: "c1"}},
		},
		messages: map[string][]agentlog.Message{
			"c1": {
				userMsg("m1", "chatA", "what is a noun?", 10, map[string]string{"student_id": "stu-1"}),
				assistantMsg("m2", "chatA", "A noun names a thing.", 12),
				// No user message in this window pairs with chatB.
				assistantMsg("m3", "chatB", "orphan reply", 15),
			},
		},
	}
	st := newFakeTurnStore()
	rec := New(client, st, Options{}, logger.NewNop())

	results, err := rec.Run(context.Background(), []string{"b1"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "b1", results[0].BotID)
	assert.Equal(t, 1, results[0].Inserted)
	assert.Equal(t, int64(0), results[0].LastCursor)
	assert.Equal(t, int64(15), results[0].MaxSeen)

	require.Len(t, st.inserted, 1)
	assert.Equal(t, store.Conversation{
		StudentID: "stu-1",
		AgentID:   "b1",
		UserInput: "what is a noun?",
		BotReply:  "A noun names a thing.",
	}, st.inserted[0])

	// Orphan assistant messages still advance the watermark.
	assert.Equal(t, int64(15), st.cursors["b1"])
}

func TestRun_SecondPassIsIdempotent(t *testing.T) {
	client := &fakeLogClient{
		conversations: map[string][]agentlog.Conversation{
			"b1": {{ID: "c1"}},
		},
		messages: map[string][]agentlog.Message{
			"c1": {
				userMsg("m1", "chatA", "q", 10, nil),
				assistantMsg("m2", "chatA", "a", 12),
			},
		},
	}
	st := newFakeTurnStore()
	rec := New(client, st, Options{}, logger.NewNop())

	_, err := rec.Run(context.Background(), []string{"b1"})
	require.NoError(t, err)
	require.Len(t, st.inserted, 1)

	results, err := rec.Run(context.Background(), []string{"b1"})
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].Inserted)
	assert.Len(t, st.inserted, 1, "already-ingested turns are not re-inserted")
	assert.Equal(t, int64(12), st.cursors["b1"])
}

func TestRun_IsolatesFailingBots(t *testing.T) {
	client := &fakeLogClient{
		conversations: map[string][]agentlog.Conversation{
			"good": {{ID: "c1"}},
		},
		messages: map[string][]agentlog.Message{
			"c1": {
				userMsg("m1", "chatA", "q", 5, nil),
				assistantMsg("m2", "chatA", "a", 6),
			},
		},
		failBots: map[string]bool{"bad": true},
	}
	st := newFakeTurnStore()
	rec := New(client, st, Options{}, logger.NewNop())

	results, err := rec.Run(context.Background(), []string{"bad", "good"})
	require.NoError(t, err, "one healthy bot keeps the run successful")
	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].BotID)
	assert.Equal(t, int64(6), st.cursors["good"])
	assert.NotContains(t, st.cursors, "bad")
}

func TestRun_AllBotsFailing(t *testing.T) {
	client := &fakeLogClient{failBots: map[string]bool{"b1": true, "b2": true}}
	rec := New(client, newFakeTurnStore(), Options{}, logger.NewNop())

	_, err := rec.Run(context.Background(), []string{"b1", "b2"})
	assert.Error(t, err)
}

func TestRun_NoBotsConfigured(t *testing.T) {
	rec := New(&fakeLogClient{}, newFakeTurnStore(), Options{}, logger.NewNop())

	_, err := rec.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestRun_StudentIDFallsBackThroughMetadata(t *testing.T) {
	client := &fakeLogClient{
		conversations: map[string][]agentlog.Conversation{
			"b1": {
				{ID: "c1", MetaData: map[string]string{"user_id": "conv-user"}},
				{ID: "c2"},
			},
		},
		messages: map[string][]agentlog.Message{
			// Message without metadata inherits the conversation's.
			"c1": {
				userMsg("m1", "chatA", "q1", 10, nil),
				assistantMsg("m2", "chatA", "a1", 11),
			},
			// No metadata anywhere: placeholder identity.
			"c2": {
				userMsg("m3", "chatB", "q2", 20, nil),
				assistantMsg("m4", "chatB", "a2", 21),
			},
		},
	}
	st := newFakeTurnStore()
	rec := New(client, st, Options{}, logger.NewNop())

	_, err := rec.Run(context.Background(), []string{"b1"})
	require.NoError(t, err)
	require.Len(t, st.inserted, 2)
	assert.Equal(t, "conv-user", st.inserted[0].StudentID)
	assert.Equal(t, fallbackStudentID, st.inserted[1].StudentID)
}

func TestRun_PagesThroughMessages(t *testing.T) {
	client := &fakeLogClient{
		conversations: map[string][]agentlog.Conversation{
			"b1": {{ID: "c1"}},
		},
		messages: map[string][]agentlog.Message{
			"c1": {
				userMsg("m1", "chatA", "q1", 1, nil),
				assistantMsg("m2", "chatA", "a1", 2),
				userMsg("m3", "chatB", "q2", 3, nil),
				assistantMsg("m4", "chatB", "a2", 4),
			},
		},
		pageSize: 1,
	}
	st := newFakeTurnStore()
	rec := New(client, st, Options{}, logger.NewNop())

	results, err := rec.Run(context.Background(), []string{"b1"})
	require.NoError(t, err)
	assert.Equal(t, 2, results[0].Inserted)
	assert.Equal(t, int64(4), st.cursors["b1"])
}
