// Package syncer reconciles conversation logs from the external agent
// platform into the backing store.
package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edulab-ai/agent-hub/internal/agentlog"
	"github.com/edulab-ai/agent-hub/internal/store"
	"github.com/edulab-ai/agent-hub/pkg/logger"
	"github.com/edulab-ai/agent-hub/pkg/metrics"
)

// fallbackStudentID labels turns whose message metadata carries no usable
// student identity.
const fallbackStudentID = "coze_external_user"

// messagePageCeiling bounds the per-conversation paging loop.
const messagePageCeiling = 20

// LogClient is the slice of the agent platform API the reconciler needs.
type LogClient interface {
	ListConversations(ctx context.Context, botID string, pageNum, pageSize int) (*agentlog.ConversationPage, error)
	ListMessages(ctx context.Context, conversationID string, limit int, afterID string) (*agentlog.MessagePage, error)
}

// TurnStore is the slice of the backing store the reconciler needs.
type TurnStore interface {
	InsertTurns(ctx context.Context, turns []store.Conversation) error
	GetCursor(ctx context.Context, botID string) (int64, error)
	SetCursor(ctx context.Context, botID string, ts int64) error
}

// Options bound the per-run work. These are safety caps, not completeness
// guarantees: a bot with more conversations than MaxPages x PageSize is
// caught up over subsequent runs.
type Options struct {
	MaxPages        int
	PageSize        int
	MessagePageSize int
}

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = 2
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.MessagePageSize <= 0 {
		o.MessagePageSize = 100
	}
	return o
}

// BotResult summarizes one bot's reconciliation pass.
type BotResult struct {
	BotID      string `json:"botId"`
	Inserted   int    `json:"inserted"`
	LastCursor int64  `json:"lastCursor"`
	MaxSeen    int64  `json:"maxSeen"`
}

// Reconciler pulls new conversation turns per bot and advances the stored
// cursor.
type Reconciler struct {
	client LogClient
	store  TurnStore
	opts   Options
	logger *logger.Logger
}

// New creates a reconciler.
func New(client LogClient, st TurnStore, opts Options, log *logger.Logger) *Reconciler {
	return &Reconciler{
		client: client,
		store:  st,
		opts:   opts.withDefaults(),
		logger: log,
	}
}

// Run reconciles every bot in order. Bots are isolated: one bot's failure is
// logged and skipped without blocking cursor advancement for the rest. The
// returned error is non-nil only when no bot succeeded.
func (r *Reconciler) Run(ctx context.Context, botIDs []string) ([]BotResult, error) {
	if len(botIDs) == 0 {
		return nil, fmt.Errorf("no bot ids configured")
	}

	results := make([]BotResult, 0, len(botIDs))
	var lastErr error
	for _, botID := range botIDs {
		res, err := r.syncBot(ctx, botID)
		if err != nil {
			lastErr = err
			metrics.SyncRunsTotal.WithLabelValues(botID, "error").Inc()
			r.logger.Error("bot reconciliation failed",
				zap.String("bot_id", botID),
				zap.Error(err),
			)
			continue
		}
		metrics.SyncRunsTotal.WithLabelValues(botID, "ok").Inc()
		metrics.SyncTurnsInsertedTotal.WithLabelValues(botID).Add(float64(res.Inserted))
		results = append(results, res)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("all bots failed to reconcile: %w", lastErr)
	}
	return results, nil
}

func (r *Reconciler) syncBot(ctx context.Context, botID string) (BotResult, error) {
	lastCursor, err := r.store.GetCursor(ctx, botID)
	if err != nil {
		return BotResult{}, fmt.Errorf("failed to read cursor: %w", err)
	}

	maxSeen := lastCursor
	var rows []store.Conversation

	for page := 1; page <= r.opts.MaxPages; page++ {
		convPage, err := r.client.ListConversations(ctx, botID, page, r.opts.PageSize)
		if err != nil {
			return BotResult{}, fmt.Errorf("failed to list conversations: %w", err)
		}

		for _, conv := range convPage.Conversations {
			if conv.ID == "" {
				continue
			}

			messages, err := r.listAllMessages(ctx, conv.ID)
			if err != nil {
				return BotResult{}, fmt.Errorf("failed to list messages for conversation %s: %w", conv.ID, err)
			}

			fresh := messages[:0:0]
			for _, m := range messages {
				if m.CreatedAt > lastCursor {
					fresh = append(fresh, m)
					if m.CreatedAt > maxSeen {
						maxSeen = m.CreatedAt
					}
				}
			}

			rows = append(rows, pairTurns(botID, fresh, conv.MetaData)...)
		}

		if !convPage.HasMore {
			break
		}
	}

	if len(rows) > 0 {
		if err := r.store.InsertTurns(ctx, rows); err != nil {
			return BotResult{}, fmt.Errorf("failed to insert turns: %w", err)
		}
	}

	// The cursor advances even with zero new turns so a quiet bot does not
	// rescan the same window forever.
	if err := r.store.SetCursor(ctx, botID, maxSeen); err != nil {
		return BotResult{}, fmt.Errorf("failed to persist cursor: %w", err)
	}

	r.logger.Info("bot reconciled",
		zap.String("bot_id", botID),
		zap.Int("inserted", len(rows)),
		zap.Int64("last_cursor", lastCursor),
		zap.Int64("max_seen", maxSeen),
	)

	return BotResult{
		BotID:      botID,
		Inserted:   len(rows),
		LastCursor: lastCursor,
		MaxSeen:    maxSeen,
	}, nil
}

// listAllMessages pages through a conversation's messages in ascending order
// until the platform reports no more pages or the loop ceiling is hit.
func (r *Reconciler) listAllMessages(ctx context.Context, conversationID string) ([]agentlog.Message, error) {
	var out []agentlog.Message
	var afterID string

	for i := 0; i < messagePageCeiling; i++ {
		page, err := r.client.ListMessages(ctx, conversationID, r.opts.MessagePageSize, afterID)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Messages...)

		if !page.HasMore || page.LastID == "" {
			break
		}
		afterID = page.LastID
	}

	return out, nil
}

// pairTurns walks messages in order and pairs each user message with the next
// assistant message sharing its chat id. An assistant message with no pending
// user message is dropped: its paired question fell outside the filtered
// window, typically because a prior run already ingested it.
func pairTurns(botID string, messages []agentlog.Message, convMeta map[string]string) []store.Conversation {
	pendingByChat := make(map[string]pendingTurn)
	var rows []store.Conversation

	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}

		chatID := msg.ChatID
		if chatID == "" {
			chatID = "unknown_chat"
		}
		meta := msg.MetaData
		if meta == nil {
			meta = convMeta
		}

		if msg.Role == "user" {
			pendingByChat[chatID] = pendingTurn{
				text:      msg.Content,
				studentID: pickStudentID(meta),
			}
			continue
		}

		pending, ok := pendingByChat[chatID]
		if !ok {
			continue
		}

		rows = append(rows, store.Conversation{
			StudentID: pending.studentID,
			AgentID:   botID,
			UserInput: pending.text,
			BotReply:  msg.Content,
		})
		delete(pendingByChat, chatID)
	}

	return rows
}

type pendingTurn struct {
	text      string
	studentID string
}

// pickStudentID derives a student identity from message metadata, falling
// through the preference list to a literal placeholder.
func pickStudentID(meta map[string]string) string {
	for _, key := range []string{"student_id", "user_id", "real_contact_email"} {
		if v := meta[key]; v != "" {
			return v
		}
	}
	return fallbackStudentID
}

// RunEvery invokes Run on a fixed interval until ctx is cancelled. Runs are
// not serialized against the HTTP trigger; overlapping passes may double
// insert before a cursor advances, which is accepted.
func (r *Reconciler) RunEvery(ctx context.Context, interval time.Duration, botIDs []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx, botIDs); err != nil {
				r.logger.Error("scheduled reconciliation failed", zap.Error(err))
			}
		}
	}
}
