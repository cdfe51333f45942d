// Package recorder delivers completed chat turns to the persistence write
// endpoint. Delivery is best-effort: the chat path never waits on it and
// never sees its failures.
package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/edulab-ai/agent-hub/internal/model"
	"github.com/edulab-ai/agent-hub/pkg/logger"
	"github.com/edulab-ai/agent-hub/pkg/metrics"
)

// DeliveryError reports a non-success response from the write endpoint.
type DeliveryError struct {
	Status int
	Body   string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("conversation write rejected: status %d: %s", e.Status, e.Body)
}

// Recorder posts turns to the write endpoint.
type Recorder struct {
	endpoint   string
	httpClient *http.Client
	logger     *logger.Logger
}

// New creates a recorder targeting the given write endpoint URL.
func New(endpoint string, log *logger.Logger) *Recorder {
	return &Recorder{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log,
	}
}

// Save delivers one turn synchronously. The four identity/content fields are
// required; accuracy may be nil.
func (r *Recorder) Save(ctx context.Context, turn model.Turn) error {
	switch {
	case turn.StudentID == "":
		return fmt.Errorf("turn is missing student_id")
	case turn.AgentID == "":
		return fmt.Errorf("turn is missing agent_id")
	case turn.UserInput == "":
		return fmt.Errorf("turn is missing user_input")
	case turn.BotReply == "":
		return fmt.Errorf("turn is missing bot_reply")
	}

	body, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach write endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return &DeliveryError{Status: resp.StatusCode, Body: string(detail)}
	}
	return nil
}

// Record delivers one turn on a detached goroutine. The outcome is observed
// only by the logging sink and metrics; callers get nothing back.
func (r *Recorder) Record(turn model.Turn) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := r.Save(ctx, turn); err != nil {
			metrics.TurnsRecordedTotal.WithLabelValues(turn.AgentID, "error").Inc()
			r.logger.Warn("failed to record conversation turn",
				zap.String("agent_id", turn.AgentID),
				zap.Error(err),
			)
			return
		}
		metrics.TurnsRecordedTotal.WithLabelValues(turn.AgentID, "ok").Inc()
	}()
}
