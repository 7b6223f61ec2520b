package onboarding

import (
	"context"
	"fmt"
	"time"

	"github.com/chaturyaganne/ai-agent/internal/convlog"
	"github.com/chaturyaganne/ai-agent/internal/domain"
	"github.com/chaturyaganne/ai-agent/internal/memory"
	"github.com/chaturyaganne/ai-agent/internal/metrics"
	"github.com/chaturyaganne/ai-agent/internal/store"
)

// History is a user's conversation: the durable message log plus the bounded
// window of recent turns used for generation context. Callers must hold the
// user's lock.
type History struct {
	user    *domain.User
	repo    store.Repository
	window  *memory.Window
	log     convlog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	lastUsed time.Time // guarded by Orchestrator.mu
}

// Append persists a message and then buffers it. System notes are persisted
// only.
func (h *History) Append(ctx context.Context, role domain.Role, content string, day int) (*domain.ConversationMessage, error) {
	msg := &domain.ConversationMessage{
		UserID:    h.user.UserID,
		Role:      role,
		Content:   content,
		Day:       day,
		CreatedAt: h.now(),
	}
	if err := h.repo.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append %s message: %w", role, err)
	}
	if role != domain.RoleSystem {
		h.window.Append(memory.Turn{Role: string(role), Content: content})
	}

	h.metrics.ObserveMessage(string(role))
	h.log.Log(convlog.Event{
		UserID:     h.user.UserID,
		Username:   h.user.Username,
		Channel:    ChannelFromContext(ctx),
		Role:       string(role),
		Day:        day,
		EventType:  "message",
		ContentRaw: content,
	})
	return msg, nil
}

// Recent returns the buffered turns, oldest first.
func (h *History) Recent() []memory.Turn {
	return h.window.Turns()
}

// Full returns the complete durable history.
func (h *History) Full(ctx context.Context) ([]*domain.ConversationMessage, error) {
	return h.repo.ListMessages(ctx, h.user.UserID)
}

// rebuild reloads the window from the newest persisted conversation turns.
func (h *History) rebuild(ctx context.Context) error {
	msgs, err := h.repo.RecentMessages(ctx, h.user.UserID, h.window.Capacity())
	if err != nil {
		return fmt.Errorf("load recent messages: %w", err)
	}
	turns := make([]memory.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, memory.Turn{Role: string(m.Role), Content: m.Content})
	}
	h.window.Load(turns)
	return nil
}

type channelKey struct{}

// WithChannel tags ctx with the surface a request arrived on ("http", "websocket", "cli").
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey{}, channel)
}

// ChannelFromContext returns the channel set by WithChannel, or "unknown".
func ChannelFromContext(ctx context.Context) string {
	if ch, ok := ctx.Value(channelKey{}).(string); ok && ch != "" {
		return ch
	}
	return "unknown"
}
