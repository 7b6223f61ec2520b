package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/chaturyaganne/ai-agent/internal/identity"
	"github.com/chaturyaganne/ai-agent/internal/onboarding"
)

const writeTimeout = 10 * time.Second

// Conversation is the orchestrator surface the chat channel drives.
type Conversation interface {
	InitializeSession(ctx context.Context, username string) (string, error)
	HandleUserMessage(ctx context.Context, username, text string) (onboarding.Reply, error)
	AdvanceDay(ctx context.Context, username string) (onboarding.Advance, error)
	CurrentStatus(ctx context.Context, username string) (*onboarding.Status, error)
}

// Frame is the JSON envelope exchanged in both directions.
type Frame struct {
	Type           string             `json:"type"`
	Text           string             `json:"text,omitempty"`
	ShowMarkButton bool               `json:"showMarkButton,omitempty"`
	Complete       bool               `json:"complete,omitempty"`
	Status         *onboarding.Status `json:"status,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// Frame types.
const (
	FrameGreeting = "greeting"
	FrameMessage  = "message"
	FrameReply    = "reply"
	FrameAdvance  = "advance"
	FrameStatus   = "status"
	FramePing     = "ping"
	FramePong     = "pong"
	FrameError    = "error"
)

// WebSocketHandler serves the chat channel.
type WebSocketHandler struct {
	conv           Conversation
	conns          *ConnRegistry
	originPatterns []string
	isDev          bool
}

// NewWebSocketHandler creates a new WebSocket handler. originPatterns are
// host patterns accepted in the Origin header.
func NewWebSocketHandler(conv Conversation, conns *ConnRegistry, originPatterns []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		conv:           conv,
		conns:          conns,
		originPatterns: originPatterns,
		isDev:          isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username := identity.UsernameFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "username", username, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	if h.isDev {
		opts.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "username", username)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "username", username)
		}
	}()

	h.conns.Register(username, sessionID, ws)
	defer h.conns.Unregister(username, sessionID, ws)

	ctx := onboarding.WithChannel(r.Context(), "websocket")

	greeting, err := h.conv.InitializeSession(ctx, username)
	if err != nil {
		slog.Error("Failed to initialize chat session", "error", err, "username", username)
		h.writeError(ctx, ws, "session_unavailable")
		return
	}
	status, err := h.conv.CurrentStatus(ctx, username)
	if err != nil {
		slog.Error("Failed to load status", "error", err, "username", username)
		h.writeError(ctx, ws, "session_unavailable")
		return
	}
	if err := h.write(ctx, ws, Frame{Type: FrameGreeting, Text: greeting, Status: status}); err != nil {
		return
	}

	h.readLoop(ctx, ws, username)
	slog.Info("Chat session ended", "username", username, "session_id", sessionID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, username string) {
	for {
		var in Frame
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "username", username)
			} else {
				slog.Warn("WebSocket read error", "error", err, "username", username)
			}
			return
		}

		out, err := h.dispatch(ctx, username, in)
		if err != nil {
			slog.Warn("Chat frame failed", "type", in.Type, "error", err, "username", username)
			out = Frame{Type: FrameError, Error: errorCode(err)}
		}
		if err := h.write(ctx, ws, out); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, username string, in Frame) (Frame, error) {
	switch in.Type {
	case FrameMessage:
		reply, err := h.conv.HandleUserMessage(ctx, username, in.Text)
		if err != nil {
			return Frame{}, err
		}
		return h.withStatus(ctx, username, Frame{Type: FrameReply, Text: reply.Text, ShowMarkButton: reply.ShowAdvanceControl})
	case FrameAdvance:
		adv, err := h.conv.AdvanceDay(ctx, username)
		if err != nil {
			return Frame{}, err
		}
		return h.withStatus(ctx, username, Frame{Type: FrameAdvance, Text: adv.Text, Complete: adv.Complete})
	case FrameStatus:
		return h.withStatus(ctx, username, Frame{Type: FrameStatus})
	case FramePing:
		return Frame{Type: FramePong}, nil
	default:
		return Frame{Type: FrameError, Error: "unknown_frame_type"}, nil
	}
}

func (h *WebSocketHandler) withStatus(ctx context.Context, username string, f Frame) (Frame, error) {
	status, err := h.conv.CurrentStatus(ctx, username)
	if err != nil {
		return Frame{}, err
	}
	f.Status = status
	return f, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, onboarding.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, onboarding.ErrConflict):
		return "conflict"
	case errors.Is(err, onboarding.ErrUserNotFound):
		return "user_not_found"
	default:
		return "internal_error"
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, f Frame) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, f); err != nil {
		slog.Debug("WebSocket write error", "error", err, "type", f.Type)
		return err
	}
	return nil
}

func (h *WebSocketHandler) writeError(ctx context.Context, ws *websocket.Conn, code string) {
	_ = h.write(ctx, ws, Frame{Type: FrameError, Error: code})
}
