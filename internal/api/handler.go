// Package api provides HTTP handlers for the Anton API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/chaturyaganne/ai-agent/internal/memory"
	"github.com/chaturyaganne/ai-agent/internal/onboarding"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Conversation is the subset of the orchestrator the HTTP layer drives.
type Conversation interface {
	InitializeSession(ctx context.Context, username string) (string, error)
	HandleUserMessage(ctx context.Context, username, text string) (onboarding.Reply, error)
	AdvanceDay(ctx context.Context, username string) (onboarding.Advance, error)
	CurrentStatus(ctx context.Context, username string) (*onboarding.Status, error)
	ExportTranscript(ctx context.Context, username string) (*onboarding.Transcript, error)
	Chat(ctx context.Context, userInput string, turns []memory.Turn) string
}

// Handler provides common handler utilities.
type Handler struct {
	conv   Conversation
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(conv Conversation, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{conv: conv, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// fail maps known errors to client statuses and hides everything else
// behind a generic 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, onboarding.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "userInput cannot be empty")
	case errors.Is(err, onboarding.ErrUserNotFound):
		Error(w, http.StatusNotFound, "user not found")
	case errors.Is(err, onboarding.ErrConflict):
		Error(w, http.StatusConflict, "onboarding state changed, please retry")
	case errors.Is(err, context.Canceled):
		h.logger.Info("Request cancelled", "op", op, "request_id", chiMiddleware.GetReqID(r.Context()))
	default:
		h.logger.Error("Request failed",
			"op", op,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err,
		)
		Error(w, http.StatusInternalServerError, "internal server error")
	}
}
