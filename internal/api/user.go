package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chaturyaganne/ai-agent/internal/identity"
	"github.com/chaturyaganne/ai-agent/internal/memory"
	"github.com/chaturyaganne/ai-agent/internal/onboarding"
)

// UserHandler handles conversation and onboarding endpoints.
type UserHandler struct {
	*Handler
}

// NewUserHandler creates a new user handler.
func NewUserHandler(base *Handler) *UserHandler {
	return &UserHandler{Handler: base}
}

type chatRequest struct {
	UserInput string        `json:"userInput"`
	Memory    []memory.Turn `json:"memory"`
}

type messageResponse struct {
	Response       string             `json:"response"`
	ShowMarkButton bool               `json:"showMarkButton"`
	Status         *onboarding.Status `json:"status"`
}

type advanceResponse struct {
	Message            string             `json:"message"`
	OnboardingComplete bool               `json:"onboardingComplete"`
	Status             *onboarding.Status `json:"status"`
}

type sessionResponse struct {
	Greeting string             `json:"greeting"`
	Status   *onboarding.Status `json:"status"`
}

// RegisterRoutes registers conversation routes.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Get("/user", h.GetUser)
		r.Post("/user/session", h.StartSession)
		r.Post("/user/message", h.PostMessage)
		r.Post("/user/mark-complete", h.MarkComplete)
		r.Post("/user/export", h.Export)
	})
}

// Chat answers a message using only the memory supplied in the request.
func (h *UserHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserInput) == "" {
		Error(w, http.StatusBadRequest, "userInput cannot be empty")
		return
	}

	ctx := onboarding.WithChannel(r.Context(), "http")
	JSON(w, http.StatusOK, map[string]string{
		"response": h.conv.Chat(ctx, req.UserInput, req.Memory),
	})
}

// GetUser returns the current user's onboarding progress.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := identity.UsernameFromContext(r.Context())
	status, err := h.conv.CurrentStatus(r.Context(), username)
	if err != nil {
		h.fail(w, r, "get_user", err)
		return
	}
	JSON(w, http.StatusOK, status)
}

// StartSession greets the user and records the greeting.
func (h *UserHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	username := identity.UsernameFromContext(r.Context())
	ctx := onboarding.WithChannel(r.Context(), "http")

	greeting, err := h.conv.InitializeSession(ctx, username)
	if err != nil {
		h.fail(w, r, "start_session", err)
		return
	}
	status, err := h.conv.CurrentStatus(ctx, username)
	if err != nil {
		h.fail(w, r, "start_session", err)
		return
	}
	JSON(w, http.StatusOK, sessionResponse{Greeting: greeting, Status: status})
}

// PostMessage handles one user message.
func (h *UserHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	username := identity.UsernameFromContext(r.Context())
	ctx := onboarding.WithChannel(r.Context(), "http")

	reply, err := h.conv.HandleUserMessage(ctx, username, req.UserInput)
	if err != nil {
		h.fail(w, r, "post_message", err)
		return
	}
	status, err := h.conv.CurrentStatus(ctx, username)
	if err != nil {
		h.fail(w, r, "post_message", err)
		return
	}

	h.logger.Debug("User message handled", "username", username, "day", status.CurrentDay, "message_length", len(req.UserInput))
	JSON(w, http.StatusOK, messageResponse{
		Response:       reply.Text,
		ShowMarkButton: reply.ShowAdvanceControl,
		Status:         status,
	})
}

// MarkComplete advances the user to the next onboarding day.
func (h *UserHandler) MarkComplete(w http.ResponseWriter, r *http.Request) {
	username := identity.UsernameFromContext(r.Context())
	ctx := onboarding.WithChannel(r.Context(), "http")

	adv, err := h.conv.AdvanceDay(ctx, username)
	if err != nil {
		h.fail(w, r, "mark_complete", err)
		return
	}
	status, err := h.conv.CurrentStatus(ctx, username)
	if err != nil {
		h.fail(w, r, "mark_complete", err)
		return
	}
	JSON(w, http.StatusOK, advanceResponse{
		Message:            adv.Text,
		OnboardingComplete: adv.Complete,
		Status:             status,
	})
}

// Export returns every stored answer and message for the user.
func (h *UserHandler) Export(w http.ResponseWriter, r *http.Request) {
	username := identity.UsernameFromContext(r.Context())
	transcript, err := h.conv.ExportTranscript(r.Context(), username)
	if err != nil {
		h.fail(w, r, "export", err)
		return
	}
	JSON(w, http.StatusOK, transcript)
}
