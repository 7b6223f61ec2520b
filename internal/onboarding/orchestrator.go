// Package onboarding drives Anton's seven-day guided conversation and the
// free chat that follows it.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaturyaganne/ai-agent/internal/catalog"
	"github.com/chaturyaganne/ai-agent/internal/convlog"
	"github.com/chaturyaganne/ai-agent/internal/domain"
	"github.com/chaturyaganne/ai-agent/internal/llm"
	"github.com/chaturyaganne/ai-agent/internal/memory"
	"github.com/chaturyaganne/ai-agent/internal/metrics"
	"github.com/chaturyaganne/ai-agent/internal/session"
	"github.com/chaturyaganne/ai-agent/internal/store"
)

var (
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUserNotFound is returned by read-only operations for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrConflict is returned when the user's day changed underneath an advance.
	ErrConflict = errors.New("onboarding state changed concurrently")
)

const (
	alreadyCompleteText = "All onboarding already complete! 🎉"
	completionNote      = "Onboarding complete"
	summaryValueLimit   = 100
)

// Responder produces assistant text. Implementations never fail; errors
// surface as fallback text.
type Responder interface {
	GenerateReply(ctx context.Context, prompt string, maxTokens int) string
	GenerateEmpathyAck(ctx context.Context, previousAnswer string, maxTokens int) string
	GenerateCheckIn(ctx context.Context, recentAnswers []domain.ProfileEntry, maxTokens int) string
}

// Reply is the result of HandleUserMessage.
type Reply struct {
	Text               string `json:"response"`
	ShowAdvanceControl bool   `json:"showMarkButton"`
}

// Advance is the result of AdvanceDay.
type Advance struct {
	Text     string `json:"message"`
	Complete bool   `json:"onboardingComplete"`
}

// Status is a read-only snapshot of a user's progress.
type Status struct {
	Username           string     `json:"username"`
	OnboardingStep     int        `json:"onboardingStep"`
	OnboardingComplete bool       `json:"onboardingComplete"`
	CurrentDay         int        `json:"currentDay"`
	CurrentQuestion    string     `json:"currentQuestion"`
	CreatedAt          time.Time  `json:"createdAt"`
	LastMessageAt      *time.Time `json:"lastMessageAt"`
}

// Orchestrator owns the onboarding state machine.
type Orchestrator struct {
	repo      store.Repository
	responder Responder
	catalog   *catalog.Catalog

	locks    *session.Registry
	policy   domain.ResubmitPolicy
	log      convlog.Logger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	capacity int

	mu       sync.Mutex
	sessions map[string]*History
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLocks sets the per-user lock registry.
func WithLocks(r *session.Registry) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.locks = r
		}
	}
}

// WithResubmitPolicy decides how repeated answers for a day are stored.
func WithResubmitPolicy(p domain.ResubmitPolicy) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.policy = p
		}
	}
}

// WithConversationLog mirrors persisted messages to an audit log.
func WithConversationLog(l convlog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics records advances and messages.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMemoryCapacity sets the size of each user's recent-turn window.
func WithMemoryCapacity(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// New creates an Orchestrator.
func New(repo store.Repository, responder Responder, cat *catalog.Catalog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:      repo,
		responder: responder,
		catalog:   cat,
		policy:    domain.ResubmitOverwrite,
		log:       convlog.Nop{},
		logger:    slog.Default(),
		now:       time.Now,
		capacity:  memory.DefaultCapacity,
		sessions:  make(map[string]*History),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.locks == nil {
		o.locks = session.NewRegistry(session.WithLogger(o.logger))
	}
	return o
}

func (o *Orchestrator) withUser(ctx context.Context, username string, fn func(ctx context.Context, user *domain.User, h *History) error) error {
	return o.locks.WithLock(ctx, "user:"+username, func(ctx context.Context) error {
		user, err := o.repo.GetOrCreateUser(ctx, username)
		if err != nil {
			return fmt.Errorf("get or create user: %w", err)
		}
		h, err := o.history(ctx, user)
		if err != nil {
			return err
		}
		return fn(ctx, user, h)
	})
}

// history returns the user's session, rebuilding its window from the store
// the first time the user is seen by this process. With a distributed lock
// other replicas may have written since, so the window is rebuilt every time.
func (o *Orchestrator) history(ctx context.Context, user *domain.User) (*History, error) {
	o.mu.Lock()
	h, ok := o.sessions[user.UserID]
	if ok {
		h.lastUsed = o.now()
	}
	o.mu.Unlock()
	if ok {
		h.user = user
		if o.locks.Distributed() {
			if err := h.rebuild(ctx); err != nil {
				return nil, err
			}
		}
		return h, nil
	}

	h = &History{
		user:    user,
		repo:    o.repo,
		window:  memory.NewWindow(o.capacity),
		log:     o.log,
		metrics: o.metrics,
		now:     o.now,
	}
	if err := h.rebuild(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	h.lastUsed = o.now()
	o.sessions[user.UserID] = h
	o.mu.Unlock()
	return h, nil
}

// EnsureUser creates the user if needed and returns it.
func (o *Orchestrator) EnsureUser(ctx context.Context, username string) (*domain.User, error) {
	user, err := o.repo.GetOrCreateUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}
	return user, nil
}

// InitializeSession greets the user and records the greeting. Completed users
// get a check-in built from their two most recent answers.
func (o *Orchestrator) InitializeSession(ctx context.Context, username string) (string, error) {
	var greeting string
	err := o.withUser(ctx, username, func(ctx context.Context, user *domain.User, h *History) error {
		if user.OnboardingComplete {
			responses, err := o.repo.ListOnboardingResponses(ctx, user.UserID)
			if err != nil {
				return fmt.Errorf("list onboarding responses: %w", err)
			}
			recent := domain.BuildProfile(responses).Recent(2)
			greeting = o.responder.GenerateCheckIn(ctx, recent, llm.CheckInTokens)
		} else {
			q, ok := o.catalog.Question(user.CurrentDay())
			if !ok {
				return fmt.Errorf("no question for day %d", user.CurrentDay())
			}
			greeting = o.catalog.Welcome() + q.Text
		}

		if _, err := h.Append(ctx, domain.RoleAssistant, greeting, user.CurrentDay()); err != nil {
			return err
		}
		o.logger.Info("session initialized",
			"user_id", user.UserID,
			"username", user.Username,
			"day", user.CurrentDay(),
			"onboarding_complete", user.OnboardingComplete,
		)
		return nil
	})
	if err != nil {
		return "", err
	}
	return greeting, nil
}

// HandleUserMessage records the user's message, stores it as the day's
// answer while onboarding, and returns Anton's reply. It never changes the
// user's day.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, username, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}

	var reply Reply
	err := o.withUser(ctx, username, func(ctx context.Context, user *domain.User, h *History) error {
		day := user.CurrentDay()
		if _, err := h.Append(ctx, domain.RoleUser, text, day); err != nil {
			return err
		}

		onboarding := user.IsOnboarding()
		saved := false
		if onboarding {
			q, ok := o.catalog.Question(day)
			if !ok {
				return fmt.Errorf("no question for day %d", day)
			}
			var err error
			saved, err = o.repo.SaveOnboardingResponse(ctx, &domain.OnboardingResponse{
				UserID:       user.UserID,
				Day:          day,
				QuestionKey:  q.Key,
				QuestionText: q.Text,
				AnswerText:   text,
			}, o.policy == domain.ResubmitOverwrite)
			if err != nil {
				return fmt.Errorf("save onboarding response: %w", err)
			}
			if !saved {
				o.logger.Info("kept first answer for day", "user_id", user.UserID, "day", day)
			}
		}

		insights := memory.ContentsByRole(h.Recent(), string(domain.RoleAssistant))
		answer := o.responder.GenerateReply(ctx, llm.ReplyPrompt(text, insights), llm.ReplyTokens)

		if _, err := h.Append(ctx, domain.RoleAssistant, answer, day); err != nil {
			return err
		}
		if saved {
			if err := o.repo.AttachOnboardingReply(ctx, user.UserID, day, answer); err != nil {
				return fmt.Errorf("attach onboarding reply: %w", err)
			}
		}

		reply = Reply{Text: answer, ShowAdvanceControl: onboarding}
		return nil
	})
	return reply, err
}

// AdvanceDay moves the user to the next day. Finishing day 7 completes
// onboarding and returns the personality profile summary. Completed users
// get a fixed message and nothing is written.
func (o *Orchestrator) AdvanceDay(ctx context.Context, username string) (Advance, error) {
	var result Advance
	err := o.withUser(ctx, username, func(ctx context.Context, user *domain.User, h *History) error {
		next, completes, err := user.NextStep()
		if errors.Is(err, domain.ErrAlreadyComplete) {
			o.metrics.ObserveAdvance("noop")
			result = Advance{Text: alreadyCompleteText, Complete: true}
			return nil
		}

		from := user.OnboardingStep
		updated, err := o.repo.AdvanceOnboarding(ctx, user.UserID, from)
		if errors.Is(err, store.ErrStaleStep) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("advance onboarding: %w", err)
		}
		if updated.OnboardingStep != next || updated.OnboardingComplete != completes {
			return fmt.Errorf("advance onboarding: store moved day %d to step %d, want %d", from, updated.OnboardingStep, next)
		}
		h.user = updated

		if completes {
			responses, err := o.repo.ListOnboardingResponses(ctx, user.UserID)
			if err != nil {
				return fmt.Errorf("list onboarding responses: %w", err)
			}
			summary := CompletionSummary(domain.BuildProfile(responses))
			if _, err := h.Append(ctx, domain.RoleSystem, completionNote, from); err != nil {
				return err
			}
			o.metrics.ObserveAdvance("completed")
			o.logger.Info("onboarding completed", "user_id", user.UserID, "answers", len(responses))
			result = Advance{Text: summary, Complete: true}
			return nil
		}

		q, ok := o.catalog.Question(next)
		if !ok {
			return fmt.Errorf("no question for day %d", next)
		}
		previous, err := o.repo.GetOnboardingResponse(ctx, user.UserID, from)
		if err != nil {
			return fmt.Errorf("get onboarding response: %w", err)
		}
		var answer string
		if previous != nil {
			answer = previous.AnswerText
		}

		empathy := o.responder.GenerateEmpathyAck(ctx, answer, llm.EmpathyTokens)
		text := fmt.Sprintf("%s\n\n**Day %d/%d:** %s", empathy, next, domain.FinalDay, q.Text)
		if _, err := h.Append(ctx, domain.RoleAssistant, text, next); err != nil {
			return err
		}

		o.metrics.ObserveAdvance("advanced")
		o.logger.Info("onboarding day advanced", "user_id", user.UserID, "day", next)
		result = Advance{Text: text, Complete: false}
		return nil
	})
	return result, err
}

// CurrentStatus returns the user's progress without writing anything.
func (o *Orchestrator) CurrentStatus(ctx context.Context, username string) (*Status, error) {
	user, err := o.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	last, err := o.repo.LastMessageAt(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("last message time: %w", err)
	}

	question := o.catalog.FreeChatPrompt()
	if user.IsOnboarding() {
		if q, ok := o.catalog.Question(user.CurrentDay()); ok {
			question = q.Text
		}
	}
	return &Status{
		Username:           user.Username,
		OnboardingStep:     user.OnboardingStep,
		OnboardingComplete: user.OnboardingComplete,
		CurrentDay:         user.CurrentDay(),
		CurrentQuestion:    question,
		CreatedAt:          user.CreatedAt,
		LastMessageAt:      last,
	}, nil
}

// Chat answers a message using only the caller-supplied turns as context.
// Nothing is persisted.
func (o *Orchestrator) Chat(ctx context.Context, userInput string, turns []memory.Turn) string {
	window := memory.NewWindow(o.capacity)
	window.Load(turns)
	insights := memory.ContentsByRole(window.Turns(), string(domain.RoleAssistant))
	return o.responder.GenerateReply(ctx, llm.ReplyPrompt(userInput, insights), llm.ReplyTokens)
}

// DeleteUser removes the user, its answers and messages, and forgets the
// in-memory session.
func (o *Orchestrator) DeleteUser(ctx context.Context, username string) error {
	return o.locks.WithLock(ctx, "user:"+username, func(ctx context.Context) error {
		user, err := o.repo.GetUserByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if user == nil {
			return ErrUserNotFound
		}
		if err := o.repo.DeleteUser(ctx, user.UserID); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		o.mu.Lock()
		delete(o.sessions, user.UserID)
		o.mu.Unlock()
		o.logger.Info("user deleted", "user_id", user.UserID, "username", username)
		return nil
	})
}

// CompletionSummary renders the end-of-onboarding message.
func CompletionSummary(profile domain.PersonalityProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 You've completed all %d onboarding days!\n\nHere's your personality profile:\n", domain.FinalDay)
	lines := make([]string, 0, len(profile.Entries))
	for _, e := range profile.Entries {
		value := e.Answer
		if r := []rune(value); len(r) > summaryValueLimit {
			value = string(r[:summaryValueLimit]) + "..."
		}
		lines = append(lines, fmt.Sprintf("**%s**: %s", e.Key, value))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}
