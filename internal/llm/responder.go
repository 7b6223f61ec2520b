package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaturyaganne/ai-agent/internal/domain"
	"github.com/chaturyaganne/ai-agent/internal/metrics"
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 30 * time.Second

// Fallback texts returned in place of generated text.
const (
	FallbackUnauthenticated = "Error: Your HF_TOKEN may be invalid. Please verify your token on huggingface.co/settings/tokens"
	FallbackTimeout         = "I'm thinking about what you said... please try again in a moment."
	FallbackUnavailable     = "I'm having trouble responding right now. Please try again."
)

// Responder exposes the reply, empathy and check-in operations on top of a
// Generator. It never fails: every error becomes a fallback text.
type Responder struct {
	gen     Generator
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithTimeout sets the per-call generation timeout.
func WithTimeout(d time.Duration) ResponderOption {
	return func(r *Responder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ResponderOption {
	return func(r *Responder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records generation outcomes.
func WithMetrics(m *metrics.Metrics) ResponderOption {
	return func(r *Responder) { r.metrics = m }
}

// NewResponder creates a Responder backed by gen.
func NewResponder(gen Generator, opts ...ResponderOption) *Responder {
	r := &Responder{
		gen:     gen,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GenerateReply answers a fully composed conversation prompt.
func (r *Responder) GenerateReply(ctx context.Context, prompt string, maxTokens int) string {
	return r.generate(ctx, "reply", prompt, maxTokens)
}

// GenerateEmpathyAck acknowledges the user's previous answer.
func (r *Responder) GenerateEmpathyAck(ctx context.Context, previousAnswer string, maxTokens int) string {
	return r.generate(ctx, "empathy", EmpathyPrompt(previousAnswer), maxTokens)
}

// GenerateCheckIn writes a check-in referencing recent answers.
func (r *Responder) GenerateCheckIn(ctx context.Context, recentAnswers []domain.ProfileEntry, maxTokens int) string {
	return r.generate(ctx, "check_in", CheckInPrompt(recentAnswers), maxTokens)
}

func (r *Responder) generate(ctx context.Context, operation, prompt string, maxTokens int) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	text, err := r.gen.Generate(ctx, Request{Prompt: prompt, MaxTokens: maxTokens})
	outcome := Classify(err)
	r.metrics.ObserveGeneration(operation, string(outcome), time.Since(start))

	if err != nil {
		r.logger.Warn("text generation failed",
			"operation", operation,
			"backend", r.gen.Name(),
			"outcome", outcome,
			"error", err,
		)
		return fallback(outcome, err)
	}
	return Sanitize(text)
}

func fallback(outcome Outcome, err error) string {
	switch outcome {
	case OutcomeMissingCredential:
		provider, variable := "HuggingFace", "HF_TOKEN"
		var m *MissingCredentialError
		if errors.As(err, &m) {
			variable = m.Variable
			if m.Provider != "" {
				provider = m.Provider
			}
		}
		return fmt.Sprintf("Error: %s environment variable not set. Please set your %s token.", variable, provider)
	case OutcomeUnauthenticated:
		return FallbackUnauthenticated
	case OutcomeTimeout:
		return FallbackTimeout
	default:
		return FallbackUnavailable
	}
}
