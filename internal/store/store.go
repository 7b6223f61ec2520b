// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/chaturyaganne/ai-agent/internal/domain"
)

// ErrStaleStep is returned by AdvanceOnboarding when the user's step no longer
// matches the step the caller read.
var ErrStaleStep = errors.New("onboarding step changed concurrently")

// ErrNotFound is returned when a record required by an update does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting users, onboarding answers
// and conversation messages.
type Repository interface {
	// GetOrCreateUser returns the user with the given username, creating it at
	// onboarding step 1 if it does not exist.
	GetOrCreateUser(ctx context.Context, username string) (*domain.User, error)

	// GetUserByUsername retrieves a user. Returns nil, nil when not found.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// AdvanceOnboarding moves the user from fromStep to fromStep+1 and marks
	// onboarding complete when the new step passes the final day. The update
	// only applies if the stored step still equals fromStep.
	AdvanceOnboarding(ctx context.Context, userID string, fromStep int) (*domain.User, error)

	// DeleteUser removes a user together with its responses and messages.
	DeleteUser(ctx context.Context, userID string) error

	// SaveOnboardingResponse stores the answer for (user, day). If a row already
	// exists it is replaced when overwrite is true and left untouched
	// otherwise. The returned flag reports whether the answer was written.
	SaveOnboardingResponse(ctx context.Context, resp *domain.OnboardingResponse, overwrite bool) (bool, error)

	// AttachOnboardingReply sets the generated reply on the (user, day) response.
	AttachOnboardingReply(ctx context.Context, userID string, day int, reply string) error

	// GetOnboardingResponse retrieves the response for a day. Returns nil, nil when not found.
	GetOnboardingResponse(ctx context.Context, userID string, day int) (*domain.OnboardingResponse, error)

	// ListOnboardingResponses returns all responses for a user ordered by day.
	ListOnboardingResponses(ctx context.Context, userID string) ([]*domain.OnboardingResponse, error)

	// AppendMessage appends a message to the user's conversation log.
	AppendMessage(ctx context.Context, msg *domain.ConversationMessage) error

	// ListMessages returns the full conversation log in chronological order.
	ListMessages(ctx context.Context, userID string) ([]*domain.ConversationMessage, error)

	// RecentMessages returns the last limit non-system messages in chronological order.
	RecentMessages(ctx context.Context, userID string, limit int) ([]*domain.ConversationMessage, error)

	// LastMessageAt returns the creation time of the newest message, or nil.
	LastMessageAt(ctx context.Context, userID string) (*time.Time, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
