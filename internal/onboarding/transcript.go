package onboarding

import (
	"context"
	"fmt"
	"time"

	"github.com/chaturyaganne/ai-agent/internal/domain"
)

// Transcript is the export of everything stored for a user.
type Transcript struct {
	User                TranscriptUser              `json:"user"`
	OnboardingData      map[string]TranscriptAnswer `json:"onboarding_data"`
	ConversationHistory []TranscriptMessage         `json:"conversation_history"`
	ExportedAt          time.Time                   `json:"exported_at"`
}

// TranscriptUser holds the user's identity and progress.
type TranscriptUser struct {
	ID                 string    `json:"id"`
	Username           string    `json:"username"`
	CreatedAt          time.Time `json:"created_at"`
	OnboardingComplete bool      `json:"onboarding_complete"`
	OnboardingStep     int       `json:"onboarding_step"`
}

// TranscriptAnswer is one answered day, keyed by question key in Transcript.
type TranscriptAnswer struct {
	Day          int       `json:"day"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	Reply        string    `json:"reply,omitempty"`
	ResponseDate time.Time `json:"response_date"`
}

// TranscriptMessage is one persisted conversation message.
type TranscriptMessage struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Day       int       `json:"day"`
	Timestamp time.Time `json:"timestamp"`
}

// ExportTranscript assembles the user's answers and full conversation. It
// never creates the user.
func (o *Orchestrator) ExportTranscript(ctx context.Context, username string) (*Transcript, error) {
	var (
		user      *domain.User
		responses []*domain.OnboardingResponse
		messages  []*domain.ConversationMessage
	)
	err := o.locks.WithLock(ctx, "user:"+username, func(ctx context.Context) error {
		var err error
		user, err = o.repo.GetUserByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if user == nil {
			return ErrUserNotFound
		}
		h, err := o.history(ctx, user)
		if err != nil {
			return err
		}

		responses, err = o.repo.ListOnboardingResponses(ctx, user.UserID)
		if err != nil {
			return fmt.Errorf("list onboarding responses: %w", err)
		}
		messages, err = h.Full(ctx)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t := &Transcript{
		User: TranscriptUser{
			ID:                 user.UserID,
			Username:           user.Username,
			CreatedAt:          user.CreatedAt,
			OnboardingComplete: user.OnboardingComplete,
			OnboardingStep:     user.OnboardingStep,
		},
		OnboardingData:      make(map[string]TranscriptAnswer, len(responses)),
		ConversationHistory: make([]TranscriptMessage, 0, len(messages)),
		ExportedAt:          o.now().UTC(),
	}
	for _, r := range responses {
		t.OnboardingData[r.QuestionKey] = TranscriptAnswer{
			Day:          r.Day,
			Question:     r.QuestionText,
			Answer:       r.AnswerText,
			Reply:        r.ReplyText,
			ResponseDate: r.CreatedAt,
		}
	}
	for _, m := range messages {
		t.ConversationHistory = append(t.ConversationHistory, TranscriptMessage{
			Type:      string(m.Role),
			Content:   m.Content,
			Day:       m.Day,
			Timestamp: m.CreatedAt,
		})
	}
	return t, nil
}
