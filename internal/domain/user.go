// Package domain contains core domain types for the Anton companion.
package domain

import (
	"errors"
	"time"
)

// Onboarding runs for a fixed number of days, one question per day.
const (
	FirstDay      = 1
	FinalDay      = 7
	CompletedStep = FinalDay + 1
)

// ErrAlreadyComplete is returned when a completed user is asked to advance.
var ErrAlreadyComplete = errors.New("onboarding already complete")

// User represents a user in the system with their onboarding progress.
type User struct {
	UserID             string    `json:"user_id"`
	Username           string    `json:"username"`
	OnboardingStep     int       `json:"onboarding_step"`
	OnboardingComplete bool      `json:"onboarding_complete"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsOnboarding returns true while the user still has onboarding days left.
func (u *User) IsOnboarding() bool {
	return u.OnboardingStep <= FinalDay
}

// CurrentDay returns the onboarding day used to tag new records.
// After completion the day is frozen at FinalDay.
func (u *User) CurrentDay() int {
	if u.OnboardingStep < FirstDay {
		return FirstDay
	}
	if u.OnboardingStep > FinalDay {
		return FinalDay
	}
	return u.OnboardingStep
}

// NextStep returns the step that follows the current one and whether that
// step completes onboarding.
func (u *User) NextStep() (int, bool, error) {
	if !u.IsOnboarding() {
		return u.OnboardingStep, true, ErrAlreadyComplete
	}
	next := u.OnboardingStep + 1
	return next, next > FinalDay, nil
}
