package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// OnboardingResponse is a user's answer to one day's question.
type OnboardingResponse struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Day          int       `json:"day"`
	QuestionKey  string    `json:"question_key"`
	QuestionText string    `json:"question_text"`
	AnswerText   string    `json:"answer_text"`
	ReplyText    string    `json:"reply_text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ResubmitPolicy decides what happens when a day is answered more than once
// before the user advances.
type ResubmitPolicy string

const (
	// ResubmitOverwrite keeps a single row per day holding the latest answer.
	ResubmitOverwrite ResubmitPolicy = "overwrite"
	// ResubmitKeepFirst keeps the first answer and ignores later ones.
	ResubmitKeepFirst ResubmitPolicy = "keep-first"
)

// ParseResubmitPolicy parses a policy name. Empty input yields the default.
func ParseResubmitPolicy(s string) (ResubmitPolicy, error) {
	switch ResubmitPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ResubmitOverwrite:
		return ResubmitOverwrite, nil
	case ResubmitKeepFirst:
		return ResubmitKeepFirst, nil
	default:
		return "", fmt.Errorf("unknown resubmit policy %q", s)
	}
}

// ProfileEntry is one answered question in a personality profile.
type ProfileEntry struct {
	Day    int    `json:"day"`
	Key    string `json:"key"`
	Answer string `json:"answer"`
}

// PersonalityProfile aggregates a user's onboarding answers, ordered by day.
type PersonalityProfile struct {
	Entries []ProfileEntry `json:"entries"`
}

// BuildProfile aggregates responses into a profile. When a key appears more
// than once the later day wins.
func BuildProfile(responses []*OnboardingResponse) PersonalityProfile {
	sorted := make([]*OnboardingResponse, 0, len(responses))
	for _, r := range responses {
		if r != nil {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Day < sorted[j].Day })

	index := make(map[string]int, len(sorted))
	var profile PersonalityProfile
	for _, r := range sorted {
		entry := ProfileEntry{Day: r.Day, Key: r.QuestionKey, Answer: r.AnswerText}
		if i, ok := index[r.QuestionKey]; ok {
			profile.Entries[i] = entry
			continue
		}
		index[r.QuestionKey] = len(profile.Entries)
		profile.Entries = append(profile.Entries, entry)
	}
	return profile
}

// Recent returns up to n entries with the highest days, oldest first.
func (p PersonalityProfile) Recent(n int) []ProfileEntry {
	if n <= 0 {
		return nil
	}
	if n >= len(p.Entries) {
		return append([]ProfileEntry(nil), p.Entries...)
	}
	return append([]ProfileEntry(nil), p.Entries[len(p.Entries)-n:]...)
}
