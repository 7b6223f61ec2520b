package llm

import (
	"fmt"
	"strings"

	"github.com/chaturyaganne/ai-agent/internal/domain"
)

// Token budgets per operation.
const (
	ReplyTokens   = 50
	EmpathyTokens = 40
	CheckInTokens = 60
)

// checkInAnswerLimit caps each answer quoted in a check-in prompt.
const checkInAnswerLimit = 100

// SystemPrompt is Anton's persona.
const SystemPrompt = `You are Anton, an empathetic AI companion for Hytribe.
- Respond warmly, peer-like, non-judgmental.
- Ask emotional questions and comment empathetically.
- Keep responses concise (max 50 tokens).
- Reference previous insights naturally.
- Never give therapeutic advice or diagnosis.`

// ReplyPrompt composes the persona, prior assistant turns and the user input.
func ReplyPrompt(userInput string, insights []string) string {
	var b strings.Builder
	b.WriteString(SystemPrompt)
	b.WriteString("\n")
	if len(insights) > 0 {
		b.WriteString("Previous insights:\n")
		b.WriteString(strings.Join(insights, "\n"))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "User: %s\nAnton:", userInput)
	return b.String()
}

// EmpathyPrompt asks for a short acknowledgment of a previous answer.
func EmpathyPrompt(previousAnswer string) string {
	return fmt.Sprintf(`You are Anton, an empathetic AI companion.
The user previously shared: '%s'
Respond with warmth, empathy, and acknowledgment in 1-2 sentences, then ask how they're doing today.`, previousAnswer)
}

// CheckInPrompt references the given answers, each truncated to 100 characters.
func CheckInPrompt(answers []domain.ProfileEntry) string {
	lines := make([]string, 0, len(answers))
	for _, a := range answers {
		lines = append(lines, fmt.Sprintf("- %s: %s", a.Key, truncateRunes(a.Answer, checkInAnswerLimit)))
	}
	return fmt.Sprintf(`You are Anton, an empathetic AI companion checking in with the user.
Previous insights:
%s

Write a warm, brief check-in message (2-3 sentences) asking how they're doing today related to these areas.`, strings.Join(lines, "\n"))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
