package usecase

import (
	"strings"

	"ops-agent/internal/domain"
)

const contextResponseRunes = 200

// buildContextText renders recent turns as a preamble for handler prompts.
// It is empty when there is no history.
func buildContextText(turns []domain.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous conversation context:\n")
	for _, t := range turns {
		b.WriteString("User: ")
		b.WriteString(t.UserMessage)
		b.WriteString("\nAssistant: ")
		b.WriteString(truncateRunes(t.AgentResponse, contextResponseRunes))
		b.WriteString("...\n")
	}
	b.WriteString("\nCurrent request (consider the above context):\n")
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
