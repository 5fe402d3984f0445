package domain

import "time"

// AgentName identifies which responder produced a turn.
type AgentName string

const (
	AgentIntentClassifier AgentName = "intent_classifier"
	AgentTroubleshooting  AgentName = "troubleshooting"
	AgentExecution        AgentName = "execution"
	AgentDocumentation    AgentName = "documentation"
	AgentValidation       AgentName = "validation"
	AgentUnknown          AgentName = "unknown"
)

// ConversationTurn is a single recorded request/response pair. Turns are
// append-only.
type ConversationTurn struct {
	UserMessage   string    `json:"user_message"`
	AgentResponse string    `json:"agent_response"`
	AgentUsed     AgentName `json:"agent_used"`
	Timestamp     time.Time `json:"timestamp"`
}

// PendingClarification is the question outstanding for a session. The next
// request in that session consumes it.
type PendingClarification struct {
	OriginalRequest       string   `json:"original_request"`
	ClarificationQuestion string   `json:"clarification_question"`
	SuggestedCategory     Category `json:"suggested_category"`
}

// HistoryEntry is a caller-supplied prior exchange. It seeds display layers
// only.
type HistoryEntry struct {
	UserMessage   string `json:"user_message"`
	AgentResponse string `json:"agent_response"`
}
