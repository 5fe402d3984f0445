package domain

// ChatMessage is the provider-agnostic chat message shape used by the LLM
// integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is a single text-generation call. Operations, when present,
// are the candidate tools bound to the call.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Operations   []Operation
	// Schema, when set, asks the model for JSON output matching it.
	Schema *OutputSchema
}

// OutputSchema names a JSON schema the model output should satisfy. Strict
// schemas must list every property as required and forbid extra ones.
type OutputSchema struct {
	Name   string
	Strict bool
	Schema []byte
}
