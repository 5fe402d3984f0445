// Package agents implements the handlers the orchestrator dispatches to:
// troubleshooting, execution, documentation and validation.
package agents

import (
	"context"
	"time"

	"ops-agent/internal/domain"
	"ops-agent/internal/ledger"
)

const defaultTimeout = 60 * time.Second

// ValidationSuggestions accompany every troubleshooting and execution report.
var ValidationSuggestions = []string{
	"verify the issue has been resolved",
	"check system performance after fixes",
	"monitor for any side effects",
}

// TextGenerator is the language-model call.
type TextGenerator interface {
	GenerateText(ctx context.Context, req domain.GenerateRequest) (string, error)
}

// Discoverer narrows the operation catalog for a query. It never fails; an
// unreachable catalog yields no operations.
type Discoverer interface {
	Discover(ctx context.Context, query string, topK int) ([]domain.Operation, domain.ToolsInfo)
}

// Ledger is the fix ledger as seen by handlers.
type Ledger interface {
	Append(sessionID string, e ledger.Entry) (domain.FixAction, error)
	SnapshotAndClear(sessionID string, suggestions []string) domain.FixResult
}

// Request is the input to every handler.
type Request struct {
	SessionID   string
	Prompt      string
	Intent      domain.ClassificationResult
	ContextText string
	// Fixes are the actions to check; only the validation handler reads them.
	Fixes []domain.FixAction
}

// Result is the single result shape every handler produces.
type Result struct {
	Response  string
	ToolsInfo domain.ToolsInfo
	// FixResult is set by handlers that can change infrastructure.
	FixResult    *domain.FixResult
	ToolsMissing bool
	Validations  []domain.ValidationOutcome
	AllValidated bool
}

// Handler is one dispatch target.
type Handler interface {
	Name() domain.AgentName
	Handle(ctx context.Context, req Request) (Result, error)
}

// generate runs one bounded model call.
func generate(ctx context.Context, llm TextGenerator, timeout time.Duration, req domain.GenerateRequest) (string, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return llm.GenerateText(callCtx, req)
}
