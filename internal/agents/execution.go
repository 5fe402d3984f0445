package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ops-agent/internal/domain"
)

const executionTopK = 10

// Execution performs routine operations and reports when it lacks the
// operations to do so.
type Execution struct {
	llm       TextGenerator
	discovery Discoverer
	fixes     Ledger
	timeout   time.Duration
}

func NewExecution(llm TextGenerator, discovery Discoverer, fixes Ledger, timeout time.Duration) (*Execution, error) {
	if llm == nil {
		return nil, errors.New("agents: text generator must not be nil")
	}
	if discovery == nil {
		return nil, errors.New("agents: discoverer must not be nil")
	}
	if fixes == nil {
		return nil, errors.New("agents: ledger must not be nil")
	}
	return &Execution{llm: llm, discovery: discovery, fixes: fixes, timeout: timeout}, nil
}

func (h *Execution) Name() domain.AgentName { return domain.AgentExecution }

func (h *Execution) Handle(ctx context.Context, req Request) (Result, error) {
	query := ExecutionQuery(req.Intent.AWSService, req.Prompt)
	ops, info := h.discovery.Discover(ctx, query, executionTopK)

	raw, err := generate(ctx, h.llm, h.timeout, domain.GenerateRequest{
		Prompt:       withContext(req.ContextText, req.Prompt),
		SystemPrompt: executionSystemPrompt(),
		Operations:   ops,
		Schema:       replySchema,
	})
	if err != nil {
		return Result{}, fmt.Errorf("agents: execution: %w", err)
	}

	reply := parseReply(raw)
	recordFixes(h.fixes, req.SessionID, reply.Fixes)
	fr := h.fixes.SnapshotAndClear(req.SessionID, ValidationSuggestions)
	return Result{
		Response:     reply.Response,
		ToolsInfo:    info,
		FixResult:    &fr,
		ToolsMissing: DetectToolsMissing(reply.Response),
	}, nil
}

// ExecutionQuery searches for operations matching the request itself.
func ExecutionQuery(service, request string) string {
	return strings.TrimSpace(service + " " + request)
}
