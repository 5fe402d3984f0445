package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ops-agent/internal/domain"
)

const troubleshootingTopK = 15

// Troubleshooting diagnoses failures and applies safe fixes.
type Troubleshooting struct {
	llm       TextGenerator
	discovery Discoverer
	fixes     Ledger
	timeout   time.Duration
}

func NewTroubleshooting(llm TextGenerator, discovery Discoverer, fixes Ledger, timeout time.Duration) (*Troubleshooting, error) {
	if llm == nil {
		return nil, errors.New("agents: text generator must not be nil")
	}
	if discovery == nil {
		return nil, errors.New("agents: discoverer must not be nil")
	}
	if fixes == nil {
		return nil, errors.New("agents: ledger must not be nil")
	}
	return &Troubleshooting{llm: llm, discovery: discovery, fixes: fixes, timeout: timeout}, nil
}

func (h *Troubleshooting) Name() domain.AgentName { return domain.AgentTroubleshooting }

func (h *Troubleshooting) Handle(ctx context.Context, req Request) (Result, error) {
	query := TroubleshootingQuery(req.Intent.AWSService)
	ops, info := h.discovery.Discover(ctx, query, troubleshootingTopK)

	raw, err := generate(ctx, h.llm, h.timeout, domain.GenerateRequest{
		Prompt:       withContext(req.ContextText, req.Prompt),
		SystemPrompt: troubleshootingSystemPrompt(),
		Operations:   ops,
		Schema:       replySchema,
	})
	if err != nil {
		return Result{}, fmt.Errorf("agents: troubleshooting: %w", err)
	}

	reply := parseReply(raw)
	recordFixes(h.fixes, req.SessionID, reply.Fixes)
	fr := h.fixes.SnapshotAndClear(req.SessionID, ValidationSuggestions)
	return Result{Response: reply.Response, ToolsInfo: info, FixResult: &fr}, nil
}

// TroubleshootingQuery targets log and configuration operations for service.
func TroubleshootingQuery(service string) string {
	return strings.TrimSpace(service + " get function configuration filter log events get log events describe log groups")
}
