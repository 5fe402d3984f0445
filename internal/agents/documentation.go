package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ops-agent/internal/domain"
)

// Documentation answers with guidance when no operation can serve the request.
type Documentation struct {
	llm     TextGenerator
	timeout time.Duration
}

func NewDocumentation(llm TextGenerator, timeout time.Duration) (*Documentation, error) {
	if llm == nil {
		return nil, errors.New("agents: text generator must not be nil")
	}
	return &Documentation{llm: llm, timeout: timeout}, nil
}

func (h *Documentation) Name() domain.AgentName { return domain.AgentDocumentation }

func (h *Documentation) Handle(ctx context.Context, req Request) (Result, error) {
	raw, err := generate(ctx, h.llm, h.timeout, domain.GenerateRequest{
		Prompt: buildDocumentationPrompt(req.Prompt),
	})
	if err != nil {
		return Result{}, fmt.Errorf("agents: documentation: %w", err)
	}
	return Result{Response: orEmptyReply(raw)}, nil
}
