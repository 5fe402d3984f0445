package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ops-agent/internal/domain"
)

const (
	validationTopK  = 15
	validationQuery = "validate check status describe get configuration"

	// NoFixesMessage is the response when there is nothing to validate.
	NoFixesMessage = "No fixes to validate"
)

type validationReport struct {
	Summary string            `json:"summary"`
	Results []validationCheck `json:"results"`
}

type validationCheck struct {
	FixID   string `json:"fix_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Validation checks that earlier fixes hold.
type Validation struct {
	llm       TextGenerator
	discovery Discoverer
	timeout   time.Duration
}

func NewValidation(llm TextGenerator, discovery Discoverer, timeout time.Duration) (*Validation, error) {
	if llm == nil {
		return nil, errors.New("agents: text generator must not be nil")
	}
	if discovery == nil {
		return nil, errors.New("agents: discoverer must not be nil")
	}
	return &Validation{llm: llm, discovery: discovery, timeout: timeout}, nil
}

func (h *Validation) Name() domain.AgentName { return domain.AgentValidation }

// Handle returns one outcome per fix in req.Fixes. Outcomes the model does
// not resolve stay PENDING.
func (h *Validation) Handle(ctx context.Context, req Request) (Result, error) {
	if len(req.Fixes) == 0 {
		return Result{Response: NoFixesMessage, Validations: []domain.ValidationOutcome{}, AllValidated: true}, nil
	}

	ops, info := h.discovery.Discover(ctx, validationQuery, validationTopK)
	raw, err := generate(ctx, h.llm, h.timeout, domain.GenerateRequest{
		Prompt:       buildValidationRequest(req.Fixes, req.ContextText),
		SystemPrompt: validationSystemPrompt(),
		Operations:   ops,
		Schema:       validationSchema,
	})
	if err != nil {
		return Result{}, fmt.Errorf("agents: validation: %w", err)
	}

	checks := map[string]validationCheck{}
	response := orEmptyReply(raw)
	var report validationReport
	if err := decodeStrict(raw, &report); err != nil {
		log.Warn().Err(err).Str("session_id", req.SessionID).Msg("validation output invalid, leaving checks pending")
	} else {
		for _, c := range report.Results {
			checks[c.FixID] = c
		}
		if s := strings.TrimSpace(report.Summary); s != "" {
			response = s
		}
	}

	outcomes := make([]domain.ValidationOutcome, 0, len(req.Fixes))
	all := true
	for _, f := range req.Fixes {
		o := pendingOutcome(f)
		if c, ok := checks[f.ActionID]; ok {
			switch status := domain.CheckStatus(strings.ToUpper(strings.TrimSpace(c.Status))); status {
			case domain.CheckPass, domain.CheckFail:
				o.Status = status
				if m := strings.TrimSpace(c.Message); m != "" {
					o.Message = m
				}
			}
		}
		if o.Status != domain.CheckPass {
			all = false
		}
		outcomes = append(outcomes, o)
	}
	return Result{Response: response, ToolsInfo: info, Validations: outcomes, AllValidated: all}, nil
}

func pendingOutcome(f domain.FixAction) domain.ValidationOutcome {
	return domain.ValidationOutcome{
		FixID:     f.ActionID,
		Resource:  f.ResourceIdentifier,
		Status:    domain.CheckPending,
		Message:   "Validation pending for " + f.Description,
		Timestamp: f.Timestamp,
	}
}
