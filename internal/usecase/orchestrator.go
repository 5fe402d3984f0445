// Package usecase drives a request through classification, dispatch and
// recording.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ops-agent/internal/agents"
	"ops-agent/internal/classifier"
	"ops-agent/internal/domain"
	"ops-agent/internal/session"
)

const (
	defaultHistoryTurns    = 3
	defaultMaxPromptLength = 2000

	errorResponsePrefix  = "Sorry, I encountered an error: "
	defaultValidateInput = "Validate the fixes applied in this session"
)

type Classifier interface {
	Classify(ctx context.Context, sessionID, request string) classifier.Outcome
}

type Store interface {
	AppendTurn(ctx context.Context, sessionID string, turn domain.ConversationTurn) error
	RecentTurns(ctx context.Context, sessionID string, n int) ([]domain.ConversationTurn, error)
	SaveFixes(ctx context.Context, sessionID string, fixes []domain.FixAction) error
	ListFixes(ctx context.Context, sessionID string) ([]domain.FixAction, error)
	UpdateFixStatus(ctx context.Context, sessionID, actionID string, status domain.ValidationStatus) error
}

// FixLedger is cleared before each dispatch so fixes never carry over
// between requests.
type FixLedger interface {
	Clear(sessionID string)
}

// Handlers are the dispatch targets.
type Handlers struct {
	Troubleshooting agents.Handler
	Execution       agents.Handler
	Documentation   agents.Handler
	Validation      agents.Handler
}

type Orchestrator struct {
	classifier      Classifier
	store           Store
	fixes           FixLedger
	handlers        Handlers
	routes          map[domain.Category]agents.Handler
	locks           *session.Locker
	historyTurns    int
	maxPromptLength int
}

type Option func(*Orchestrator)

// WithHistoryTurns sets how many recent turns are rendered into handler
// context.
func WithHistoryTurns(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.historyTurns = n
		}
	}
}

// WithMaxPromptLength bounds the accepted prompt, in characters.
func WithMaxPromptLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPromptLength = n
		}
	}
}

type Input struct {
	Prompt    string
	SessionID string
	// ConversationHistory is caller-held history for display. The store is
	// authoritative for context.
	ConversationHistory []domain.HistoryEntry
}

type Output struct {
	Response           string
	AgentUsed          domain.AgentName
	Intent             domain.ClassificationResult
	SessionID          string
	NeedsClarification bool
	ToolsInfo          domain.ToolsInfo
	FixResult          *domain.FixResult
	RequiresValidation bool
	// DocumentationFallback is set when execution lacked operations and the
	// documentation handler answered instead.
	DocumentationFallback bool
	Error                 bool
	TotalTime             time.Duration
	AgentTime             time.Duration
	IntentTime            time.Duration
}

type ValidateInput struct {
	SessionID string
	Prompt    string
}

type ValidateOutput struct {
	Response     string
	SessionID    string
	Validations  []domain.ValidationOutcome
	AllValidated bool
	ToolsInfo    domain.ToolsInfo
	Error        bool
	TotalTime    time.Duration
	AgentTime    time.Duration
}

func New(c Classifier, store Store, fixes FixLedger, handlers Handlers, opts ...Option) (*Orchestrator, error) {
	if c == nil {
		return nil, errors.New("usecase: classifier must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if fixes == nil {
		return nil, errors.New("usecase: fix ledger must not be nil")
	}
	if handlers.Troubleshooting == nil || handlers.Execution == nil ||
		handlers.Documentation == nil || handlers.Validation == nil {
		return nil, errors.New("usecase: handlers must not be nil")
	}
	o := &Orchestrator{
		classifier: c,
		store:      store,
		fixes:      fixes,
		handlers:   handlers,
		routes: map[domain.Category]agents.Handler{
			domain.CategoryTroubleshooting: handlers.Troubleshooting,
			domain.CategoryExecution:       handlers.Execution,
		},
		locks:           session.NewLocker(),
		historyTurns:    defaultHistoryTurns,
		maxPromptLength: defaultMaxPromptLength,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Handle runs one turn. Only boundary validation returns an error; failures
// after classification produce an Output with Error set.
func (o *Orchestrator) Handle(ctx context.Context, in Input) (Output, error) {
	start := time.Now()
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return Output{}, newError(ErrorInvalidInput, "empty_prompt", nil)
	}
	if utf8.RuneCountInString(prompt) > o.maxPromptLength {
		return Output{}, newError(ErrorInvalidInput, "prompt_too_long", nil)
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}

	unlock := o.locks.Lock(sessionID)
	defer unlock()
	logger := log.With().Str("session_id", sessionID).Logger()
	logger.Debug().Int("caller_history", len(in.ConversationHistory)).Msg("request received")

	intentStart := time.Now()
	outcome := o.classifier.Classify(ctx, sessionID, prompt)
	out := Output{
		SessionID:  sessionID,
		Intent:     outcome.Result,
		IntentTime: time.Since(intentStart),
	}

	if outcome.NeedsClarification() {
		out.Response = outcome.Clarification.Question
		out.AgentUsed = domain.AgentIntentClassifier
		out.NeedsClarification = true
		out.TotalTime = time.Since(start)
		return out, nil
	}

	o.fixes.Clear(sessionID)
	req := agents.Request{
		SessionID:   sessionID,
		Prompt:      outcome.Request,
		Intent:      outcome.Result,
		ContextText: o.contextText(ctx, sessionID),
	}

	agentStart := time.Now()
	res, agent, fellBack, err := o.dispatch(ctx, req)
	out.AgentTime = time.Since(agentStart)
	out.AgentUsed = agent
	if out.AgentUsed == "" {
		out.AgentUsed = domain.AgentUnknown
	}
	if err != nil {
		logger.Error().Err(err).Str("agent", string(out.AgentUsed)).Msg("handler failed")
		out.Response = errorResponsePrefix + err.Error()
		out.Error = true
		out.TotalTime = time.Since(start)
		return out, nil
	}

	out.Response = res.Response
	out.ToolsInfo = res.ToolsInfo
	out.FixResult = res.FixResult
	out.RequiresValidation = res.FixResult != nil && res.FixResult.RequiresValidation
	out.DocumentationFallback = fellBack

	if err := o.store.AppendTurn(ctx, sessionID, domain.ConversationTurn{
		UserMessage:   prompt,
		AgentResponse: res.Response,
		AgentUsed:     agent,
		Timestamp:     now().UTC(),
	}); err != nil {
		logger.Warn().Err(err).Msg("record turn failed")
	}
	if res.FixResult != nil && res.FixResult.TotalFixes > 0 {
		logger.Info().Str("fixes", res.FixResult.Summary()).Msg("archiving fixes")
		if err := o.store.SaveFixes(ctx, sessionID, res.FixResult.FixesApplied); err != nil {
			logger.Warn().Err(err).Int("fixes", res.FixResult.TotalFixes).Msg("archive fixes failed")
		}
	}

	out.TotalTime = time.Since(start)
	logger.Info().
		Str("agent", string(agent)).
		Str("category", string(outcome.Result.IntentCategory)).
		Bool("documentation_fallback", fellBack).
		Bool("clarification_resolved", outcome.Merged).
		Bool("keyword_fallback", outcome.Fallback).
		Bool("discovery_used", !res.ToolsInfo.IsZero()).
		Dur("intent_time", out.IntentTime).
		Dur("agent_time", out.AgentTime).
		Dur("total_time", out.TotalTime).
		Msg("request handled")
	return out, nil
}

// Validate checks the session's archived fixes that are still pending and
// records the outcome of each.
func (o *Orchestrator) Validate(ctx context.Context, in ValidateInput) (ValidateOutput, error) {
	start := time.Now()
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return ValidateOutput{}, newError(ErrorInvalidInput, "missing_session", nil)
	}
	prompt := strings.TrimSpace(in.Prompt)
	if utf8.RuneCountInString(prompt) > o.maxPromptLength {
		return ValidateOutput{}, newError(ErrorInvalidInput, "prompt_too_long", nil)
	}

	unlock := o.locks.Lock(sessionID)
	defer unlock()
	logger := log.With().Str("session_id", sessionID).Logger()

	archived, err := o.store.ListFixes(ctx, sessionID)
	if err != nil {
		return ValidateOutput{}, newError(ErrorInternal, "fix_archive_read_error", err)
	}
	pending := make([]domain.FixAction, 0, len(archived))
	for _, f := range archived {
		if f.ValidationStatus == domain.ValidationPending {
			pending = append(pending, f)
		}
	}

	var contextText string
	if prompt != "" {
		contextText = "User note: " + prompt + "\n"
	}
	agentStart := time.Now()
	res, err := run(ctx, o.handlers.Validation, agents.Request{
		SessionID:   sessionID,
		Prompt:      prompt,
		ContextText: contextText,
		Fixes:       pending,
	})
	out := ValidateOutput{SessionID: sessionID, AgentTime: time.Since(agentStart)}
	if err != nil {
		logger.Error().Err(err).Msg("validation failed")
		out.Response = errorResponsePrefix + err.Error()
		out.Error = true
		out.TotalTime = time.Since(start)
		return out, nil
	}

	for _, v := range res.Validations {
		status, ok := v.Status.LedgerStatus()
		if !ok {
			continue
		}
		if err := o.store.UpdateFixStatus(ctx, sessionID, v.FixID, status); err != nil {
			return ValidateOutput{}, newError(ErrorInternal, "fix_archive_write_error", err)
		}
	}

	userMessage := prompt
	if userMessage == "" {
		userMessage = defaultValidateInput
	}
	if err := o.store.AppendTurn(ctx, sessionID, domain.ConversationTurn{
		UserMessage:   userMessage,
		AgentResponse: res.Response,
		AgentUsed:     domain.AgentValidation,
		Timestamp:     now().UTC(),
	}); err != nil {
		logger.Warn().Err(err).Msg("record turn failed")
	}

	out.Response = res.Response
	out.Validations = res.Validations
	out.AllValidated = res.AllValidated
	out.ToolsInfo = res.ToolsInfo
	out.TotalTime = time.Since(start)
	logger.Info().
		Int("checked", len(pending)).
		Bool("all_validated", res.AllValidated).
		Dur("total_time", out.TotalTime).
		Msg("fixes validated")
	return out, nil
}

// dispatch routes req by category. An execution result that lacks
// operations is answered by the documentation handler instead, keeping the
// execution tools info and fix result.
func (o *Orchestrator) dispatch(ctx context.Context, req agents.Request) (agents.Result, domain.AgentName, bool, error) {
	h, ok := o.routes[req.Intent.IntentCategory]
	if !ok {
		h = o.handlers.Documentation
	}
	agent := h.Name()
	res, err := run(ctx, h, req)
	if err != nil || agent != domain.AgentExecution || !res.ToolsMissing {
		return res, agent, false, err
	}

	log.Info().Str("session_id", req.SessionID).Msg("execution lacked operations, falling back to documentation")
	doc, err := run(ctx, o.handlers.Documentation, agents.Request{
		SessionID: req.SessionID,
		Prompt:    req.Prompt,
		Intent:    req.Intent,
	})
	if err != nil {
		return agents.Result{}, o.handlers.Documentation.Name(), true, err
	}
	doc.ToolsInfo = res.ToolsInfo
	doc.FixResult = res.FixResult
	return doc, o.handlers.Documentation.Name(), true, nil
}

// run calls h, converting a panic into an error.
func run(ctx context.Context, h agents.Handler, req agents.Request) (res agents.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("usecase: %s handler panic: %v", h.Name(), r)
		}
	}()
	return h.Handle(ctx, req)
}

func (o *Orchestrator) contextText(ctx context.Context, sessionID string) string {
	if o.historyTurns == 0 {
		return ""
	}
	turns, err := o.store.RecentTurns(ctx, sessionID, o.historyTurns)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("read history failed")
		return ""
	}
	return buildContextText(turns)
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = time.Now
