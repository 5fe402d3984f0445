// Package classifier decides which handler a request belongs to and runs the
// per-session clarification cycle.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ops-agent/internal/domain"
)

const (
	defaultHistoryTurns = 3
	defaultTimeout      = 60 * time.Second
	minWords            = 4

	// DefaultQuestion is asked when the model cannot phrase a clarification.
	DefaultQuestion = "Could you provide more details about what AWS service or action you'd like help with?"
)

var (
	troubleshootingKeywords = []string{"fail", "error", "issue", "problem", "why", "debug", "troubleshoot"}
	ambiguousKeywords       = []string{"help", "maybe", "could", "might", "not sure"}
)

// TextGenerator is the language-model call.
type TextGenerator interface {
	GenerateText(ctx context.Context, req domain.GenerateRequest) (string, error)
}

// Store is the part of the conversation store the classifier reads and writes.
type Store interface {
	RecentTurns(ctx context.Context, sessionID string, n int) ([]domain.ConversationTurn, error)
	SetPendingClarification(ctx context.Context, sessionID string, p domain.PendingClarification) error
	TakePendingClarification(ctx context.Context, sessionID string) (domain.PendingClarification, bool, error)
}

// Clarification is the question returned instead of a category.
type Clarification struct {
	Question          string
	SuggestedCategory domain.Category
}

// Outcome is either a resolved classification or a clarification request.
type Outcome struct {
	// Result is the classification. Its category is CLARIFICATION when
	// Clarification is set.
	Result        domain.ClassificationResult
	Clarification *Clarification
	// Request is the text that was classified; it differs from the user's
	// message when a pending clarification was merged in.
	Request string
	Merged  bool
	// Fallback reports that the keyword heuristic replaced the model.
	Fallback bool
}

// NeedsClarification reports whether the turn ends with a question.
func (o Outcome) NeedsClarification() bool {
	return o.Clarification != nil
}

// Classifier routes requests. It never returns an error: model and store
// failures degrade to deterministic behaviour.
type Classifier struct {
	llm          TextGenerator
	store        Store
	historyTurns int
	timeout      time.Duration
}

type Option func(*Classifier)

// WithHistoryTurns sets how many recent turns inform classification.
func WithHistoryTurns(n int) Option {
	return func(c *Classifier) {
		if n >= 0 {
			c.historyTurns = n
		}
	}
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(llm TextGenerator, store Store, opts ...Option) (*Classifier, error) {
	if llm == nil {
		return nil, errors.New("classifier: text generator must not be nil")
	}
	if store == nil {
		return nil, errors.New("classifier: store must not be nil")
	}
	c := &Classifier{
		llm:          llm,
		store:        store,
		historyTurns: defaultHistoryTurns,
		timeout:      defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify resolves request for sessionID. A pending clarification is consumed
// and merged with request; the merged request is never sent back for
// clarification.
func (c *Classifier) Classify(ctx context.Context, sessionID, request string) Outcome {
	logger := log.With().Str("session_id", sessionID).Logger()

	pending, ok, err := c.store.TakePendingClarification(ctx, sessionID)
	if err != nil {
		logger.Warn().Err(err).Msg("read pending clarification failed")
	}
	if ok {
		merged := strings.TrimSpace(pending.OriginalRequest + " " + request)
		result, fallback := c.classify(ctx, sessionID, merged)
		logger.Info().
			Str("category", string(result.IntentCategory)).
			Str("confidence", string(result.Confidence)).
			Msg("clarification resolved")
		return Outcome{Result: result, Request: merged, Merged: true, Fallback: fallback}
	}

	result, fallback := c.classify(ctx, sessionID, request)
	out := Outcome{Result: result, Request: request, Fallback: fallback}
	if !NeedsClarification(result, request) {
		logger.Info().
			Str("category", string(result.IntentCategory)).
			Str("confidence", string(result.Confidence)).
			Bool("fallback", fallback).
			Msg("intent classified")
		return out
	}

	suggested := result.IntentCategory
	if suggested == "" || suggested == domain.CategoryClarification {
		suggested = domain.CategoryExecution
	}
	question := c.clarifyingQuestion(ctx, request, result)
	if err := c.store.SetPendingClarification(ctx, sessionID, domain.PendingClarification{
		OriginalRequest:       request,
		ClarificationQuestion: question,
		SuggestedCategory:     suggested,
	}); err != nil {
		logger.Warn().Err(err).Msg("store pending clarification failed")
	}
	logger.Info().Str("suggested_category", string(suggested)).Msg("clarification requested")

	out.Clarification = &Clarification{Question: question, SuggestedCategory: suggested}
	out.Result = domain.ClassificationResult{
		IntentCategory: domain.CategoryClarification,
		AWSService:     result.AWSService,
		Confidence:     domain.ConfidenceLow,
		Reasoning:      result.Reasoning,
	}
	return out
}

func (c *Classifier) classify(ctx context.Context, sessionID, request string) (domain.ClassificationResult, bool) {
	turns, err := c.store.RecentTurns(ctx, sessionID, c.historyTurns)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("read history failed")
		turns = nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	raw, err := c.llm.GenerateText(callCtx, domain.GenerateRequest{
		Prompt:       buildClassificationPrompt(request, turns),
		SystemPrompt: buildSystemPrompt(),
		Schema:       classificationSchema,
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("classification call failed, using keyword fallback")
		return KeywordFallback(request), true
	}
	result, err := parseClassification(raw)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("classification output invalid, using keyword fallback")
		return KeywordFallback(request), true
	}
	return result, false
}

func (c *Classifier) clarifyingQuestion(ctx context.Context, request string, result domain.ClassificationResult) string {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	q, err := c.llm.GenerateText(callCtx, domain.GenerateRequest{Prompt: buildClarificationPrompt(request, result)})
	if err != nil {
		log.Warn().Err(err).Msg("clarification call failed, using default question")
		return DefaultQuestion
	}
	if q = strings.TrimSpace(q); q == "" {
		return DefaultQuestion
	}
	return q
}

// KeywordFallback classifies without the model.
func KeywordFallback(request string) domain.ClassificationResult {
	category := domain.CategoryExecution
	if containsAny(strings.ToLower(request), troubleshootingKeywords) {
		category = domain.CategoryTroubleshooting
	}
	return domain.ClassificationResult{
		IntentCategory: category,
		AWSService:     "unknown",
		Confidence:     domain.ConfidenceMedium,
		Reasoning:      "keyword fallback",
	}
}

// NeedsClarification applies the clarification triggers; any one suffices.
func NeedsClarification(result domain.ClassificationResult, request string) bool {
	return result.Confidence == domain.ConfidenceLow ||
		len(strings.Fields(request)) < minWords ||
		containsAny(strings.ToLower(request), ambiguousKeywords)
}

type classificationPayload struct {
	IntentCategory string `json:"intent_category"`
	AWSService     string `json:"aws_service"`
	Confidence     string `json:"confidence"`
	Reasoning      string `json:"reasoning"`
}

// parseClassification reads the outermost JSON object in raw. A missing
// confidence means high; an unrecognised one means medium.
func parseClassification(raw string) (domain.ClassificationResult, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return domain.ClassificationResult{}, errors.New("classifier: no JSON object in output")
	}

	var p classificationPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("classifier: decode output: %w", err)
	}
	category := domain.Category(strings.ToUpper(strings.TrimSpace(p.IntentCategory)))
	if category == "" {
		return domain.ClassificationResult{}, errors.New("classifier: output missing intent_category")
	}

	confidence := domain.Confidence(strings.ToLower(strings.TrimSpace(p.Confidence)))
	switch {
	case confidence == "":
		confidence = domain.ConfidenceHigh
	case !confidence.Valid():
		confidence = domain.ConfidenceMedium
	}
	service := strings.TrimSpace(p.AWSService)
	if service == "" {
		service = "unknown"
	}
	return domain.ClassificationResult{
		IntentCategory: category,
		AWSService:     service,
		Confidence:     confidence,
		Reasoning:      strings.TrimSpace(p.Reasoning),
	}, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
