// Package handler adapts API Gateway proxy events to the orchestrator.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ops-agent/internal/domain"
	"ops-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type UseCase interface {
	Handle(ctx context.Context, in usecase.Input) (usecase.Output, error)
	Validate(ctx context.Context, in usecase.ValidateInput) (usecase.ValidateOutput, error)
}

type Handler struct {
	uc UseCase
}

func NewHandler(uc UseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

type askRequest struct {
	Prompt              string                `json:"prompt"`
	SessionID           string                `json:"session_id"`
	ConversationHistory []domain.HistoryEntry `json:"conversation_history"`
}

type askResponse struct {
	Response              string                      `json:"response"`
	AgentUsed             domain.AgentName            `json:"agent_used"`
	Intent                domain.ClassificationResult `json:"intent"`
	SessionID             string                      `json:"session_id"`
	NeedsClarification    bool                        `json:"needs_clarification"`
	ToolsInfo             domain.ToolsInfo            `json:"tools_info"`
	FixResult             *domain.FixResult           `json:"fix_result,omitempty"`
	RequiresValidation    bool                        `json:"requires_validation"`
	DocumentationFallback bool                        `json:"documentation_fallback,omitempty"`
	Error                 bool                        `json:"error,omitempty"`
	TotalTime             float64                     `json:"total_time"`
	AgentTime             float64                     `json:"agent_time"`
	IntentTime            float64                     `json:"intent_time"`
}

type validateRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

type validateResponse struct {
	Response     string                     `json:"response"`
	SessionID    string                     `json:"session_id"`
	Validations  []domain.ValidationOutcome `json:"validations"`
	AllValidated bool                       `json:"all_validated"`
	ToolsInfo    domain.ToolsInfo           `json:"tools_info"`
	Error        bool                       `json:"error,omitempty"`
	TotalTime    float64                    `json:"total_time"`
	AgentTime    float64                    `json:"agent_time"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle serves POST /ask and POST /validate. It never returns an error;
// failures are mapped onto status codes.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := log.With().Str("correlation_id", correlationID).Str("path", event.Path).Logger()

	if event.HTTPMethod != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: "METHOD_NOT_ALLOWED"}), nil
	}

	switch route(event.Path) {
	case "ask":
		var req askRequest
		if err := decodeBody(event.Body, &req); err != nil {
			logger.Warn().Err(err).Msg("invalid request body")
			return invalidBody(correlationID), nil
		}
		out, err := h.uc.Handle(ctx, usecase.Input{
			Prompt:              req.Prompt,
			SessionID:           req.SessionID,
			ConversationHistory: req.ConversationHistory,
		})
		if err != nil {
			return errorResult(logger, correlationID, err), nil
		}
		return jsonResponse(http.StatusOK, correlationID, askResponse{
			Response:              out.Response,
			AgentUsed:             out.AgentUsed,
			Intent:                out.Intent,
			SessionID:             out.SessionID,
			NeedsClarification:    out.NeedsClarification,
			ToolsInfo:             out.ToolsInfo,
			FixResult:             out.FixResult,
			RequiresValidation:    out.RequiresValidation,
			DocumentationFallback: out.DocumentationFallback,
			Error:                 out.Error,
			TotalTime:             seconds(out.TotalTime),
			AgentTime:             seconds(out.AgentTime),
			IntentTime:            seconds(out.IntentTime),
		}), nil

	case "validate":
		var req validateRequest
		if err := decodeBody(event.Body, &req); err != nil {
			logger.Warn().Err(err).Msg("invalid request body")
			return invalidBody(correlationID), nil
		}
		out, err := h.uc.Validate(ctx, usecase.ValidateInput{SessionID: req.SessionID, Prompt: req.Prompt})
		if err != nil {
			return errorResult(logger, correlationID, err), nil
		}
		validations := out.Validations
		if validations == nil {
			validations = []domain.ValidationOutcome{}
		}
		return jsonResponse(http.StatusOK, correlationID, validateResponse{
			Response:     out.Response,
			SessionID:    out.SessionID,
			Validations:  validations,
			AllValidated: out.AllValidated,
			ToolsInfo:    out.ToolsInfo,
			Error:        out.Error,
			TotalTime:    seconds(out.TotalTime),
			AgentTime:    seconds(out.AgentTime),
		}), nil
	}

	return jsonResponse(http.StatusNotFound, correlationID, errorResponse{Error: "NOT_FOUND"}), nil
}

func route(path string) string {
	path = strings.TrimSuffix(path, "/")
	return path[strings.LastIndex(path, "/")+1:]
}

func decodeBody(body string, out any) error {
	dec := json.NewDecoder(bytes.NewBufferString(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("handler: decode body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("handler: decode body: trailing data")
	}
	return nil
}

func invalidBody(correlationID string) events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{
		Error:  string(usecase.ErrorInvalidInput),
		Reason: "invalid_body",
	})
}

func errorResult(logger zerolog.Logger, correlationID string, err error) events.APIGatewayProxyResponse {
	ue, ok := usecase.AsError(err)
	if !ok {
		logger.Error().Err(err).Msg("unexpected error")
		return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	status := http.StatusInternalServerError
	if ue.Rejected() {
		status = http.StatusBadRequest
		logger.Warn().Str("reason", ue.Reason).Msg("request rejected")
	} else {
		logger.Error().Err(err).Str("reason", ue.Reason).Msg("request failed")
	}
	return jsonResponse(status, correlationID, errorResponse{Error: string(ue.Code), Reason: ue.Reason})
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}
