package agents

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"ops-agent/internal/domain"
	"ops-agent/internal/ledger"
)

var toolsMissingPhrases = []string{"not available", "cannot find", "missing", "no tools", "not supported"}

// EmptyReplyText stands in for a model reply with no text so that every
// recorded turn carries a response.
const EmptyReplyText = "I could not produce an answer for this request. Please try rephrasing it."

func orEmptyReply(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return EmptyReplyText
	}
	return s
}

// agentReply is the structured output of the troubleshooting and execution
// handlers.
type agentReply struct {
	Response string        `json:"response"`
	Fixes    []reportedFix `json:"fixes"`
}

type reportedFix struct {
	ActionType         string         `json:"action_type"`
	ResourceType       string         `json:"resource_type"`
	ResourceIdentifier string         `json:"resource_identifier"`
	Description        string         `json:"description"`
	CommandsExecuted   []string       `json:"commands_executed"`
	BeforeState        map[string]any `json:"before_state"`
	AfterState         map[string]any `json:"after_state"`
	Success            *bool          `json:"success"`
	ErrorMessage       *string        `json:"error_message"`
}

// decodeStrict decodes exactly one JSON value with no unknown fields.
func decodeStrict(raw string, out any) error {
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("decode: multiple JSON values")
		}
		return fmt.Errorf("decode trailing data: %w", err)
	}
	return nil
}

// parseReply reads structured output. Anything that does not decode strictly
// is treated as plain response text with no fixes. The response is never
// empty.
func parseReply(raw string) agentReply {
	var r agentReply
	if err := decodeStrict(raw, &r); err != nil || strings.TrimSpace(r.Response) == "" {
		return agentReply{Response: orEmptyReply(raw)}
	}
	r.Response = strings.TrimSpace(r.Response)
	return r
}

// recordFixes appends reported fixes to the session ledger. Fixes with an
// unknown action type are dropped.
func recordFixes(l Ledger, sessionID string, fixes []reportedFix) {
	for _, f := range fixes {
		actionType, ok := domain.ParseActionType(f.ActionType)
		if !ok {
			log.Warn().Str("session_id", sessionID).Str("action_type", f.ActionType).Msg("dropping fix with unknown action type")
			continue
		}
		var errMsg *string
		if f.ErrorMessage != nil && strings.TrimSpace(*f.ErrorMessage) != "" {
			msg := strings.TrimSpace(*f.ErrorMessage)
			errMsg = &msg
		}
		success := errMsg == nil
		if f.Success != nil {
			success = *f.Success
		}
		if _, err := l.Append(sessionID, ledger.Entry{
			ActionType:         actionType,
			ResourceType:       f.ResourceType,
			ResourceIdentifier: f.ResourceIdentifier,
			Description:        f.Description,
			CommandsExecuted:   f.CommandsExecuted,
			BeforeState:        f.BeforeState,
			AfterState:         f.AfterState,
			Success:            success,
			ErrorMessage:       errMsg,
		}); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("append fix failed")
		}
	}
}

// DetectToolsMissing scans generated text for phrases that signal the
// handler lacked a needed operation.
func DetectToolsMissing(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range toolsMissingPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
