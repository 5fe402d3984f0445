package domain

import (
	"fmt"
	"strings"
	"time"
)

// ActionType is the kind of remediation step taken.
type ActionType string

const (
	ActionCreate    ActionType = "create"
	ActionUpdate    ActionType = "update"
	ActionDelete    ActionType = "delete"
	ActionConfigure ActionType = "configure"
	ActionRestart   ActionType = "restart"
	ActionScale     ActionType = "scale"
)

// ParseActionType maps free-form model output onto a known action type.
func ParseActionType(s string) (ActionType, bool) {
	switch a := ActionType(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionConfigure, ActionRestart, ActionScale:
		return a, true
	}
	return "", false
}

// ValidationStatus tracks whether a fix has been verified.
type ValidationStatus string

const (
	ValidationPending        ValidationStatus = "pending"
	ValidationValidated      ValidationStatus = "validated"
	ValidationFailed         ValidationStatus = "failed"
	ValidationRollbackNeeded ValidationStatus = "rollback_needed"
)

// FixAction is an immutable record of one remediation step. Only
// ValidationStatus may change after creation.
type FixAction struct {
	ActionID           string           `json:"action_id"`
	ActionType         ActionType       `json:"action_type"`
	ResourceType       string           `json:"resource_type"`
	ResourceIdentifier string           `json:"resource_identifier"`
	Description        string           `json:"description"`
	CommandsExecuted   []string         `json:"commands_executed"`
	BeforeState        map[string]any   `json:"before_state"`
	AfterState         map[string]any   `json:"after_state"`
	Timestamp          time.Time        `json:"timestamp"`
	Success            bool             `json:"success"`
	ErrorMessage       *string          `json:"error_message,omitempty"`
	ValidationStatus   ValidationStatus `json:"validation_status"`
}

// Summary is a one-line description used in logs.
func (f FixAction) Summary() string {
	status := "ok"
	if !f.Success {
		status = "failed"
	}
	return fmt.Sprintf("[%s] %s %s: %s", status, f.ActionType, f.ResourceType, f.Description)
}

// FixResult is derived from a ledger snapshot and never stored.
type FixResult struct {
	FixesApplied          []FixAction `json:"fixes_applied"`
	TotalFixes            int         `json:"total_fixes"`
	SuccessfulFixes       int         `json:"successful_fixes"`
	FailedFixes           int         `json:"failed_fixes"`
	RequiresValidation    bool        `json:"requires_validation"`
	ValidationSuggestions []string    `json:"validation_suggestions"`
}

// NewFixResult aggregates fixes. SuccessfulFixes+FailedFixes always equals
// TotalFixes.
func NewFixResult(fixes []FixAction, suggestions []string) FixResult {
	successful := 0
	for _, f := range fixes {
		if f.Success {
			successful++
		}
	}
	if fixes == nil {
		fixes = []FixAction{}
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	return FixResult{
		FixesApplied:          fixes,
		TotalFixes:            len(fixes),
		SuccessfulFixes:       successful,
		FailedFixes:           len(fixes) - successful,
		RequiresValidation:    len(fixes) > 0,
		ValidationSuggestions: suggestions,
	}
}

// Summary reports the success ratio.
func (r FixResult) Summary() string {
	if r.TotalFixes == 0 {
		return "No fixes applied"
	}
	return fmt.Sprintf("%d/%d fixes successful", r.SuccessfulFixes, r.TotalFixes)
}

// CheckStatus is the outcome of validating one fix.
type CheckStatus string

const (
	CheckPending CheckStatus = "PENDING"
	CheckPass    CheckStatus = "PASS"
	CheckFail    CheckStatus = "FAIL"
)

// ValidationOutcome reports the check of a single fix.
type ValidationOutcome struct {
	FixID     string      `json:"fix_id"`
	Resource  string      `json:"resource"`
	Status    CheckStatus `json:"status"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// LedgerStatus maps a check outcome onto the fix's validation status. ok is
// false while the check is still pending.
func (s CheckStatus) LedgerStatus() (ValidationStatus, bool) {
	switch s {
	case CheckPass:
		return ValidationValidated, true
	case CheckFail:
		return ValidationFailed, true
	}
	return "", false
}
