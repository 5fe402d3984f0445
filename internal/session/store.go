// Package session defines the conversation store and the per-session lock
// that serialises requests sharing a session id.
package session

import (
	"context"
	"errors"

	"ops-agent/internal/domain"
)

// ErrFixNotFound is returned when a status update names an unknown fix.
var ErrFixNotFound = errors.New("session: fix not found")

// Store persists per-session conversation state. Implementations partition
// all state by session id.
type Store interface {
	// AppendTurn adds a turn to the end of the session history.
	AppendTurn(ctx context.Context, sessionID string, turn domain.ConversationTurn) error
	// RecentTurns returns up to n most recent turns in chronological order.
	RecentTurns(ctx context.Context, sessionID string, n int) ([]domain.ConversationTurn, error)
	// SetPendingClarification stores the session's single pending question.
	SetPendingClarification(ctx context.Context, sessionID string, p domain.PendingClarification) error
	// TakePendingClarification removes and returns the pending question.
	TakePendingClarification(ctx context.Context, sessionID string) (domain.PendingClarification, bool, error)
	// SaveFixes archives fix actions for later validation.
	SaveFixes(ctx context.Context, sessionID string, fixes []domain.FixAction) error
	// ListFixes returns archived fixes ordered by timestamp.
	ListFixes(ctx context.Context, sessionID string) ([]domain.FixAction, error)
	// UpdateFixStatus transitions an archived fix's validation status.
	UpdateFixStatus(ctx context.Context, sessionID, actionID string, status domain.ValidationStatus) error
}
