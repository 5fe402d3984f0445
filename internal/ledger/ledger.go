// Package ledger records remediation actions taken while handling a request.
// Entries are partitioned by session id; snapshotting a session empties only
// that session's partition.
package ledger

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ops-agent/internal/domain"
)

// Entry is the caller-supplied part of a FixAction.
type Entry struct {
	ActionType         domain.ActionType
	ResourceType       string
	ResourceIdentifier string
	Description        string
	CommandsExecuted   []string
	BeforeState        map[string]any
	AfterState         map[string]any
	Success            bool
	ErrorMessage       *string
}

// Ledger holds per-session fix actions. A session's slot exists only while
// it holds unsnapshotted fixes.
type Ledger struct {
	mu    sync.Mutex
	books map[string][]domain.FixAction
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{books: make(map[string][]domain.FixAction)}
}

// Append records a fix for sessionID and returns the created action.
func (l *Ledger) Append(sessionID string, e Entry) (domain.FixAction, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.FixAction{}, errors.New("ledger: session id must not be empty")
	}
	if _, ok := domain.ParseActionType(string(e.ActionType)); !ok {
		return domain.FixAction{}, errors.New("ledger: unknown action type " + string(e.ActionType))
	}
	fix := domain.FixAction{
		ActionID:           newActionID(),
		ActionType:         e.ActionType,
		ResourceType:       e.ResourceType,
		ResourceIdentifier: e.ResourceIdentifier,
		Description:        e.Description,
		CommandsExecuted:   append([]string(nil), e.CommandsExecuted...),
		BeforeState:        cloneState(e.BeforeState),
		AfterState:         cloneState(e.AfterState),
		Timestamp:          now().UTC(),
		Success:            e.Success,
		ErrorMessage:       e.ErrorMessage,
		ValidationStatus:   domain.ValidationPending,
	}

	l.mu.Lock()
	l.books[sessionID] = append(l.books[sessionID], fix)
	l.mu.Unlock()

	log.Info().Str("session_id", sessionID).Str("action_id", fix.ActionID).Msg("fix logged: " + fix.Summary())
	return fix, nil
}

// SnapshotAndClear aggregates the session's fixes and empties its partition.
// A second call in a row returns an empty result.
func (l *Ledger) SnapshotAndClear(sessionID string, suggestions []string) domain.FixResult {
	l.mu.Lock()
	fixes := l.books[sessionID]
	delete(l.books, sessionID)
	l.mu.Unlock()
	return domain.NewFixResult(fixes, append([]string(nil), suggestions...))
}

// Clear discards the session's fixes without reporting them.
func (l *Ledger) Clear(sessionID string) {
	l.mu.Lock()
	delete(l.books, sessionID)
	l.mu.Unlock()
}

// Len returns the number of unsnapshotted fixes for sessionID.
func (l *Ledger) Len(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.books[sessionID])
}

// sessions returns the number of sessions holding fixes.
func (l *Ledger) sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.books)
}

func cloneState(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func newActionID() string {
	return uuid.NewString()[:8]
}

var now = time.Now
