package session

import (
	"context"
	"sort"
	"sync"

	"ops-agent/internal/domain"
)

// MemoryStore is an in-process arena of sessions keyed by id.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

type memorySession struct {
	mu      sync.Mutex
	turns   []domain.ConversationTurn
	pending *domain.PendingClarification
	fixes   []domain.FixAction
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

// session returns the arena slot for id, creating it on first reference.
func (s *MemoryStore) session(id string) *memorySession {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[id]; ok {
		return sess
	}
	sess = &memorySession{}
	s.sessions[id] = sess
	return sess
}

func (s *MemoryStore) AppendTurn(_ context.Context, sessionID string, turn domain.ConversationTurn) error {
	sess := s.session(sessionID)
	sess.mu.Lock()
	sess.turns = append(sess.turns, turn)
	sess.mu.Unlock()
	return nil
}

func (s *MemoryStore) RecentTurns(_ context.Context, sessionID string, n int) ([]domain.ConversationTurn, error) {
	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if n <= 0 || len(sess.turns) == 0 {
		return nil, nil
	}
	start := len(sess.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]domain.ConversationTurn, len(sess.turns)-start)
	copy(out, sess.turns[start:])
	return out, nil
}

func (s *MemoryStore) SetPendingClarification(_ context.Context, sessionID string, p domain.PendingClarification) error {
	sess := s.session(sessionID)
	sess.mu.Lock()
	sess.pending = &p
	sess.mu.Unlock()
	return nil
}

func (s *MemoryStore) TakePendingClarification(_ context.Context, sessionID string) (domain.PendingClarification, bool, error) {
	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.pending == nil {
		return domain.PendingClarification{}, false, nil
	}
	p := *sess.pending
	sess.pending = nil
	return p, true, nil
}

func (s *MemoryStore) SaveFixes(_ context.Context, sessionID string, fixes []domain.FixAction) error {
	sess := s.session(sessionID)
	sess.mu.Lock()
	sess.fixes = append(sess.fixes, fixes...)
	sess.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListFixes(_ context.Context, sessionID string) ([]domain.FixAction, error) {
	sess := s.session(sessionID)
	sess.mu.Lock()
	out := append([]domain.FixAction(nil), sess.fixes...)
	sess.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) UpdateFixStatus(_ context.Context, sessionID, actionID string, status domain.ValidationStatus) error {
	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i := range sess.fixes {
		if sess.fixes[i].ActionID == actionID {
			sess.fixes[i].ValidationStatus = status
			return nil
		}
	}
	return ErrFixNotFound
}

// TurnCount returns the number of turns recorded for sessionID.
func (s *MemoryStore) TurnCount(sessionID string) int {
	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.turns)
}
