package session

import "sync"

// Locker hands out one mutex per session id. Entries are dropped when no
// caller holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// Lock blocks until sessionID is free and returns the matching unlock func.
func (l *Locker) Lock(sessionID string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[sessionID]
	if !ok {
		e = &lockEntry{}
		l.locks[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, sessionID)
			}
			l.mu.Unlock()
		})
	}
}

// active returns the number of tracked session locks.
func (l *Locker) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
