package orchestrator

import "sync"

// sessionLocks serializes units of work on the same session id. The lock for
// a session is acquired before the session is loaded and released only after
// it is saved or discarded, so concurrent messages on one session can never
// interleave reads and writes of the shared record. Entries are reference
// counted and removed when no unit of work holds or waits on them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the caller holds the exclusive lock for sessionID.
func (l *sessionLocks) acquire(sessionID string) {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{}
		l.locks[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// release drops the exclusive lock for sessionID.
func (l *sessionLocks) release(sessionID string) {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if ok {
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, sessionID)
		}
	}
	l.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}
