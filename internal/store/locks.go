package store

import "sync"

// scopeLocks serializes operations on overlapping scopes. The whole-store
// scope ("") overlaps every note scope; distinct note scopes run in parallel.
type scopeLocks struct {
	global sync.RWMutex

	mu    sync.Mutex
	notes map[string]*sync.Mutex
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{notes: make(map[string]*sync.Mutex)}
}

// lock acquires the scope and returns its release func.
func (l *scopeLocks) lock(noteID string) func() {
	if noteID == "" {
		l.global.Lock()
		return l.global.Unlock
	}

	l.global.RLock()
	l.mu.Lock()
	m, ok := l.notes[noteID]
	if !ok {
		m = &sync.Mutex{}
		l.notes[noteID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.global.RUnlock()
	}
}
