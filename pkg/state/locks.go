package state

import (
	"sync"

	"github.com/google/uuid"
)

// Locks serializes turns within a thread. Threads run fully in parallel;
// the lock for one thread is held for a turn's whole duration so turn N's
// state is durably written before turn N+1 starts.
type Locks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewLocks creates an empty registry.
func NewLocks() *Locks {
	return &Locks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// For returns the mutex for a thread, creating it on first use.
func (l *Locks) For(threadID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[threadID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[threadID] = m
	}
	return m
}

// Forget drops a thread's lock, for archived threads. Safe to call while
// others hold a reference; they keep their mutex, new callers get a fresh one.
func (l *Locks) Forget(threadID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, threadID)
}

// ResolveLatch serializes thread resolution per (user, origin). Without it
// two concurrent first messages can both miss FindOpenThread and create
// parallel threads before either lands.
type ResolveLatch struct {
	mu      sync.Mutex
	latches map[string]*sync.Mutex
}

// NewResolveLatch creates an empty registry.
func NewResolveLatch() *ResolveLatch {
	return &ResolveLatch{latches: make(map[string]*sync.Mutex)}
}

// For returns the mutex guarding find-or-create for one (user, origin).
func (l *ResolveLatch) For(userID, origin string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := userID + "|" + origin
	m, ok := l.latches[key]
	if !ok {
		m = &sync.Mutex{}
		l.latches[key] = m
	}
	return m
}
