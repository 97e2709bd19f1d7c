package scheduler

import "sync"

// Routine lock names. Distinct names never contend, so a fetch and a render
// can always proceed independently.
const (
	LockRefresh = "account_refresh"
	LockRender  = "table_render"
)

// LockTable provides per-routine mutual exclusion with non-blocking entry.
// A routine that finds its lock held must defer itself rather than wait;
// contention is an expected outcome, never an error.
type LockTable struct {
	mu   sync.Mutex
	busy map[string]bool
}

// NewLockTable creates an empty lock table. Entries are created lazily.
func NewLockTable() *LockTable {
	return &LockTable{busy: make(map[string]bool)}
}

// TryEnter attempts to take the named lock. It returns false without
// blocking if the routine is already running.
func (l *LockTable) TryEnter(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[name] {
		return false
	}
	l.busy[name] = true
	return true
}

// Exit releases the named lock. Releasing a lock that is not held is a no-op.
func (l *LockTable) Exit(name string) {
	l.mu.Lock()
	delete(l.busy, name)
	l.mu.Unlock()
}

// Held reports whether the named lock is currently taken.
func (l *LockTable) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.busy[name]
}
