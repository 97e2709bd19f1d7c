package scheduler

import (
	"context"
	"log"
	"sync"
)

// CancellationManager tracks the single in-flight context-sensitive request
// and the context value (display currency) it was issued under. Switching the
// context cancels the in-flight request, flushes the cache and bumps a
// generation counter so any late resolution of superseded work is detected
// and ignored.
type CancellationManager struct {
	mu         sync.Mutex
	contextID  string
	generation uint64
	cancel     context.CancelFunc
	invalidate func()
}

// NewCancellationManager creates a manager for the given initial context.
// invalidate is called on every switch to flush context-tagged caches.
func NewCancellationManager(initialContext string, invalidate func()) *CancellationManager {
	return &CancellationManager{
		contextID:  initialContext,
		invalidate: invalidate,
	}
}

// ContextID returns the current context value.
func (m *CancellationManager) ContextID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contextID
}

// Begin registers a new in-flight request under the current context and
// returns a cancellable ctx plus the generation it belongs to. A previous
// in-flight request, if any, is superseded and cancelled.
func (m *CancellationManager) Begin(parent context.Context) (context.Context, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	return ctx, m.generation
}

// Finish clears the in-flight record if it still belongs to gen. Late calls
// from superseded requests are no-ops.
func (m *CancellationManager) Finish(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation && m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// Valid reports whether results from the given generation may still be used.
// A request that resolves after its context was superseded must neither be
// cached nor rendered.
func (m *CancellationManager) Valid(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

// Switch moves to a new context: the in-flight request is cancelled, caches
// are flushed, and the generation advances so stragglers are ignored.
// Switching to the current context is a no-op.
func (m *CancellationManager) Switch(newContext string) bool {
	m.mu.Lock()
	if newContext == m.contextID {
		m.mu.Unlock()
		return false
	}
	old := m.contextID
	m.contextID = newContext
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	invalidate := m.invalidate
	m.mu.Unlock()

	if invalidate != nil {
		invalidate()
	}
	log.Printf("Context switched %s -> %s, in-flight work superseded", old, newContext)
	return true
}
