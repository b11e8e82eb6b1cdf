package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY CYCLE GUARD
// ══════════════════════════════════════════════════════════════════════════════

// CycleLock implements rank.CycleLock for a single process.
type CycleLock struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewCycleLock creates a new CycleLock.
func NewCycleLock() *CycleLock {
	return &CycleLock{held: make(map[string]time.Time), now: time.Now}
}

// Acquire takes the lock for cycleKey. An expired hold is taken over.
func (l *CycleLock) Acquire(_ context.Context, cycleKey string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[cycleKey]; ok && now.Before(until) {
		return nil, shared.ErrCycleLocked
	}
	l.held[cycleKey] = now.Add(ttl)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, cycleKey)
			l.mu.Unlock()
		})
	}, nil
}

// CycleLedger implements rank.CycleLedger in memory.
type CycleLedger struct {
	mu        sync.RWMutex
	completed map[string]time.Time
}

// NewCycleLedger creates a new CycleLedger.
func NewCycleLedger() *CycleLedger {
	return &CycleLedger{completed: make(map[string]time.Time)}
}

// IsCompleted reports whether cycleKey was marked complete.
func (l *CycleLedger) IsCompleted(_ context.Context, cycleKey string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.completed[cycleKey]
	return ok, nil
}

// MarkCompleted marks cycleKey complete.
func (l *CycleLedger) MarkCompleted(_ context.Context, cycleKey string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.completed[cycleKey]; !ok {
		l.completed[cycleKey] = at
	}
	return nil
}
