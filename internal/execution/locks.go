package execution

import (
	"sync"

	"orderGuard/internal/domain"
)

type lockKey struct {
	symbol string
	class  domain.OperationClass
}

// LockManager lazily creates one mutex per (instrument, operation-class) pair.
// Conflicting operations on the same key are serialized; unrelated keys run in
// parallel. Entries are never evicted; the key space is bounded by the set of
// instruments times the operation classes.
type LockManager struct {
	mu    sync.Mutex // guards lazy insertion only
	locks map[lockKey]*sync.Mutex
}

// NewLockManager creates an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[lockKey]*sync.Mutex)}
}

// Acquire returns the mutex for the given key, creating it on first request.
// Callers hold the returned mutex for the duration of their operation.
func (m *LockManager) Acquire(symbol string, class domain.OperationClass) *sync.Mutex {
	key := lockKey{symbol: symbol, class: class}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lk, ok := m.locks[key]; ok {
		return lk
	}
	lk := &sync.Mutex{}
	m.locks[key] = lk
	return lk
}

// AcquireInstrument returns the instrument-wide mutex guarding the tracked
// order state. Every writer of a TrackedOrders struct holds this mutex,
// regardless of which operation class it runs under. Holders that also need a
// class mutex take the class mutex first.
func (m *LockManager) AcquireInstrument(symbol string) *sync.Mutex {
	return m.Acquire(symbol, "")
}
