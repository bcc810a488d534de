// Package dedup records which payment signatures have already been handled.
//
// A signature, once marked, is never removed: replaying it is a no-op
// success. Backends are interchangeable behind Ledger.
package dedup

import (
	"context"
	"sync"
)

// Ledger is the idempotency store keyed by source signature.
type Ledger interface {
	HasSeen(ctx context.Context, signature string) (bool, error)
	MarkSeen(ctx context.Context, signature string) error
	// Count returns the number of signatures marked so far.
	Count(ctx context.Context) (int64, error)
	Close() error
}

// MemoryLedger keeps signatures for the lifetime of the process.
type MemoryLedger struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (m *MemoryLedger) HasSeen(_ context.Context, signature string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[signature]
	return ok, nil
}

func (m *MemoryLedger) MarkSeen(_ context.Context, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[signature] = struct{}{}
	return nil
}

func (m *MemoryLedger) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.seen)), nil
}

func (m *MemoryLedger) Close() error { return nil }
