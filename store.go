package auditlog

import (
	"context"
	"errors"
	"sync"
)

// ContextStore holds transaction-scoped metadata keyed by transaction id.
//
// Get must be free of side effects and Clear must be idempotent. Entries of
// different transactions are never visible to each other.
type ContextStore interface {
	Set(ctx context.Context, txID string, info Info) error
	Get(ctx context.Context, txID string) (Info, bool, error)
	Clear(ctx context.Context, txID string) error
}

var errEmptyTxID = errors.New("auditlog: empty transaction id")

// MemoryStore is an in-process ContextStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Info
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Info)}
}

func (s *MemoryStore) Set(_ context.Context, txID string, info Info) error {
	if txID == "" {
		return errEmptyTxID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[txID] = info.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, txID string) (Info, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.entries[txID]
	if !ok {
		return Info{}, false, nil
	}
	return info.Clone(), true, nil
}

func (s *MemoryStore) Clear(_ context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, txID)
	return nil
}

// Len reports the number of open entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
