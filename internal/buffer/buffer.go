package buffer

import (
	"sync"
)

// Buffer collects values produced within a transaction until it ends.
type Buffer[T any] struct {
	mu sync.Mutex
	ts []T
}

func NewBuffer[T any]() *Buffer[T] {
	return &Buffer[T]{}
}

func (b *Buffer[T]) Add(e T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ts = append(b.ts, e)
}

// Snapshot returns a copy of the collected values without draining them.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.ts))
	copy(out, b.ts)
	return out
}

func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	es := b.ts
	b.ts = nil
	b.mu.Unlock()
	return es
}

func (b *Buffer[T]) Reset() {
	b.Drain()
}
