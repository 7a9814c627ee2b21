package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps documents in process memory. It is intended for tests
// and throwaway runs.
type MemoryBackend struct {
	mu     sync.RWMutex
	docs   map[StoreID][]byte
	writes map[StoreID]int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs:   make(map[StoreID][]byte),
		writes: make(map[StoreID]int),
	}
}

func (b *MemoryBackend) Read(ctx context.Context, id StoreID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.docs[id]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Write(ctx context.Context, id StoreID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[id] = append([]byte(nil), data...)
	b.writes[id]++
	return nil
}

// Writes reports how many times id has been written.
func (b *MemoryBackend) Writes(id StoreID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writes[id]
}

func (b *MemoryBackend) Close() error { return nil }
