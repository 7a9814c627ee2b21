// Package lock provides per-store FIFO mutual exclusion for document writers.
package lock

import (
	"context"
	"sync"
)

// StoreID names the logical document a gate protects.
type StoreID string

// Manager hands out one single-holder gate per store id. Waiters are served
// strictly in arrival order.
type Manager struct {
	mu    sync.Mutex
	gates map[StoreID]*gate
}

type gate struct {
	held    bool
	waiters []chan struct{}
}

func NewManager() *Manager {
	return &Manager{gates: make(map[StoreID]*gate)}
}

// Acquire blocks until the caller holds the gate for id. The returned release
// function passes the gate to the next waiter; calling it more than once is a
// no-op. If ctx is cancelled while waiting, the caller leaves the queue and
// Acquire returns ctx.Err().
func (m *Manager) Acquire(ctx context.Context, id StoreID) (func(), error) {
	m.mu.Lock()
	g := m.gateLocked(id)
	if !g.held {
		g.held = true
		m.mu.Unlock()
		return m.releaser(id), nil
	}
	ready := make(chan struct{})
	g.waiters = append(g.waiters, ready)
	m.mu.Unlock()

	select {
	case <-ready:
		return m.releaser(id), nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	for i, w := range g.waiters {
		if w == ready {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			m.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	m.mu.Unlock()
	// The gate was handed to us while ctx fired; pass it on.
	m.release(id)
	return nil, ctx.Err()
}

// QueueLen reports how many callers are waiting on id, excluding the holder.
func (m *Manager) QueueLen(id StoreID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gates[id]
	if !ok {
		return 0
	}
	return len(g.waiters)
}

// Held reports whether some caller currently holds the gate for id.
func (m *Manager) Held(id StoreID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gates[id]
	return ok && g.held
}

func (m *Manager) gateLocked(id StoreID) *gate {
	g, ok := m.gates[id]
	if !ok {
		g = &gate{}
		m.gates[id] = g
	}
	return g
}

func (m *Manager) releaser(id StoreID) func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.release(id) })
	}
}

func (m *Manager) release(id StoreID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.gateLocked(id)
	if len(g.waiters) == 0 {
		g.held = false
		return
	}
	next := g.waiters[0]
	g.waiters = g.waiters[1:]
	close(next)
}
