package conversation

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Histories are lost on restart.
type Memory struct {
	mu       sync.RWMutex
	maxTurns int
	turns    map[string][]Turn
}

// NewMemory creates a Memory store keeping at most maxTurns per conversation.
func NewMemory(maxTurns int) *Memory {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Memory{maxTurns: maxTurns, turns: make(map[string][]Turn)}
}

func (m *Memory) History(_ context.Context, id string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.turns[id]
	out := make([]Turn, len(h))
	copy(out, h)
	return out, nil
}

func (m *Memory) Append(_ context.Context, id string, t Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.turns[id], t)
	if len(h) > m.maxTurns {
		h = append([]Turn(nil), h[len(h)-m.maxTurns:]...)
	}
	m.turns[id] = h
	return nil
}

func (m *Memory) Close() error { return nil }
