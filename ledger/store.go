package ledger

import (
	"context"
	"sync"
)

// Store persists ledger state keyed by instrument. Save is all-or-nothing.
type Store interface {
	Load(ctx context.Context, instrument string) (State, bool, error)
	Save(ctx context.Context, st State) error
}

// MemoryStore keeps state in process. Used by backtests and tests.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, instrument string) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[instrument]
	return st.clone(), ok, nil
}

func (m *MemoryStore) Save(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.Instrument] = st.clone()
	return nil
}
