package state

import "sync"

type memoryManager struct {
	mu     sync.RWMutex
	states map[int64]State
}

// NewMemoryManager constructs an in-memory Manager. States are lost on restart.
func NewMemoryManager() Manager {
	return &memoryManager{
		states: make(map[int64]State),
	}
}

// GetState returns the current state of a chat, or StateIdle if none exists.
func (m *memoryManager) GetState(chatID int64) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[chatID]; ok {
		return st
	}
	return StateIdle
}

// SetState sets the state for the given chat. Setting StateIdle clears it.
func (m *memoryManager) SetState(chatID int64, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st == StateIdle || st == "" {
		delete(m.states, chatID)
		return
	}
	m.states[chatID] = st
}

// ClearState resets the chat to idle.
func (m *memoryManager) ClearState(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, chatID)
}

// InProgress reports whether the chat has an active state other than idle.
func (m *memoryManager) InProgress(chatID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.states[chatID]
	return ok
}

func (m *memoryManager) Snapshot() map[int64]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]State, len(m.states))
	for id, st := range m.states {
		out[id] = st
	}
	return out
}
