package seqstate

import (
	"slices"
	"sync"
)

// Manager manages sequence state lifecycle.
// It provides command-query separation for state access.
type Manager struct {
	mu     sync.RWMutex
	states map[Key]*State
}

// NewManager creates a new sequence state manager.
func NewManager() *Manager {
	return &Manager{
		states: make(map[Key]*State),
	}
}

// Get retrieves the state of a sequence (query).
// Returns nil if the sequence was never seen.
func (m *Manager) Get(key Key) *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[key]
}

// DefaultClock returns the sequence's default clock and whether one was set
// (query).
func (m *Manager) DefaultClock(key Key) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.states[key]
	if st == nil || st.DefaultClockID == 0 {
		return 0, false
	}
	return st.DefaultClockID, true
}

// Issues retrieves the tokenization issues of a sequence (query).
// Returns nil if there are none.
func (m *Manager) Issues(key Key) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.states[key]
	if st == nil {
		return nil
	}
	return slices.Clone(st.Issues)
}

// SetDefaultClock records the default timestamp clock of a sequence (command).
func (m *Manager) SetDefaultClock(key Key, clockID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreateLocked(key).DefaultClockID = clockID
}

// AddIssue adds a tokenization issue for a sequence (command).
func (m *Manager) AddIssue(key Key, issue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.getOrCreateLocked(key)
	st.Issues = append(st.Issues, issue)
}

// Delete removes all data for a sequence (command).
func (m *Manager) Delete(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
}

// GetOrCreate retrieves the state of a sequence, creating it if it doesn't
// exist (command).
func (m *Manager) GetOrCreate(key Key) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(key)
}

// Len returns the number of tracked sequences (query).
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

func (m *Manager) getOrCreateLocked(key Key) *State {
	st := m.states[key]
	if st == nil {
		st = &State{}
		m.states[key] = st
	}
	return st
}
