package search

import "sync"

// SearchState is the lifecycle state of an Engine
type SearchState int

const (
	// StateIdle indicates no search is running
	StateIdle SearchState = iota
	// StateRunning indicates tasks are being enumerated or executed
	StateRunning
	// StateCancelling indicates a match or failure stopped enumeration and the pool is draining
	StateCancelling
	// StateFound indicates the last search produced a collision
	StateFound
	// StateExhausted indicates the last search examined every bit without a match
	StateExhausted
	// StateFailed indicates the last search ended with an error
	StateFailed
)

// String returns a human-readable representation of the state
func (s SearchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateFound:
		return "found"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if no search is in flight in this state
func (s SearchState) IsTerminal() bool {
	return s != StateRunning && s != StateCancelling
}

// StateManager tracks state transitions of the engine. Reads may come from
// any goroutine, e.g. a progress reporter.
type StateManager struct {
	mu           sync.RWMutex
	currentState SearchState
	currentID    string
}

// NewStateManager creates a manager in the idle state
func NewStateManager() *StateManager {
	return &StateManager{currentState: StateIdle}
}

// TransitionTo atomically changes the state
func (m *StateManager) TransitionTo(newState SearchState, searchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentState = newState
	m.currentID = searchID
}

// GetState returns the current state and search ID atomically
func (m *StateManager) GetState() (SearchState, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState, m.currentID
}
