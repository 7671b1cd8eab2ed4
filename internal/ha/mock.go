package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient and StateWriter for testing
type MockClient struct {
	states   map[string]*State
	statesMu sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	events   []FiredEvent
	writes   []*State
	recordMu sync.Mutex

	fireErr  error
	writeErr error
	now      func() time.Time
}

// FiredEvent records a FireEvent call for testing
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
	Time      time.Time
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states: make(map[string]*State),
		now:    time.Now,
	}
}

// SetNow replaces the time source used for recorded timestamps
func (m *MockClient) SetNow(now func() time.Time) {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	m.now = now
}

// SetFireError makes subsequent FireEvent calls fail with err
func (m *MockClient) SetFireError(err error) {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	m.fireErr = err
}

// SetWriteError makes subsequent SetState calls fail with err
func (m *MockClient) SetWriteError(err error) {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	m.writeErr = err
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.connected = false
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// GetState retrieves a mock state
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}

	return state, nil
}

// GetAllStates retrieves all mock states
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}

	return states, nil
}

// FireEvent records an event
func (m *MockClient) FireEvent(eventType string, data map[string]interface{}) error {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()

	if m.fireErr != nil {
		return m.fireErr
	}

	m.events = append(m.events, FiredEvent{
		EventType: eventType,
		Data:      data,
		Time:      m.now(),
	})
	return nil
}

// SetState stores the state and records the write
func (m *MockClient) SetState(entityID, stateValue string, attributes map[string]interface{}) (*State, error) {
	m.recordMu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.recordMu.Unlock()
		return nil, err
	}
	now := m.now()
	m.recordMu.Unlock()

	m.statesMu.Lock()
	lastChanged := now
	if old, ok := m.states[entityID]; ok && old.State == stateValue {
		lastChanged = old.LastChanged
	}
	state := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: lastChanged,
		LastUpdated: now,
	}
	m.states[entityID] = state
	m.statesMu.Unlock()

	m.recordMu.Lock()
	m.writes = append(m.writes, state)
	m.recordMu.Unlock()

	return state, nil
}

// PutState seeds a state without recording a write
func (m *MockClient) PutState(state *State) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	m.states[state.EntityID] = state
}

// GetFiredEvents returns all recorded events
func (m *MockClient) GetFiredEvents() []FiredEvent {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()

	events := make([]FiredEvent, len(m.events))
	copy(events, m.events)
	return events
}

// GetStateWrites returns all recorded state writes
func (m *MockClient) GetStateWrites() []*State {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()

	writes := make([]*State, len(m.writes))
	copy(writes, m.writes)
	return writes
}

// ClearRecords clears recorded events and writes
func (m *MockClient) ClearRecords() {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	m.events = nil
	m.writes = nil
}
