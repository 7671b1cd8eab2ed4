// Package testutil provides testing utilities for the weather service.
// This package contains a mock Home Assistant server (WebSocket and REST)
// and helpers for writing integration tests.
package testutil

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// MockHAServer simulates the parts of Home Assistant the service talks to
type MockHAServer struct {
	server      *httptest.Server
	token       string
	states      map[string]*EntityState
	statesMu    sync.RWMutex
	connections []*connWrapper
	connsMu     sync.Mutex
	firedEvents []FiredEvent
	stateWrites []StateWrite
	recordsMu   sync.Mutex
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// GetStatesRequest represents a get_states request
type GetStatesRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// FireEventRequest represents a fire_event request
type FireEventRequest struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data"`
}

// NewMockHAServer creates a new mock HA server
func NewMockHAServer(token string) *MockHAServer {
	return &MockHAServer{
		token:       token,
		states:      make(map[string]*EntityState),
		connections: make([]*connWrapper, 0),
	}
}

// Start starts the mock server on a free local port
func (s *MockHAServer) Start() error {
	r := mux.NewRouter()
	r.HandleFunc("/api/websocket", s.handleWebSocket)
	r.HandleFunc("/api/states/{entity_id}", s.handleGetStateREST).Methods(http.MethodGet)
	r.HandleFunc("/api/states/{entity_id}", s.handleSetStateREST).Methods(http.MethodPost)

	s.server = httptest.NewServer(r)
	return nil
}

// WebSocketURL returns the ws:// URL of the WebSocket API
func (s *MockHAServer) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// RESTURL returns the base URL of the REST API
func (s *MockHAServer) RESTURL() string {
	return s.server.URL
}

// Stop stops the mock server
func (s *MockHAServer) Stop() error {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	if s.server != nil {
		s.server.Close()
	}
	return nil
}

// SetState sets a state the way Home Assistant does: last_changed only moves
// when the state string changes
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) *EntityState {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	now := time.Now().UTC()
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	if old, ok := s.states[entityID]; ok && old.State == state {
		newState.LastChanged = old.LastChanged
	}

	s.states[entityID] = newState
	return newState
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

func (s *MockHAServer) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+s.token
}

// handleGetStateREST serves GET /api/states/<entity_id>
func (s *MockHAServer) handleGetStateREST(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "401: Unauthorized", http.StatusUnauthorized)
		return
	}

	state := s.GetState(mux.Vars(r)["entity_id"])
	w.Header().Set("Content-Type", "application/json")
	if state == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "Entity not found."})
		return
	}
	json.NewEncoder(w).Encode(state)
}

// handleSetStateREST serves POST /api/states/<entity_id>
func (s *MockHAServer) handleSetStateREST(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "401: Unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		State      string                 `json:"state"`
		Attributes map[string]interface{} `json:"attributes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON specified.", http.StatusBadRequest)
		return
	}

	entityID := mux.Vars(r)["entity_id"]
	existed := s.GetState(entityID) != nil
	state := s.SetState(entityID, body.State, body.Attributes)

	s.recordsMu.Lock()
	s.stateWrites = append(s.stateWrites, StateWrite{
		Timestamp:  state.LastUpdated,
		EntityID:   entityID,
		State:      body.State,
		Attributes: body.Attributes,
	})
	s.recordsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if existed {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(state)
}

// handleWebSocket handles WebSocket connections
func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	wrapper := &connWrapper{conn: conn}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, w := range s.connections {
			if w.conn == conn {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	// Send auth_required
	wrapper.write(Message{Type: "auth_required"})

	// Receive auth
	var authMsg AuthMessage
	if err := conn.ReadJSON(&authMsg); err != nil {
		log.Printf("Failed to read auth: %v", err)
		return
	}

	// Validate token
	if authMsg.AccessToken != s.token {
		wrapper.write(Message{Type: "auth_invalid"})
		return
	}

	wrapper.write(Message{Type: "auth_ok"})

	// Handle messages
	for {
		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		var baseMsg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &baseMsg); err != nil {
			continue
		}

		switch baseMsg.Type {
		case "get_states":
			s.handleGetStates(wrapper, msg)
		case "fire_event":
			s.handleFireEvent(wrapper, msg)
		}
	}
}

func (w *connWrapper) write(msg Message) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteJSON(msg)
}

// handleGetStates handles get_states requests
func (s *MockHAServer) handleGetStates(wrapper *connWrapper, msg json.RawMessage) {
	var req GetStatesRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	s.statesMu.RLock()
	states := make([]*EntityState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	s.statesMu.RUnlock()

	statesJSON, _ := json.Marshal(states)
	success := true
	wrapper.write(Message{
		ID:      req.ID,
		Type:    "result",
		Success: &success,
		Result:  statesJSON,
	})
}

// handleFireEvent records the event and acknowledges it
func (s *MockHAServer) handleFireEvent(wrapper *connWrapper, msg json.RawMessage) {
	var req FireEventRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	s.recordsMu.Lock()
	s.firedEvents = append(s.firedEvents, FiredEvent{
		Timestamp: time.Now(),
		EventType: req.EventType,
		Data:      req.EventData,
	})
	s.recordsMu.Unlock()

	success := true
	wrapper.write(Message{
		ID:      req.ID,
		Type:    "result",
		Success: &success,
		Result:  json.RawMessage(`{"context":{"id":"mock"}}`),
	})
}

// GetFiredEvents returns all events fired since last clear
func (s *MockHAServer) GetFiredEvents() []FiredEvent {
	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()
	events := make([]FiredEvent, len(s.firedEvents))
	copy(events, s.firedEvents)
	return events
}

// GetStateWrites returns all REST state writes since last clear
func (s *MockHAServer) GetStateWrites() []StateWrite {
	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()
	writes := make([]StateWrite, len(s.stateWrites))
	copy(writes, s.stateWrites)
	return writes
}

// ClearRecords resets the event and state write logs
func (s *MockHAServer) ClearRecords() {
	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()
	s.firedEvents = nil
	s.stateWrites = nil
}
