package shadowstate

import (
	"sort"
	"sync"
	"time"
)

// Tracker manages shadow state for all entities
type Tracker struct {
	mu             sync.RWMutex
	entityStates   map[string]EntityShadowState
	stateProviders map[string]func() EntityShadowState
}

// NewTracker creates a new shadow state tracker
func NewTracker() *Tracker {
	return &Tracker{
		entityStates:   make(map[string]EntityShadowState),
		stateProviders: make(map[string]func() EntityShadowState),
	}
}

// RegisterEntity registers an entity's shadow state
func (t *Tracker) RegisterEntity(entityID string, state EntityShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entityStates[entityID] = state
}

// RegisterEntityProvider registers a function that provides an entity's shadow state dynamically
func (t *Tracker) RegisterEntityProvider(entityID string, provider func() EntityShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateProviders[entityID] = provider
}

// GetEntityState retrieves an entity's shadow state
func (t *Tracker) GetEntityState(entityID string) (EntityShadowState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if provider, ok := t.stateProviders[entityID]; ok {
		return provider(), true
	}

	state, ok := t.entityStates[entityID]
	return state, ok
}

// GetAllEntityStates retrieves all entity shadow states, providers taking precedence
func (t *Tracker) GetAllEntityStates() map[string]EntityShadowState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[string]EntityShadowState, len(t.entityStates)+len(t.stateProviders))
	for k, v := range t.entityStates {
		states[k] = v
	}
	for k, provider := range t.stateProviders {
		states[k] = provider()
	}

	return states
}

// EntityIDs returns the sorted ids of all registered entities
func (t *Tracker) EntityIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{}, len(t.entityStates)+len(t.stateProviders))
	for k := range t.entityStates {
		seen[k] = struct{}{}
	}
	for k := range t.stateProviders {
		seen[k] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for k := range seen {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// WeatherTracker manages shadow state for one weather entity
type WeatherTracker struct {
	mu    sync.RWMutex
	state *WeatherShadowState
	now   func() time.Time
}

// NewWeatherTracker creates a new weather shadow state tracker
func NewWeatherTracker(entityID string) *WeatherTracker {
	return &WeatherTracker{
		state: NewWeatherShadowState(entityID),
		now:   time.Now,
	}
}

// SetNow replaces the time source
func (wt *WeatherTracker) SetNow(now func() time.Time) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	wt.now = now
}

// UpdateCurrentInputs replaces the current input values
func (wt *WeatherTracker) UpdateCurrentInputs(inputs map[string]interface{}) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	wt.state.Inputs.Current = make(map[string]interface{}, len(inputs))
	for key, value := range inputs {
		wt.state.Inputs.Current[key] = value
	}
	wt.state.Metadata.LastUpdated = wt.now()
}

// UpdateOutputs records the entity state that was just computed
func (wt *WeatherTracker) UpdateOutputs(condition string, available bool, forecastLength int) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	wt.state.Outputs.Condition = condition
	wt.state.Outputs.Available = available
	wt.state.Outputs.ForecastLength = forecastLength
	wt.state.Metadata.LastUpdated = wt.now()
}

// SetRestoreOutcome records how the entity came up after a restart
func (wt *WeatherTracker) SetRestoreOutcome(outcome string) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	wt.state.Outputs.RestoreOutcome = outcome
}

// RecordAction snapshots the current inputs and appends the action to the history
func (wt *WeatherTracker) RecordAction(actionType, reason string, details map[string]interface{}) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	now := wt.now()
	record := ActionRecord{
		Timestamp:  now,
		ActionType: actionType,
		Reason:     reason,
		Details:    details,
	}

	wt.state.Inputs.AtLastAction = make(map[string]interface{}, len(wt.state.Inputs.Current))
	for key, value := range wt.state.Inputs.Current {
		wt.state.Inputs.AtLastAction[key] = value
	}

	if actionType == ActionConditionEvent {
		event := record
		wt.state.Outputs.LastEvent = &event
	}

	wt.state.Outputs.RecentActions = append(wt.state.Outputs.RecentActions, record)
	if n := len(wt.state.Outputs.RecentActions); n > maxRecentActions {
		wt.state.Outputs.RecentActions = wt.state.Outputs.RecentActions[n-maxRecentActions:]
	}
	wt.state.Outputs.LastActionTime = now
	wt.state.Metadata.LastUpdated = now
}

// GetState returns the current shadow state (thread-safe copy)
func (wt *WeatherTracker) GetState() *WeatherShadowState {
	wt.mu.RLock()
	defer wt.mu.RUnlock()

	stateCopy := &WeatherShadowState{
		Entity: wt.state.Entity,
		Inputs: WeatherInputs{
			Current:      make(map[string]interface{}, len(wt.state.Inputs.Current)),
			AtLastAction: make(map[string]interface{}, len(wt.state.Inputs.AtLastAction)),
		},
		Outputs:  wt.state.Outputs,
		Metadata: wt.state.Metadata,
	}

	for k, v := range wt.state.Inputs.Current {
		stateCopy.Inputs.Current[k] = v
	}
	for k, v := range wt.state.Inputs.AtLastAction {
		stateCopy.Inputs.AtLastAction[k] = v
	}

	stateCopy.Outputs.RecentActions = append([]ActionRecord(nil), wt.state.Outputs.RecentActions...)
	if wt.state.Outputs.LastEvent != nil {
		event := *wt.state.Outputs.LastEvent
		stateCopy.Outputs.LastEvent = &event
	}

	return stateCopy
}
