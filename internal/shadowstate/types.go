package shadowstate

import "time"

// EntityShadowState is the interface every entity shadow state implements
type EntityShadowState interface {
	GetCurrentInputs() map[string]interface{}
	GetLastActionInputs() map[string]interface{}
	GetOutputs() interface{}
	GetMetadata() StateMetadata
}

// StateMetadata contains metadata about the shadow state
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	EntityID    string    `json:"entityId"`
}

// ActionRecord represents a single action taken by an entity
type ActionRecord struct {
	Timestamp  time.Time              `json:"timestamp"`
	ActionType string                 `json:"actionType"`
	Reason     string                 `json:"reason"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Action types recorded by the weather entity
const (
	ActionRestore        = "restore"
	ActionConditionEvent = "condition_event"
	ActionStateWrite     = "state_write"
	ActionRefresh        = "refresh"
)

// maxRecentActions bounds the action history kept per entity
const maxRecentActions = 20

// WeatherShadowState captures what the weather entity saw and did
type WeatherShadowState struct {
	Entity   string         `json:"entity"`
	Inputs   WeatherInputs  `json:"inputs"`
	Outputs  WeatherOutputs `json:"outputs"`
	Metadata StateMetadata  `json:"metadata"`
}

// WeatherInputs tracks the coordinator data now and when the last action was taken
type WeatherInputs struct {
	Current      map[string]interface{} `json:"current"`
	AtLastAction map[string]interface{} `json:"atLastAction"`
}

// WeatherOutputs tracks the published entity state
type WeatherOutputs struct {
	Condition      string         `json:"condition"`
	Available      bool           `json:"available"`
	ForecastLength int            `json:"forecastLength"`
	RestoreOutcome string         `json:"restoreOutcome,omitempty"`
	LastEvent      *ActionRecord  `json:"lastEvent,omitempty"`
	LastActionTime time.Time      `json:"lastActionTime"`
	RecentActions  []ActionRecord `json:"recentActions"`
}

// GetCurrentInputs implements EntityShadowState
func (w *WeatherShadowState) GetCurrentInputs() map[string]interface{} {
	return w.Inputs.Current
}

// GetLastActionInputs implements EntityShadowState
func (w *WeatherShadowState) GetLastActionInputs() map[string]interface{} {
	return w.Inputs.AtLastAction
}

// GetOutputs implements EntityShadowState
func (w *WeatherShadowState) GetOutputs() interface{} {
	return w.Outputs
}

// GetMetadata implements EntityShadowState
func (w *WeatherShadowState) GetMetadata() StateMetadata {
	return w.Metadata
}

// NewWeatherShadowState creates a new weather shadow state
func NewWeatherShadowState(entityID string) *WeatherShadowState {
	return &WeatherShadowState{
		Entity: entityID,
		Inputs: WeatherInputs{
			Current:      make(map[string]interface{}),
			AtLastAction: make(map[string]interface{}),
		},
		Outputs: WeatherOutputs{
			RecentActions: make([]ActionRecord, 0),
		},
		Metadata: StateMetadata{
			LastUpdated: time.Now(),
			EntityID:    entityID,
		},
	}
}
