package shadowstate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RegisterAndGet(t *testing.T) {
	tracker := NewTracker()

	static := NewWeatherShadowState("weather.static")
	tracker.RegisterEntity("weather.static", static)

	wt := NewWeatherTracker("weather.home")
	tracker.RegisterEntityProvider("weather.home", func() EntityShadowState {
		return wt.GetState()
	})

	state, ok := tracker.GetEntityState("weather.static")
	require.True(t, ok)
	assert.Equal(t, "weather.static", state.GetMetadata().EntityID)

	wt.UpdateOutputs("sunny", true, 4)
	state, ok = tracker.GetEntityState("weather.home")
	require.True(t, ok)
	outputs := state.GetOutputs().(WeatherOutputs)
	assert.Equal(t, "sunny", outputs.Condition)
	assert.Equal(t, 4, outputs.ForecastLength)

	_, ok = tracker.GetEntityState("weather.unknown")
	assert.False(t, ok)

	assert.Len(t, tracker.GetAllEntityStates(), 2)
	assert.Equal(t, []string{"weather.home", "weather.static"}, tracker.EntityIDs())
}

func TestWeatherTracker_RecordAction(t *testing.T) {
	wt := NewWeatherTracker("weather.home")
	fixed := time.Date(2024, 7, 1, 15, 0, 0, 0, time.UTC)
	wt.SetNow(func() time.Time { return fixed })

	wt.UpdateCurrentInputs(map[string]interface{}{"condition": "rainy"})
	wt.RecordAction(ActionConditionEvent, "condition changed", map[string]interface{}{"type": "rainy"})

	// inputs moving on do not change the snapshot
	wt.UpdateCurrentInputs(map[string]interface{}{"condition": "sunny"})

	state := wt.GetState()
	assert.Equal(t, "sunny", state.GetCurrentInputs()["condition"])
	assert.Equal(t, "rainy", state.GetLastActionInputs()["condition"])
	require.NotNil(t, state.Outputs.LastEvent)
	assert.Equal(t, "rainy", state.Outputs.LastEvent.Details["type"])
	assert.Equal(t, fixed, state.Outputs.LastActionTime)
	assert.Len(t, state.Outputs.RecentActions, 1)
}

func TestWeatherTracker_HistoryIsBounded(t *testing.T) {
	wt := NewWeatherTracker("weather.home")

	for i := 0; i < maxRecentActions+5; i++ {
		wt.RecordAction(ActionStateWrite, fmt.Sprintf("write %d", i), nil)
	}

	state := wt.GetState()
	require.Len(t, state.Outputs.RecentActions, maxRecentActions)
	assert.Equal(t, "write 5", state.Outputs.RecentActions[0].Reason)
	assert.Nil(t, state.Outputs.LastEvent)
}

func TestWeatherTracker_GetStateIsCopy(t *testing.T) {
	wt := NewWeatherTracker("weather.home")
	wt.UpdateCurrentInputs(map[string]interface{}{"humidity": 50.0})
	wt.SetRestoreOutcome("restored")

	state := wt.GetState()
	state.Inputs.Current["humidity"] = 99.0

	assert.Equal(t, 50.0, wt.GetState().Inputs.Current["humidity"])
	assert.Equal(t, "restored", wt.GetState().Outputs.RestoreOutcome)
}
