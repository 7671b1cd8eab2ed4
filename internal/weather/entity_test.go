package weather

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"yandexweather/internal/clock"
	"yandexweather/internal/coordinator"
	"yandexweather/internal/daylight"
	"yandexweather/internal/ha"
	"yandexweather/internal/restore"
	"yandexweather/internal/units"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const updaterJSON = `{
	"condition": "cloudy",
	"original_condition": "overcast",
	"yandex_condition": "overcast",
	"daytime": "d",
	"image": "ovc",
	"temperature": 20,
	"feels_like": 17,
	"pressure": 1013,
	"humidity": 71,
	"wind_speed": 5,
	"wind_gust": 9.2,
	"wind_bearing": 180,
	"forecast_icons": {"morning": "bkn_d", "evening": "ovc"},
	"obs_time": "2024-02-10T07:30:00+00:00",
	"forecast": [
		{"datetime": "2024-02-10T12:00:00+00:00", "condition": "rainy", "temperature": 22, "templow": 15, "pressure": 1010, "wind_speed": 4, "precipitation": 1.5}
	]
}`

type testEnv struct {
	clock   *clock.MockClock
	mock    *ha.MockClient
	store   *restore.MemoryStore
	fetches *atomic.Int32
	coord   *coordinator.Coordinator
	entity  *Entity
	data    coordinator.Data
	err     error
}

func parseData(t *testing.T, raw string) coordinator.Data {
	t.Helper()
	var data coordinator.Data
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	return data
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	env := &testEnv{
		clock:   clock.NewMockClock(time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC)),
		mock:    ha.NewMockClient(),
		store:   restore.NewMemoryStore(),
		fetches: &atomic.Int32{},
		data:    parseData(t, updaterJSON),
	}
	env.mock.SetNow(env.clock.Now)

	fetcher := coordinator.FetcherFunc(func(ctx context.Context) (coordinator.Data, error) {
		env.fetches.Add(1)
		if env.err != nil {
			return nil, env.err
		}
		return env.data, nil
	})

	env.coord = coordinator.New(coordinator.Config{
		Name:           "home",
		DeviceID:       "device-1",
		UpdateInterval: 30 * time.Minute,
	}, fetcher, env.clock, logger)
	t.Cleanup(env.coord.Stop)

	if opts.Name == "" {
		opts.Name = "Home Weather"
	}
	env.entity = NewEntity(opts, Deps{
		Updater: env.coord,
		Bus:     env.mock,
		Writer:  env.mock,
		Store:   env.store,
		Clock:   env.clock,
		Logger:  logger,
	})
	t.Cleanup(env.entity.RemovedFromHA)

	return env
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"Home Weather", "home_weather"},
		{"  Дача / Country  ", "country"},
		{"Yandex-Weather 2", "yandex_weather_2"},
		{"???", "unnamed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slugify(tt.name))
		})
	}
}

func TestAddedToHAWithoutStoredState(t *testing.T) {
	env := newTestEnv(t, Options{})
	e := env.entity

	require.NoError(t, e.AddedToHA(context.Background()))

	assert.Equal(t, "weather.home_weather", e.EntityID())
	assert.Equal(t, int32(1), env.fetches.Load())
	assert.True(t, e.Available())
	assert.Equal(t, "cloudy", e.Condition())

	writes := env.mock.GetStateWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, "cloudy", writes[0].State)
	assert.Equal(t, "weather.home_weather", writes[0].EntityID)

	events := env.mock.GetFiredEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventType, events[0].EventType)
	assert.Equal(t, "device-1", events[0].Data["device_id"])
	assert.Equal(t, "cloudy", events[0].Data["type"])

	assert.Equal(t, RestoreNone, e.Shadow().GetState().Outputs.RestoreOutcome)

	// next refresh one interval later
	assert.Equal(t, []time.Time{env.clock.Now().Add(30 * time.Minute)}, env.clock.Pending())
}

func TestAddedToHAFirstRefreshFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.err = errors.New("connection refused")

	err := env.entity.AddedToHA(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.False(t, env.entity.Available())
	writes := env.mock.GetStateWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, StateUnavailable, writes[0].State)

	// the coordinator keeps retrying on schedule
	env.err = nil
	env.clock.Advance(30 * time.Minute)
	assert.True(t, env.entity.Available())
	assert.Equal(t, "cloudy", env.entity.State())
}

func TestAddedToHARestoresUnavailable(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.store.Save(context.Background(), &ha.State{
		EntityID:    "weather.home_weather",
		State:       StateUnavailable,
		LastUpdated: env.clock.Now().Add(-time.Minute),
	}))

	require.NoError(t, env.entity.AddedToHA(context.Background()))

	assert.Equal(t, int32(1), env.fetches.Load())
	assert.Equal(t, RestoreUnavailable, env.entity.Shadow().GetState().Outputs.RestoreOutcome)

	// one write from the refresh listener, one from restore
	writes := env.mock.GetStateWrites()
	require.Len(t, writes, 2)
	assert.Equal(t, "cloudy", writes[1].State)
}

func storedImperialState(lastUpdated time.Time) *ha.State {
	return &ha.State{
		EntityID: "weather.home_weather",
		State:    "snowy",
		Attributes: map[string]interface{}{
			units.TemperatureUnitAttr:   units.Fahrenheit,
			units.PressureUnitAttr:      units.InHg,
			units.WindSpeedUnitAttr:     units.MilesPerHour,
			units.PrecipitationUnitAttr: units.Inches,
			AttrTemperature:             50.0,
			AttrPressure:                29.92,
			AttrWindSpeed:               "not a number",
			AttrHumidity:                80.0,
			AttrWindBearing:             90.0,
			AttrEntityPicture:           "https://example.test/snow.svg",
			KeyFeelsLike:                41.0,
			KeyTempWater:                nil,
			KeyYandexCondition:          "snow",
			AttrForecast: []interface{}{
				map[string]interface{}{
					"datetime":      "2024-02-10T12:00:00+00:00",
					"condition":     "snowy",
					"temperature":   32.0,
					"templow":       23.0,
					"precipitation": 1.0,
				},
			},
		},
		LastUpdated: lastUpdated,
	}
}

func TestAddedToHARestoresRecentState(t *testing.T) {
	env := newTestEnv(t, Options{})
	e := env.entity
	require.NoError(t, env.store.Save(context.Background(), storedImperialState(env.clock.Now().Add(-10*time.Minute))))

	require.NoError(t, e.AddedToHA(context.Background()))

	assert.Equal(t, int32(0), env.fetches.Load(), "refresh must wait for the rest of the interval")
	assert.Equal(t, []time.Time{env.clock.Now().Add(20 * time.Minute)}, env.clock.Pending())
	assert.Equal(t, RestoreScheduled, e.Shadow().GetState().Outputs.RestoreOutcome)

	assert.True(t, e.Available())
	assert.Equal(t, "snowy", e.Condition())
	require.NotNil(t, e.NativeTemperature())
	assert.InDelta(t, 10.0, *e.NativeTemperature(), 1e-9)
	require.NotNil(t, e.NativePressure())
	assert.InDelta(t, 1013.2, *e.NativePressure(), 0.1)
	assert.Nil(t, e.NativeWindSpeed(), "invalid stored value is skipped")
	assert.Equal(t, 80.0, *e.Humidity())
	assert.Equal(t, 90.0, e.WindBearing())
	assert.Equal(t, "https://example.test/snow.svg", e.EntityPicture())

	extra := e.ExtraStateAttributes()
	assert.Equal(t, 41.0, extra[KeyFeelsLike])
	assert.Equal(t, "snow", extra[KeyYandexCondition])
	assert.NotContains(t, extra, KeyTempWater)

	forecast := e.ForecastTwiceDaily()
	require.Len(t, forecast, 2)
	assert.InDelta(t, 0.0, *forecast[1].Temperature, 1e-9)
	assert.InDelta(t, -5.0, *forecast[1].TempLow, 1e-9)
	assert.InDelta(t, 25.4, *forecast[1].Precipitation, 1e-9)

	writes := env.mock.GetStateWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, "snowy", writes[0].State)

	// scheduled refresh brings fresh data
	env.clock.Advance(20 * time.Minute)
	assert.Equal(t, int32(1), env.fetches.Load())
	assert.Equal(t, "cloudy", e.Condition())
}

func TestAddedToHARestoresStaleState(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.store.Save(context.Background(), storedImperialState(env.clock.Now().Add(-45*time.Minute))))

	require.NoError(t, env.entity.AddedToHA(context.Background()))

	assert.Equal(t, int32(1), env.fetches.Load())
	assert.Equal(t, RestoreRefreshed, env.entity.Shadow().GetState().Outputs.RestoreOutcome)
	assert.Equal(t, "cloudy", env.entity.Condition())
}

func TestAddedToHARestoresUnknownCondition(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.store.Save(context.Background(), &ha.State{
		EntityID:    "weather.home_weather",
		State:       StateUnknown,
		LastUpdated: env.clock.Now(),
	}))

	require.NoError(t, env.entity.AddedToHA(context.Background()))

	assert.Equal(t, "", env.entity.Condition())
	assert.Equal(t, StateUnknown, env.entity.State())
}

func TestHandleCoordinatorUpdateMapsFields(t *testing.T) {
	env := newTestEnv(t, Options{})
	e := env.entity
	require.NoError(t, env.entity.AddedToHA(context.Background()))

	assert.Equal(t, 20.0, *e.NativeTemperature())
	assert.Equal(t, 1013.0, *e.NativePressure())
	assert.Equal(t, 5.0, *e.NativeWindSpeed())
	assert.Equal(t, 71.0, *e.Humidity())
	assert.Equal(t, 180.0, e.WindBearing())
	assert.Equal(t, "https://yastatic.net/weather/i/icons/funky/dark/ovc.svg", e.EntityPicture())

	extra := e.ExtraStateAttributes()
	assert.Equal(t, 17.0, extra[KeyFeelsLike])
	assert.Equal(t, 9.2, extra[KeyWindGust])
	assert.Equal(t, "overcast", extra[KeyYandexCondition])
	assert.NotNil(t, extra[KeyForecastIcons])
	assert.NotContains(t, extra, KeyTempWater)

	env.data[KeyTempWater] = 4.0
	env.coord.RequestRefresh(context.Background())
	assert.Equal(t, 4.0, e.ExtraStateAttributes()[KeyTempWater])
}

func TestHandleCoordinatorUpdateLocalImages(t *testing.T) {
	env := newTestEnv(t, Options{ImageSource: "Custom"})
	env.data[KeyDaytime] = "n"
	require.NoError(t, env.entity.AddedToHA(context.Background()))

	assert.Equal(t, "/local/yandex_weather/Custom/night/overcast.svg", env.entity.EntityPicture())
}

func TestHandleCoordinatorUpdateDaytimeFromLocation(t *testing.T) {
	env := newTestEnv(t, Options{
		ImageSource: "Custom",
		Location:    &daylight.Location{Latitude: 55.7558, Longitude: 37.6173},
	})
	delete(env.data, KeyDaytime)

	require.NoError(t, env.entity.AddedToHA(context.Background()))
	assert.Equal(t, "/local/yandex_weather/Custom/day/overcast.svg", env.entity.EntityPicture())

	env.clock.Set(time.Date(2024, 2, 10, 21, 0, 0, 0, time.UTC))
	env.coord.RequestRefresh(context.Background())
	assert.Equal(t, "/local/yandex_weather/Custom/night/overcast.svg", env.entity.EntityPicture())

	// an explicit flag wins over the sun position
	env.data[KeyDaytime] = "d"
	env.coord.RequestRefresh(context.Background())
	assert.Equal(t, "/local/yandex_weather/Custom/day/overcast.svg", env.entity.EntityPicture())
}

func TestHandleCoordinatorUpdateFailureMarksUnavailable(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.entity.AddedToHA(context.Background()))
	assert.True(t, env.entity.Available())

	env.err = errors.New("redis down")
	env.coord.RequestRefresh(context.Background())

	assert.False(t, env.entity.Available())
	writes := env.mock.GetStateWrites()
	require.Len(t, writes, 2)
	assert.Equal(t, StateUnavailable, writes[1].State)

	// values survive so they come back with the next success
	assert.Equal(t, 20.0, *env.entity.NativeTemperature())
}

func TestUpdateConditionAndFireEvent(t *testing.T) {
	env := newTestEnv(t, Options{})
	e := env.entity

	e.UpdateConditionAndFireEvent("rainy")
	e.UpdateConditionAndFireEvent("rainy")
	assert.Len(t, env.mock.GetFiredEvents(), 1, "unchanged condition fires nothing")

	e.UpdateConditionAndFireEvent("not-a-condition")
	assert.Len(t, env.mock.GetFiredEvents(), 1, "non-trigger condition fires nothing")
	assert.Equal(t, "not-a-condition", e.Condition())

	e.UpdateConditionAndFireEvent("sunny")
	events := env.mock.GetFiredEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "sunny", events[1].Data["type"])

	last := e.Shadow().GetState().Outputs.LastEvent
	require.NotNil(t, last)
	assert.Equal(t, "sunny", last.Details["type"])
}

func TestUpdateConditionWithoutBus(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Now())
	coord := coordinator.New(coordinator.Config{Name: "nobus", UpdateInterval: time.Hour},
		coordinator.FetcherFunc(func(ctx context.Context) (coordinator.Data, error) { return nil, nil }),
		clk, logger)
	t.Cleanup(coord.Stop)

	e := NewEntity(Options{Name: "No Bus"}, Deps{
		Updater: coord,
		Writer:  ha.NewMockClient(),
		Store:   restore.NewMemoryStore(),
		Clock:   clk,
		Logger:  logger,
	})

	assert.NotPanics(t, func() { e.UpdateConditionAndFireEvent("sunny") })
	assert.Equal(t, "sunny", e.Condition())
}

func TestFireEventErrorIsNotRecorded(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.mock.SetFireError(errors.New("socket closed"))

	env.entity.UpdateConditionAndFireEvent("fog")

	assert.Equal(t, "fog", env.entity.Condition())
	assert.Nil(t, env.entity.Shadow().GetState().Outputs.LastEvent)
}

func TestForecastTwiceDailyPadding(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.entity.AddedToHA(context.Background()))

	forecast := env.entity.ForecastTwiceDaily()
	require.Len(t, forecast, 2)

	current := forecast[0]
	assert.Equal(t, "2024-02-10T07:30:00+00:00", current.Datetime)
	assert.Equal(t, "cloudy", current.Condition)
	assert.Equal(t, 20.0, *current.Temperature)
	assert.Equal(t, 20.0, *current.TempLow)
	assert.Equal(t, 1013.0, *current.Pressure)
	assert.Equal(t, 5.0, *current.WindSpeed)
	assert.Equal(t, 180.0, current.WindBearing)
	assert.Equal(t, "rainy", forecast[1].Condition)

	// repeated calls never grow the stored list
	assert.Len(t, env.entity.ForecastTwiceDaily(), 2)
}

func TestForecastTwiceDailyPaddingWithoutObservationTime(t *testing.T) {
	env := newTestEnv(t, Options{})
	delete(env.data, KeyWeatherTime)
	delete(env.data, KeyForecast)
	require.NoError(t, env.entity.AddedToHA(context.Background()))

	forecast := env.entity.ForecastTwiceDaily()
	require.Len(t, forecast, 1)
	assert.Equal(t, "2024-02-10T08:00:00Z", forecast[0].Datetime)
}

func TestForecastTwiceDailyLongEnough(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.data[KeyForecast] = []interface{}{
		map[string]interface{}{"datetime": "a", "condition": "sunny"},
		map[string]interface{}{"datetime": "b", "condition": "cloudy"},
		map[string]interface{}{"datetime": "c", "condition": "rainy"},
	}
	require.NoError(t, env.entity.AddedToHA(context.Background()))

	forecast := env.entity.ForecastTwiceDaily()
	require.Len(t, forecast, 3)
	assert.Equal(t, "a", forecast[0].Datetime)
}

func TestSnapshotDisplayUnits(t *testing.T) {
	env := newTestEnv(t, Options{Units: units.Imperial})
	require.NoError(t, env.entity.AddedToHA(context.Background()))

	state, attrs := env.entity.Snapshot()
	assert.Equal(t, "cloudy", state)
	assert.Equal(t, Attribution, attrs[AttrAttribution])
	assert.Equal(t, "Home Weather", attrs[AttrFriendlyName])
	assert.Equal(t, FeatureForecastTwiceDaily, attrs[AttrSupportedFeatures])
	assert.Equal(t, units.Fahrenheit, attrs[units.TemperatureUnitAttr])
	assert.Equal(t, units.InHg, attrs[units.PressureUnitAttr])
	assert.Equal(t, units.MilesPerHour, attrs[units.WindSpeedUnitAttr])
	assert.Equal(t, units.Inches, attrs[units.PrecipitationUnitAttr])
	assert.InDelta(t, 68.0, attrs[AttrTemperature], 1e-9)
	assert.InDelta(t, 29.91, attrs[AttrPressure], 0.01)
	assert.InDelta(t, 11.18, attrs[AttrWindSpeed], 0.01)
	assert.Equal(t, 71.0, attrs[AttrHumidity])

	forecast, ok := attrs[AttrForecast].([]Forecast)
	require.True(t, ok)
	require.Len(t, forecast, 2)
	assert.InDelta(t, 71.6, *forecast[1].Temperature, 1e-9)
	assert.InDelta(t, 59.0, *forecast[1].TempLow, 1e-9)

	// native values stay untouched
	assert.Equal(t, 20.0, *env.entity.NativeTemperature())
	assert.Equal(t, 22.0, *env.entity.ForecastTwiceDaily()[1].Temperature)
}

func TestPublishedSnapshotRestoresNativeValues(t *testing.T) {
	env := newTestEnv(t, Options{Units: units.Imperial})
	env.data[KeyForecast] = []interface{}{
		map[string]interface{}{"datetime": "a", "condition": "sunny", "temperature": 21.5, "templow": 12.0, "pressure": 1001.0, "wind_speed": 3.0},
		map[string]interface{}{"datetime": "b", "condition": "cloudy", "temperature": 18.0},
		map[string]interface{}{"datetime": "c", "condition": "rainy", "temperature": 10.0},
	}
	require.NoError(t, env.entity.AddedToHA(context.Background()))
	published := env.entity

	// a second entity of the same name reads what the first one stored
	logger, _ := zap.NewDevelopment()
	idle := coordinator.New(coordinator.Config{Name: "idle", UpdateInterval: 30 * time.Minute},
		coordinator.FetcherFunc(func(ctx context.Context) (coordinator.Data, error) { return nil, coordinator.ErrNoData }),
		env.clock, logger)
	t.Cleanup(idle.Stop)

	restored := NewEntity(Options{Name: "Home Weather", Units: units.Metric}, Deps{
		Updater: idle,
		Writer:  ha.NewMockClient(),
		Store:   env.store,
		Clock:   env.clock,
		Logger:  logger,
	})
	require.NoError(t, restored.AddedToHA(context.Background()))

	assert.Equal(t, published.Condition(), restored.Condition())
	assert.InDelta(t, *published.NativeTemperature(), *restored.NativeTemperature(), 1e-6)
	assert.InDelta(t, *published.NativePressure(), *restored.NativePressure(), 1e-6)
	assert.InDelta(t, *published.NativeWindSpeed(), *restored.NativeWindSpeed(), 1e-6)

	want := published.ForecastTwiceDaily()
	got := restored.ForecastTwiceDaily()
	require.Len(t, got, len(want))
	assert.InDelta(t, *want[0].Temperature, *got[0].Temperature, 1e-6)
	assert.InDelta(t, *want[0].TempLow, *got[0].TempLow, 1e-6)
	assert.InDelta(t, *want[0].Pressure, *got[0].Pressure, 1e-6)
	assert.InDelta(t, *want[0].WindSpeed, *got[0].WindSpeed, 1e-6)
}

func TestReadOnlyMode(t *testing.T) {
	env := newTestEnv(t, Options{ReadOnly: true})
	require.NoError(t, env.entity.AddedToHA(context.Background()))

	assert.Empty(t, env.mock.GetStateWrites())
	assert.Empty(t, env.mock.GetFiredEvents())

	stored, err := env.store.LastState(context.Background(), env.entity.EntityID())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "cloudy", stored.State)
}

func TestWriteStateError(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.mock.SetWriteError(errors.New("HTTP 401"))

	err := env.entity.WriteState()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weather.home_weather")

	stored, err := env.store.LastState(context.Background(), env.entity.EntityID())
	require.NoError(t, err)
	assert.Nil(t, stored, "failed writes are not kept for restore")
}

func TestRemovedFromHAStopsUpdates(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, env.entity.AddedToHA(context.Background()))
	env.entity.RemovedFromHA()

	env.data[KeyCondition] = "sunny"
	env.coord.RequestRefresh(context.Background())

	assert.Equal(t, "cloudy", env.entity.Condition())
	assert.Len(t, env.mock.GetStateWrites(), 1)
}
