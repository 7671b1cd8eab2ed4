package weather

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"yandexweather/internal/clock"
	"yandexweather/internal/coordinator"
	"yandexweather/internal/daylight"
	"yandexweather/internal/ha"
	"yandexweather/internal/metrics"
	"yandexweather/internal/restore"
	"yandexweather/internal/shadowstate"
	"yandexweather/internal/units"

	"go.uber.org/zap"
)

// Updater is the part of the coordinator the entity relies on
type Updater interface {
	Data() coordinator.Data
	UpdateInterval() time.Duration
	FirstRefresh(ctx context.Context) error
	ScheduleRefresh(offset time.Duration)
	LastUpdateSuccess() bool
	AddListener(f func()) (remove func())
	DeviceID() string
}

// EventBus fires events on the Home Assistant bus
type EventBus interface {
	FireEvent(eventType string, data map[string]interface{}) error
}

// Options describe one configured weather entry
type Options struct {
	Name        string
	UniqueID    string
	ImageSource string
	Units       units.UnitSystem
	ReadOnly    bool

	// Location decides day or night icons when the data lack daytime
	Location *daylight.Location
}

// Deps are the collaborators of an Entity. Bus and Shadow may be nil.
type Deps struct {
	Updater Updater
	Bus     EventBus
	Writer  ha.StateWriter
	Store   restore.Store
	Clock   clock.Clock
	Logger  *zap.Logger
	Shadow  *shadowstate.WeatherTracker
}

// Restore outcomes
const (
	RestoreNone        = "none"
	RestoreUnavailable = "unavailable"
	RestoreRefreshed   = "restored_refreshed"
	RestoreScheduled   = "restored_scheduled"
)

// Entity is the Yandex.Weather weather entity
type Entity struct {
	name        string
	uniqueID    string
	entityID    string
	imageSource string
	display     units.UnitSystem
	readOnly    bool
	location    *daylight.Location

	updater Updater
	bus     EventBus
	writer  ha.StateWriter
	store   restore.Store
	clock   clock.Clock
	logger  *zap.Logger
	shadow  *shadowstate.WeatherTracker
	metrics *metrics.Metrics

	removeListener func()

	mu          sync.RWMutex
	available   bool
	condition   string
	temperature *float64
	pressure    *float64
	windSpeed   *float64
	humidity    *float64
	windBearing interface{}
	picture     string
	extra       map[string]interface{}
	forecast    []Forecast
}

// isDay prefers the updater's daytime flag and falls back to the sun position
func (e *Entity) isDay(data coordinator.Data) bool {
	if _, ok := data[KeyDaytime]; ok || e.location == nil {
		return stringField(data, KeyDaytime) == "d"
	}
	return e.location.IsDay(e.clock.Now())
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a display name into the object id part of an entity id
func Slugify(name string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "unnamed"
	}
	return slug
}

// NewEntity creates the entity; it stays inert until AddedToHA
func NewEntity(opts Options, deps Deps) *Entity {
	display := opts.Units
	if display.Name == "" {
		display = units.Metric
	}

	imageSource := opts.ImageSource
	if imageSource == "" {
		imageSource = ImageSourceYandex
	}

	entityID := "weather." + Slugify(opts.Name)

	shadow := deps.Shadow
	if shadow == nil {
		shadow = shadowstate.NewWeatherTracker(entityID)
	}

	return &Entity{
		name:        opts.Name,
		uniqueID:    opts.UniqueID,
		entityID:    entityID,
		imageSource: imageSource,
		display:     display,
		readOnly:    opts.ReadOnly,
		location:    opts.Location,
		updater:     deps.Updater,
		bus:         deps.Bus,
		writer:      deps.Writer,
		store:       deps.Store,
		clock:       deps.Clock,
		logger:      deps.Logger.Named("weather").With(zap.String("entity_id", entityID)),
		shadow:      shadow,
		metrics:     metrics.Get(),
		extra:       make(map[string]interface{}),
	}
}

// EntityID returns the Home Assistant entity id
func (e *Entity) EntityID() string { return e.entityID }

// Name returns the display name
func (e *Entity) Name() string { return e.name }

// UniqueID returns the unique id of the config entry
func (e *Entity) UniqueID() string { return e.uniqueID }

// Shadow returns the entity's shadow state tracker
func (e *Entity) Shadow() *shadowstate.WeatherTracker { return e.shadow }

// Available reports whether the entity currently has usable data
func (e *Entity) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.available
}

// Condition returns the current condition, empty when unknown
func (e *Entity) Condition() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.condition
}

// NativeTemperature returns the temperature in °C
func (e *Entity) NativeTemperature() *float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.temperature
}

// NativePressure returns the pressure in hPa
func (e *Entity) NativePressure() *float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pressure
}

// NativeWindSpeed returns the wind speed in m/s
func (e *Entity) NativeWindSpeed() *float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.windSpeed
}

// Humidity returns the relative humidity in percent
func (e *Entity) Humidity() *float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.humidity
}

// WindBearing returns the wind bearing as the updater reported it
func (e *Entity) WindBearing() interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.windBearing
}

// EntityPicture returns the picture URL, empty when there is none
func (e *Entity) EntityPicture() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.picture
}

// ExtraStateAttributes returns a copy of the provider specific attributes
func (e *Entity) ExtraStateAttributes() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]interface{}, len(e.extra))
	for k, v := range e.extra {
		out[k] = v
	}
	return out
}

// AddedToHA hooks the entity to the coordinator and restores the previous
// state. Without a previous state, or when it was unavailable, the coordinator
// is refreshed at once; otherwise the refresh is due one interval after the
// previous write.
func (e *Entity) AddedToHA(ctx context.Context) error {
	e.removeListener = e.updater.AddListener(e.HandleCoordinatorUpdate)

	last, err := e.store.LastState(ctx, e.entityID)
	if err != nil {
		e.logger.Warn("Failed to load state for restore", zap.Error(err))
		last = nil
	}

	if last == nil {
		e.logger.Debug("Have no state for restore")
		e.recordRestore(RestoreNone)
		return e.updater.FirstRefresh(ctx)
	}

	if last.State == StateUnavailable {
		e.mu.Lock()
		e.available = false
		e.mu.Unlock()
		e.recordRestore(RestoreUnavailable)

		if err := e.updater.FirstRefresh(ctx); err != nil {
			return err
		}
		return e.WriteState()
	}

	e.logger.Debug("State for restore",
		zap.String("state", last.State),
		zap.Time("last_updated", last.LastUpdated))
	e.restoreFrom(last)

	// last_updated is the last state write, not the last data update
	interval := e.updater.UpdateInterval()
	sinceLastUpdate := e.clock.Since(last.LastUpdated)
	e.logger.Debug("Time since last update",
		zap.Duration("since_last_update", sinceLastUpdate),
		zap.Duration("update_interval", interval))

	if sinceLastUpdate > interval {
		e.recordRestore(RestoreRefreshed)
		if err := e.updater.FirstRefresh(ctx); err != nil {
			return err
		}
	} else {
		e.recordRestore(RestoreScheduled)
		e.updater.ScheduleRefresh(interval - sinceLastUpdate)
	}

	return e.WriteState()
}

// RemovedFromHA detaches the entity from the coordinator
func (e *Entity) RemovedFromHA() {
	if e.removeListener != nil {
		e.removeListener()
		e.removeListener = nil
	}
}

func (e *Entity) recordRestore(outcome string) {
	e.metrics.Restores.WithLabelValues(e.entityID, outcome).Inc()
	e.shadow.SetRestoreOutcome(outcome)
	e.shadow.RecordAction(shadowstate.ActionRestore, outcome, nil)
}

// restoreFrom rebuilds the entity from a stored state, converting every
// quantity from the unit it was written in back to the native unit
func (e *Entity) restoreFrom(last *ha.State) {
	attrs := last.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}

	stored := units.UnitSystem{
		Name:          "stored",
		Temperature:   storedUnit(attrs, units.TemperatureUnitAttr, units.Native.Temperature),
		Pressure:      storedUnit(attrs, units.PressureUnitAttr, units.Native.Pressure),
		WindSpeed:     storedUnit(attrs, units.WindSpeedUnitAttr, units.Native.WindSpeed),
		Precipitation: storedUnit(attrs, units.PrecipitationUnitAttr, units.Native.Precipitation),
	}

	forecast, err := DecodeForecast(attrs[AttrForecast])
	if err != nil {
		e.logger.Warn("Failed to restore forecast", zap.Error(err))
		forecast = nil
	}
	for i := range forecast {
		forecast[i] = forecast[i].Convert(stored, units.Native)
	}

	extra := make(map[string]interface{})
	for _, key := range restoredExtraAttributes {
		if v, ok := attrs[key]; ok && v != nil {
			extra[key] = v
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.available = true
	e.condition = last.State
	if e.condition == StateUnknown {
		e.condition = ""
	}

	if v, ok := restoreQuantity(attrs[AttrTemperature], units.ConvertTemperature, stored.Temperature, units.Native.Temperature); ok {
		e.temperature = v
	}
	if v, ok := restoreQuantity(attrs[AttrPressure], units.ConvertPressure, stored.Pressure, units.Native.Pressure); ok {
		e.pressure = v
	}
	if v, ok := restoreQuantity(attrs[AttrWindSpeed], units.ConvertSpeed, stored.WindSpeed, units.Native.WindSpeed); ok {
		e.windSpeed = v
	}

	e.humidity = floatOrNil(attrs[AttrHumidity])
	e.windBearing = attrs[AttrWindBearing]
	e.picture, _ = attrs[AttrEntityPicture].(string)
	e.forecast = forecast
	e.extra = extra
}

func storedUnit(attrs map[string]interface{}, attr, fallback string) string {
	if unit, ok := attrs[attr].(string); ok && unit != "" {
		return unit
	}
	return fallback
}

// restoreQuantity converts a stored value; ok is false when it cannot be used
func restoreQuantity(v interface{}, convert units.Converter, from, to string) (*float64, bool) {
	converted, err := convert(v, from, to)
	if err != nil {
		return nil, false
	}
	return &converted, true
}

func floatOrNil(v interface{}) *float64 {
	f, err := units.ToFloat(v)
	if err != nil {
		return nil
	}
	return &f
}

// HandleCoordinatorUpdate copies the coordinator's data onto the entity and
// writes the new state
func (e *Entity) HandleCoordinatorUpdate() {
	if !e.updater.LastUpdateSuccess() {
		e.mu.Lock()
		e.available = false
		e.mu.Unlock()
		e.shadow.RecordAction(shadowstate.ActionRefresh, "coordinator update failed", nil)
		e.writeStateLogged()
		return
	}

	data := e.updater.Data()
	if data == nil {
		return
	}
	e.shadow.UpdateCurrentInputs(data)

	e.mu.Lock()
	e.available = true
	e.mu.Unlock()

	e.UpdateConditionAndFireEvent(stringField(data, KeyCondition))

	forecast, err := DecodeForecast(data[KeyForecast])
	if err != nil {
		e.logger.Warn("Ignoring malformed forecast", zap.Error(err))
		forecast = nil
	}

	extra := map[string]interface{}{
		KeyFeelsLike:       data[KeyFeelsLike],
		KeyWindGust:        data[KeyWindGust],
		KeyYandexCondition: data[KeyYandexCondition],
		KeyForecastIcons:   data[KeyForecastIcons],
	}
	if v, ok := data[KeyTempWater]; ok {
		extra[KeyTempWater] = v
	} else {
		e.logger.Debug("Data have no temp_water, skipping")
	}

	picture := ImageURL(
		e.imageSource,
		stringField(data, KeyOriginalCondition),
		e.isDay(data),
		stringField(data, KeyImage),
	)

	e.mu.Lock()
	e.picture = picture
	e.forecast = forecast
	e.humidity = floatOrNil(data[KeyHumidity])
	e.pressure = floatOrNil(data[KeyPressure])
	e.temperature = floatOrNil(data[KeyTemperature])
	e.windSpeed = floatOrNil(data[KeyWindSpeed])
	e.windBearing = data[KeyWindBearing]
	e.extra = extra
	e.mu.Unlock()

	e.writeStateLogged()
}

func stringField(data coordinator.Data, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// UpdateConditionAndFireEvent sets the condition and, when it changed to one
// of the trigger conditions, fires the domain event with the device id
func (e *Entity) UpdateConditionAndFireEvent(newCondition string) {
	e.mu.Lock()
	changed := newCondition != e.condition
	e.condition = newCondition
	e.mu.Unlock()

	if !changed || e.bus == nil || !IsTrigger(newCondition) {
		return
	}

	data := map[string]interface{}{
		"device_id": e.updater.DeviceID(),
		"type":      newCondition,
	}

	if e.readOnly {
		e.logger.Info("READ-ONLY mode: Would fire condition event",
			zap.String("event_type", EventType),
			zap.String("condition", newCondition))
	} else if err := e.bus.FireEvent(EventType, data); err != nil {
		e.logger.Error("Failed to fire condition event",
			zap.String("condition", newCondition),
			zap.Error(err))
		return
	}

	e.metrics.ConditionEvents.WithLabelValues(e.entityID, newCondition).Inc()
	e.shadow.RecordAction(shadowstate.ActionConditionEvent, "condition changed", data)
}

// ForecastTwiceDaily returns the forecast in native units. When it has fewer
// than three entries the current conditions are prepended as an extra entry.
func (e *Entity) ForecastTwiceDaily() []Forecast {
	var weatherTime interface{}
	if data := e.updater.Data(); data != nil {
		weatherTime = data[KeyWeatherTime]
	}
	now := e.clock.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.forecastLocked(weatherTime, now)
}

func (e *Entity) forecastLocked(weatherTime interface{}, now time.Time) []Forecast {
	result := cloneForecast(e.forecast)
	if len(result) >= minForecastLength {
		return result
	}

	e.logger.Debug("Have not enough forecast data, adding current weather to forecast",
		zap.Int("entries", len(result)))

	current := Forecast{
		Datetime:    formatForecastTime(weatherTime, now),
		Condition:   e.condition,
		Temperature: e.temperature,
		TempLow:     e.temperature,
		Pressure:    e.pressure,
		WindSpeed:   e.windSpeed,
		WindBearing: e.windBearing,
	}
	return append([]Forecast{current}, result...)
}

// State returns the state string Home Assistant shows
func (e *Entity) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stateLocked()
}

func (e *Entity) stateLocked() string {
	switch {
	case !e.available:
		return StateUnavailable
	case e.condition == "":
		return StateUnknown
	default:
		return e.condition
	}
}

// Snapshot returns the state and attributes as written to Home Assistant,
// quantities in the display unit system
func (e *Entity) Snapshot() (string, map[string]interface{}) {
	var weatherTime interface{}
	if data := e.updater.Data(); data != nil {
		weatherTime = data[KeyWeatherTime]
	}
	now := e.clock.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	attrs := map[string]interface{}{
		AttrAttribution:             Attribution,
		AttrFriendlyName:            e.name,
		AttrSupportedFeatures:       FeatureForecastTwiceDaily,
		units.TemperatureUnitAttr:   e.display.Temperature,
		units.PressureUnitAttr:      e.display.Pressure,
		units.WindSpeedUnitAttr:     e.display.WindSpeed,
		units.PrecipitationUnitAttr: e.display.Precipitation,
	}

	if v := convertedFloat(e.temperature, units.ConvertTemperature, units.Native.Temperature, e.display.Temperature); v != nil {
		attrs[AttrTemperature] = *v
	}
	if v := convertedFloat(e.pressure, units.ConvertPressure, units.Native.Pressure, e.display.Pressure); v != nil {
		attrs[AttrPressure] = *v
	}
	if v := convertedFloat(e.windSpeed, units.ConvertSpeed, units.Native.WindSpeed, e.display.WindSpeed); v != nil {
		attrs[AttrWindSpeed] = *v
	}
	if e.humidity != nil {
		attrs[AttrHumidity] = *e.humidity
	}
	if e.windBearing != nil {
		attrs[AttrWindBearing] = e.windBearing
	}
	if e.picture != "" {
		attrs[AttrEntityPicture] = e.picture
	}

	for k, v := range e.extra {
		attrs[k] = v
	}

	forecast := e.forecastLocked(weatherTime, now)
	for i := range forecast {
		forecast[i] = forecast[i].Convert(units.Native, e.display)
	}
	attrs[AttrForecast] = forecast

	return e.stateLocked(), attrs
}

// WriteState pushes the current state to Home Assistant and keeps it for restore
func (e *Entity) WriteState() error {
	state, attrs := e.Snapshot()

	e.metrics.Available.WithLabelValues(e.entityID).Set(boolGauge(state != StateUnavailable))
	e.shadow.UpdateOutputs(e.Condition(), state != StateUnavailable, forecastLen(attrs))

	if e.readOnly {
		e.logger.Info("READ-ONLY mode: Would write state", zap.String("state", state))
	} else if _, err := e.writer.SetState(e.entityID, state, attrs); err != nil {
		e.metrics.StateWrites.WithLabelValues(e.entityID, "error").Inc()
		return fmt.Errorf("failed to write state of %s: %w", e.entityID, err)
	}
	e.metrics.StateWrites.WithLabelValues(e.entityID, "success").Inc()

	record := &ha.State{
		EntityID:    e.entityID,
		State:       state,
		Attributes:  attrs,
		LastUpdated: e.clock.Now(),
	}
	if err := e.store.Save(context.Background(), record); err != nil {
		e.logger.Warn("Failed to store state for restore", zap.Error(err))
	}

	e.shadow.RecordAction(shadowstate.ActionStateWrite, state, nil)
	return nil
}

func (e *Entity) writeStateLogged() {
	if err := e.WriteState(); err != nil {
		e.logger.Error("Failed to write state", zap.Error(err))
	}
}

func forecastLen(attrs map[string]interface{}) int {
	if f, ok := attrs[AttrForecast].([]Forecast); ok {
		return len(f)
	}
	return 0
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
