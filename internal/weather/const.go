// Package weather implements the Yandex.Weather entity: it mirrors the
// coordinator's data onto a Home Assistant weather state, restores that state
// after a restart and fires an event when the condition changes.
package weather

const (
	Domain      = "yandex_weather"
	EventType   = Domain + "_event"
	Attribution = "Data provided by Yandex.Weather"

	// FeatureForecastTwiceDaily is WeatherEntityFeature.FORECAST_TWICE_DAILY
	FeatureForecastTwiceDaily = 4

	// minForecastLength is the fewest forecast entries the Home Assistant frontend will draw
	minForecastLength = 3

	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
)

// Keys of the coordinator data
const (
	KeyCondition         = "condition"
	KeyFeelsLike         = "feels_like"
	KeyForecastIcons     = "forecast_icons"
	KeyHumidity          = "humidity"
	KeyImage             = "image"
	KeyOriginalCondition = "original_condition"
	KeyPressure          = "pressure"
	KeyTempWater         = "temp_water"
	KeyTemperature       = "temperature"
	KeyWeatherTime       = "obs_time"
	KeyWindBearing       = "wind_bearing"
	KeyWindGust          = "wind_gust"
	KeyWindSpeed         = "wind_speed"
	KeyYandexCondition   = "yandex_condition"
	KeyDaytime           = "daytime"
	KeyForecast          = "forecast"
)

// State attribute names
const (
	AttrAttribution       = "attribution"
	AttrFriendlyName      = "friendly_name"
	AttrSupportedFeatures = "supported_features"
	AttrEntityPicture     = "entity_picture"
	AttrTemperature       = "temperature"
	AttrPressure          = "pressure"
	AttrWindSpeed         = "wind_speed"
	AttrHumidity          = "humidity"
	AttrWindBearing       = "wind_bearing"
	AttrForecast          = "forecast"
)

// restoredExtraAttributes are copied back verbatim from a restored state
var restoredExtraAttributes = []string{
	KeyFeelsLike,
	KeyWindGust,
	KeyYandexCondition,
	KeyTempWater,
	KeyForecastIcons,
}
