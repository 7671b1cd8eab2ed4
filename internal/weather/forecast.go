package weather

import (
	"encoding/json"
	"fmt"
	"time"

	"yandexweather/internal/units"
)

// Forecast is one twice-daily forecast entry. Numeric values are in the
// units of whatever unit set the entry was last converted to.
type Forecast struct {
	Datetime                 string      `json:"datetime"`
	Condition                string      `json:"condition,omitempty"`
	Temperature              *float64    `json:"temperature,omitempty"`
	TempLow                  *float64    `json:"templow,omitempty"`
	Pressure                 *float64    `json:"pressure,omitempty"`
	WindSpeed                *float64    `json:"wind_speed,omitempty"`
	WindBearing              interface{} `json:"wind_bearing,omitempty"`
	Precipitation            *float64    `json:"precipitation,omitempty"`
	PrecipitationProbability *float64    `json:"precipitation_probability,omitempty"`
	Humidity                 *float64    `json:"humidity,omitempty"`
	IsDaytime                *bool       `json:"is_daytime,omitempty"`
}

// DecodeForecast accepts the forecast as the updater stores it (a JSON array
// of objects, already decoded) or as a typed slice
func DecodeForecast(v interface{}) ([]Forecast, error) {
	switch f := v.(type) {
	case nil:
		return nil, nil
	case []Forecast:
		return cloneForecast(f), nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode forecast: %w", err)
	}

	var out []Forecast
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode forecast: %w", err)
	}
	return out, nil
}

func cloneForecast(in []Forecast) []Forecast {
	if in == nil {
		return nil
	}
	out := make([]Forecast, len(in))
	copy(out, in)
	return out
}

// convertedFloat converts v, leaving it untouched when conversion is impossible
func convertedFloat(v *float64, convert units.Converter, from, to string) *float64 {
	if v == nil {
		return nil
	}
	converted, err := convert(*v, from, to)
	if err != nil {
		return v
	}
	return &converted
}

// Convert returns a copy of f with every quantity moved from one unit set to another
func (f Forecast) Convert(from, to units.UnitSystem) Forecast {
	f.Temperature = convertedFloat(f.Temperature, units.ConvertTemperature, from.Temperature, to.Temperature)
	f.TempLow = convertedFloat(f.TempLow, units.ConvertTemperature, from.Temperature, to.Temperature)
	f.Pressure = convertedFloat(f.Pressure, units.ConvertPressure, from.Pressure, to.Pressure)
	f.WindSpeed = convertedFloat(f.WindSpeed, units.ConvertSpeed, from.WindSpeed, to.WindSpeed)
	f.Precipitation = convertedFloat(f.Precipitation, units.ConvertPrecipitation, from.Precipitation, to.Precipitation)
	return f
}

// formatForecastTime renders the observation time the way forecast datetimes are written
func formatForecastTime(v interface{}, now time.Time) string {
	switch t := v.(type) {
	case string:
		if t != "" {
			return t
		}
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		return time.Unix(int64(t), 0).UTC().Format(time.RFC3339)
	case int64:
		return time.Unix(t, 0).UTC().Format(time.RFC3339)
	case int:
		return time.Unix(int64(t), 0).UTC().Format(time.RFC3339)
	}
	return now.UTC().Format(time.RFC3339)
}
