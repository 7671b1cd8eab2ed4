package units

import (
	"fmt"
	"strings"
)

// UnitSystem names the display unit of every weather quantity
type UnitSystem struct {
	Name          string
	Temperature   string
	Pressure      string
	WindSpeed     string
	Precipitation string
}

// Native is the unit set the weather entity stores values in
var Native = UnitSystem{
	Name:          "native",
	Temperature:   Celsius,
	Pressure:      HPa,
	WindSpeed:     MetersPerSecond,
	Precipitation: Millimeters,
}

// Metric is Home Assistant's metric unit system
var Metric = UnitSystem{
	Name:          "metric",
	Temperature:   Celsius,
	Pressure:      HPa,
	WindSpeed:     KilometersPerHour,
	Precipitation: Millimeters,
}

// Imperial is Home Assistant's US customary unit system
var Imperial = UnitSystem{
	Name:          "imperial",
	Temperature:   Fahrenheit,
	Pressure:      InHg,
	WindSpeed:     MilesPerHour,
	Precipitation: Inches,
}

// ParseSystem resolves a unit system by name. An empty name selects Metric.
func ParseSystem(name string) (UnitSystem, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "metric":
		return Metric, nil
	case "imperial", "us_customary":
		return Imperial, nil
	case "native":
		return Native, nil
	default:
		return UnitSystem{}, fmt.Errorf("unknown unit system %q", name)
	}
}

// UnitFor returns the unit this system uses for a unit attribute name
func (s UnitSystem) UnitFor(attr string) string {
	switch attr {
	case TemperatureUnitAttr:
		return s.Temperature
	case PressureUnitAttr:
		return s.Pressure
	case WindSpeedUnitAttr:
		return s.WindSpeed
	case PrecipitationUnitAttr:
		return s.Precipitation
	default:
		return ""
	}
}
