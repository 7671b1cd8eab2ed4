// Package units converts weather quantities between the units Home Assistant
// understands. Native units for the weather entity are °C, hPa, m/s and mm.
package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Unit names as Home Assistant spells them in state attributes
const (
	Celsius    = "°C"
	Fahrenheit = "°F"
	Kelvin     = "K"

	Pa   = "Pa"
	HPa  = "hPa"
	KPa  = "kPa"
	Mbar = "mbar"
	Cbar = "cbar"
	InHg = "inHg"
	MmHg = "mmHg"
	Psi  = "psi"

	MetersPerSecond   = "m/s"
	KilometersPerHour = "km/h"
	MilesPerHour      = "mph"
	Knots             = "kn"
	FeetPerSecond     = "ft/s"

	Millimeters = "mm"
	Centimeters = "cm"
	Inches      = "in"
)

// Attribute names that carry the unit of a quantity
const (
	TemperatureUnitAttr   = "temperature_unit"
	PressureUnitAttr      = "pressure_unit"
	WindSpeedUnitAttr     = "wind_speed_unit"
	PrecipitationUnitAttr = "precipitation_unit"
)

var (
	// ErrInvalidValue is returned when the value is missing or not numeric
	ErrInvalidValue = errors.New("invalid value")

	// ErrUnknownUnit is returned for a unit the converter does not know
	ErrUnknownUnit = errors.New("unknown unit")
)

// Converter converts value from one unit to another
type Converter func(value any, from, to string) (float64, error)

// Conversions maps a unit attribute name to its converter
var Conversions = map[string]Converter{
	TemperatureUnitAttr:   ConvertTemperature,
	PressureUnitAttr:      ConvertPressure,
	WindSpeedUnitAttr:     ConvertSpeed,
	PrecipitationUnitAttr: ConvertPrecipitation,
}

// ratio tables: how many of the unit make up one base unit
var (
	pressureRatios = map[string]float64{
		Pa:   100,
		HPa:  1,
		KPa:  0.1,
		Mbar: 1,
		Cbar: 0.1,
		InHg: 1 / 33.86389,
		MmHg: 1 / 1.333224,
		Psi:  1 / 68.94757,
	}

	speedRatios = map[string]float64{
		MetersPerSecond:   1,
		KilometersPerHour: 3.6,
		MilesPerHour:      3600 / 1609.344,
		Knots:             3600 / 1852.0,
		FeetPerSecond:     1 / 0.3048,
	}

	precipitationRatios = map[string]float64{
		Millimeters: 1,
		Centimeters: 0.1,
		Inches:      1 / 25.4,
	}
)

// ToFloat coerces a loosely typed attribute value to float64
func ToFloat(value any) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, fmt.Errorf("%w: nil", ErrInvalidValue)
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, v.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, value)
	}
}

func convertRatio(ratios map[string]float64, value any, from, to string) (float64, error) {
	f, err := ToFloat(value)
	if err != nil {
		return 0, err
	}
	if from == to {
		return f, nil
	}

	fromRatio, ok := ratios[from]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, from)
	}
	toRatio, ok := ratios[to]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, to)
	}

	return f / fromRatio * toRatio, nil
}

// ConvertTemperature converts between °C, °F and K
func ConvertTemperature(value any, from, to string) (float64, error) {
	f, err := ToFloat(value)
	if err != nil {
		return 0, err
	}
	if from == to {
		return f, nil
	}

	var celsius float64
	switch from {
	case Celsius:
		celsius = f
	case Fahrenheit:
		celsius = (f - 32) / 1.8
	case Kelvin:
		celsius = f - 273.15
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, from)
	}

	switch to {
	case Celsius:
		return celsius, nil
	case Fahrenheit:
		return celsius*1.8 + 32, nil
	case Kelvin:
		return celsius + 273.15, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, to)
	}
}

// ConvertPressure converts between pressure units
func ConvertPressure(value any, from, to string) (float64, error) {
	return convertRatio(pressureRatios, value, from, to)
}

// ConvertSpeed converts between wind speed units
func ConvertSpeed(value any, from, to string) (float64, error) {
	return convertRatio(speedRatios, value, from, to)
}

// ConvertPrecipitation converts between precipitation depth units
func ConvertPrecipitation(value any, from, to string) (float64, error) {
	return convertRatio(precipitationRatios, value, from, to)
}
