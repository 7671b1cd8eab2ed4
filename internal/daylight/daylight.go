// Package daylight tells day from night at a location. The weather entity
// uses it to pick day or night icons when the updater did not say.
package daylight

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Location is a point on Earth in decimal degrees
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SunTimes returns sunrise and sunset for the UTC date of t. Both are zero
// when the sun does not rise or set that day.
func (l Location) SunTimes(t time.Time) (rise, set time.Time) {
	t = t.UTC()
	return sunrise.SunriseSunset(l.Latitude, l.Longitude, t.Year(), t.Month(), t.Day())
}

// IsDay reports whether the sun is up at t
func (l Location) IsDay(t time.Time) bool {
	// a local day can straddle two UTC dates
	polar := true
	for _, offset := range []int{-1, 0, 1} {
		rise, set := l.SunTimes(t.AddDate(0, 0, offset))
		if rise.IsZero() || set.IsZero() {
			continue
		}
		polar = false
		if !t.Before(rise) && t.Before(set) {
			return true
		}
	}

	if polar {
		return l.polarDay(t)
	}
	return false
}

// polarDay guesses midnight sun vs polar night from the season
func (l Location) polarDay(t time.Time) bool {
	month := t.UTC().Month()
	northernSummer := month >= time.April && month <= time.September
	if l.Latitude >= 0 {
		return northernSummer
	}
	return !northernSummer
}
