package models

import (
	"fmt"
	"strings"
	"time"
)

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies within [-90,90] x [-180,180].
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// String renders the coordinate with two decimals, the form used in the history list.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.2f, %.2f", c.Lat, c.Lon)
}

// UnitSystem selects the measurement convention requested from the weather provider.
type UnitSystem string

const (
	Metric   UnitSystem = "metric"
	Imperial UnitSystem = "imperial"
)

// ParseUnitSystem accepts "metric" or "imperial" (case-insensitive, trimmed).
func ParseUnitSystem(s string) (UnitSystem, error) {
	switch UnitSystem(strings.ToLower(strings.TrimSpace(s))) {
	case Metric:
		return Metric, nil
	case Imperial:
		return Imperial, nil
	}
	return "", fmt.Errorf("unknown unit system %q", s)
}

// TemperatureLabel returns the display suffix for temperatures in this unit system.
func (u UnitSystem) TemperatureLabel() string {
	if u == Imperial {
		return "°F"
	}
	return "°C"
}

// SpeedLabel returns the display suffix for wind speeds in this unit system.
func (u UnitSystem) SpeedLabel() string {
	if u == Imperial {
		return "mph"
	}
	return "m/s"
}

// Place is a geocoding match.
type Place struct {
	Coordinate Coordinate `json:"coordinate"`
	Name       string     `json:"name"`
	Country    string     `json:"country,omitempty"`
	State      string     `json:"state,omitempty"`
}

// WeatherSnapshot is a point-in-time reading for one Coordinate/UnitSystem pair.
type WeatherSnapshot struct {
	Coordinate  Coordinate `json:"coordinate"`
	Unit        UnitSystem `json:"unit"`
	Temperature float64    `json:"temperature"`
	Condition   string     `json:"condition"`
	Description string     `json:"description"`
	Humidity    int        `json:"humidity"`
	WindSpeed   float64    `json:"windSpeed"`
	Cloudiness  int        `json:"cloudiness"` // shown as "chance of rain"
	Icon        string     `json:"icon"`
	CityName    string     `json:"cityName,omitempty"`
	FetchedAt   time.Time  `json:"fetchedAt"`
	Stale       bool       `json:"stale,omitempty"` // kept after a failed refresh
}

// IconURL returns the provider's image URL for the snapshot icon, or "" without one.
func (w WeatherSnapshot) IconURL() string {
	if w.Icon == "" {
		return ""
	}
	return "https://openweathermap.org/img/wn/" + w.Icon + "@2x.png"
}
