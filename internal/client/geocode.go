package client

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-locator/internal/models"
)

// maxGeocodeLimit is the provider's cap on results per geocoding request.
const maxGeocodeLimit = 5

type geocodeResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

// ForwardGeocode resolves query to at most limit places. A blank query returns no
// places without calling the provider; no match is an empty slice, not an error.
func (c *OpenWeather) ForwardGeocode(ctx context.Context, query string, limit int) ([]models.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Place{}, nil
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(clampLimit(limit)))

	var results []geocodeResult
	if err := c.get(ctx, EndpointGeocodeDirect, geocodeDirectPath, params, &results); err != nil {
		return nil, err
	}
	places := make([]models.Place, 0, len(results))
	for _, r := range results {
		coord := models.Coordinate{Lat: r.Lat, Lon: r.Lon}
		if !coord.Valid() {
			continue
		}
		places = append(places, models.Place{
			Coordinate: coord,
			Name:       r.Name,
			Country:    r.Country,
			State:      r.State,
		})
	}
	return places, nil
}

// ReverseGeocode returns the display name of the first place near coord.
// found is false when the provider knows no place there.
func (c *OpenWeather) ReverseGeocode(ctx context.Context, coord models.Coordinate, limit int) (string, bool, error) {
	params := url.Values{}
	params.Set("lat", formatCoord(coord.Lat))
	params.Set("lon", formatCoord(coord.Lon))
	params.Set("limit", strconv.Itoa(clampLimit(limit)))

	var results []geocodeResult
	if err := c.get(ctx, EndpointGeocodeReverse, geocodeReversePath, params, &results); err != nil {
		return "", false, err
	}
	if len(results) == 0 || results[0].Name == "" {
		return "", false, nil
	}
	return results[0].Name, true, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 1
	}
	if limit > maxGeocodeLimit {
		return maxGeocodeLimit
	}
	return limit
}
