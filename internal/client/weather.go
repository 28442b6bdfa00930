package client

import (
	"context"
	"net/url"
	"time"

	"github.com/kjstillabower/weather-locator/internal/models"
)

type openWeatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Name string `json:"name"`
}

// FetchCurrent returns current conditions at c in the given unit system.
// The snapshot records the requested coordinate and unit, not the provider's snapped station coordinate.
func (c *OpenWeather) FetchCurrent(ctx context.Context, coord models.Coordinate, unit models.UnitSystem) (models.WeatherSnapshot, error) {
	if unit == "" {
		unit = models.Metric
	}
	params := url.Values{}
	params.Set("lat", formatCoord(coord.Lat))
	params.Set("lon", formatCoord(coord.Lon))
	params.Set("units", string(unit))

	var apiResp openWeatherResponse
	if err := c.get(ctx, EndpointWeather, weatherPath, params, &apiResp); err != nil {
		return models.WeatherSnapshot{}, err
	}
	return mapWeather(apiResp, coord, unit), nil
}

func mapWeather(apiResp openWeatherResponse, coord models.Coordinate, unit models.UnitSystem) models.WeatherSnapshot {
	snap := models.WeatherSnapshot{
		Coordinate:  coord,
		Unit:        unit,
		Temperature: apiResp.Main.Temp,
		Humidity:    apiResp.Main.Humidity,
		WindSpeed:   apiResp.Wind.Speed,
		Cloudiness:  apiResp.Clouds.All,
		CityName:    apiResp.Name,
		FetchedAt:   time.Now().UTC(),
	}
	if len(apiResp.Weather) > 0 {
		w := apiResp.Weather[0]
		snap.Condition = w.Main
		snap.Description = w.Description
		if snap.Description == "" {
			snap.Description = w.Main
		}
		snap.Icon = w.Icon
	}
	return snap
}
