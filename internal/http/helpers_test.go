package http

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-locator/internal/history"
	"github.com/kjstillabower/weather-locator/internal/lifecycle"
	"github.com/kjstillabower/weather-locator/internal/models"
	"github.com/kjstillabower/weather-locator/internal/selection"
	"github.com/kjstillabower/weather-locator/internal/storage"
)

type mockWeatherClient struct {
	snapshot models.WeatherSnapshot
	err      error
	block    chan struct{} // if set, FetchCurrent blocks until closed or ctx.Done()
}

func (m *mockWeatherClient) FetchCurrent(ctx context.Context, c models.Coordinate, u models.UnitSystem) (models.WeatherSnapshot, error) {
	if m.block != nil {
		select {
		case <-ctx.Done():
			return models.WeatherSnapshot{}, ctx.Err()
		case <-m.block:
		}
	}
	return m.snapshot, m.err
}

type mockGeocoder struct {
	places     []models.Place
	forwardErr error
	name       string
}

func (m *mockGeocoder) ForwardGeocode(ctx context.Context, query string, limit int) ([]models.Place, error) {
	return m.places, m.forwardErr
}

func (m *mockGeocoder) ReverseGeocode(ctx context.Context, c models.Coordinate, limit int) (string, bool, error) {
	return m.name, m.name != "", nil
}

func newTestSession(t *testing.T, w *mockWeatherClient, g *mockGeocoder) *selection.Session {
	t.Helper()
	if w == nil {
		w = &mockWeatherClient{snapshot: models.WeatherSnapshot{Temperature: 18.5, Description: "few clouds", Humidity: 60, WindSpeed: 4.1, Cloudiness: 20, Icon: "02d"}}
	}
	if g == nil {
		g = &mockGeocoder{}
	}
	hist := history.Load(context.Background(), storage.NewInMemorySlot(), history.Options{})
	s := selection.New(w, g, hist, selection.Options{})
	t.Cleanup(s.Close)
	return s
}

func newTestHandler(t *testing.T, s *selection.Session) *Handler {
	t.Helper()
	return NewHandler(s, lifecycle.New(), nil, true, zap.NewNop())
}

func waitSettled(t *testing.T, s *selection.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("session did not settle: %v", err)
	}
}
