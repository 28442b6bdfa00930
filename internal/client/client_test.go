package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-locator/internal/models"
	"github.com/kjstillabower/weather-locator/internal/observability"
)

func weatherPayload() map[string]interface{} {
	return map[string]interface{}{
		"name": "Paris",
		"main": map[string]interface{}{
			"temp":     18.4,
			"humidity": 72,
		},
		"weather": []map[string]interface{}{
			{
				"main":        "Clouds",
				"description": "broken clouds",
				"icon":        "04d",
			},
		},
		"wind": map[string]interface{}{
			"speed": 4.1,
		},
		"clouds": map[string]interface{}{
			"all": 75,
		},
	}
}

func newTestClient(t *testing.T, url string) *OpenWeather {
	t.Helper()
	c, err := NewOpenWeather("test-api-key-12345", url, 2*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeather() error = %v", err)
	}
	return c
}

func TestNewOpenWeather_BaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"default when empty", "", false},
		{"explicit", "https://api.test.com", false},
		{"missing scheme", "api.test.com", true},
		{"unparsable", "http://[::1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewOpenWeather("", tt.baseURL, time.Second)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewOpenWeather() expected error, got nil")
				}
				if c != nil {
					t.Error("NewOpenWeather() expected nil client on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOpenWeather() unexpected error: %v", err)
			}
		})
	}
}

// TestNewOpenWeather_EmptyKeyIsNotLocalError verifies that a missing credential is
// only reported by the provider, as an authorization failure.
func TestNewOpenWeather_EmptyKeyIsNotLocalError(t *testing.T) {
	var gotAppID atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAppID.Store(r.URL.Query().Get("appid"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c, err := NewOpenWeather("", server.URL, time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeather() error = %v", err)
	}
	_, err = c.FetchCurrent(context.Background(), models.Coordinate{Lat: 1, Lon: 2}, models.Metric)
	if !errors.Is(err, ErrUnauthorized) || !errors.Is(err, ErrNetwork) {
		t.Fatalf("FetchCurrent() error = %v, want ErrUnauthorized wrapped as network error", err)
	}
	if v, _ := gotAppID.Load().(string); v != "" {
		t.Errorf("appid = %q, want empty credential sent unmodified", v)
	}
}

func TestOpenWeather_FetchCurrent_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/data/2.5/weather" {
			t.Errorf("path = %q, want /data/2.5/weather", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("lat") != "48.8566" || q.Get("lon") != "2.3522" {
			t.Errorf("lat/lon = %s/%s", q.Get("lat"), q.Get("lon"))
		}
		if q.Get("units") != "imperial" {
			t.Errorf("units = %q, want imperial", q.Get("units"))
		}
		if q.Get("appid") != "test-api-key-12345" {
			t.Errorf("appid = %q", q.Get("appid"))
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(weatherPayload())
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	coord := models.Coordinate{Lat: 48.8566, Lon: 2.3522}
	got, err := c.FetchCurrent(context.Background(), coord, models.Imperial)
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}

	if got.Coordinate != coord {
		t.Errorf("Coordinate = %+v, want %+v", got.Coordinate, coord)
	}
	if got.Unit != models.Imperial {
		t.Errorf("Unit = %q, want imperial", got.Unit)
	}
	if got.Temperature != 18.4 {
		t.Errorf("Temperature = %f, want 18.4", got.Temperature)
	}
	if got.Condition != "Clouds" || got.Description != "broken clouds" {
		t.Errorf("Condition/Description = %q/%q", got.Condition, got.Description)
	}
	if got.Humidity != 72 {
		t.Errorf("Humidity = %d, want 72", got.Humidity)
	}
	if got.WindSpeed != 4.1 {
		t.Errorf("WindSpeed = %f, want 4.1", got.WindSpeed)
	}
	if got.Cloudiness != 75 {
		t.Errorf("Cloudiness = %d, want 75", got.Cloudiness)
	}
	if got.Icon != "04d" {
		t.Errorf("Icon = %q, want 04d", got.Icon)
	}
	if got.CityName != "Paris" {
		t.Errorf("CityName = %q, want Paris", got.CityName)
	}
	if got.FetchedAt.IsZero() {
		t.Error("FetchedAt should be set")
	}
}

func TestOpenWeather_FetchCurrent_DefaultsToMetric(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("units") != "metric" {
			t.Errorf("units = %q, want metric", r.URL.Query().Get("units"))
		}
		_ = json.NewEncoder(w).Encode(weatherPayload())
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL).FetchCurrent(context.Background(), models.Coordinate{}, "")
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}
	if got.Unit != models.Metric {
		t.Errorf("Unit = %q, want metric", got.Unit)
	}
}

func TestOpenWeather_FetchCurrent_ErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    error
	}{
		{"401 unauthorized", http.StatusUnauthorized, "", ErrUnauthorized},
		{"403 forbidden", http.StatusForbidden, "", ErrUnauthorized},
		{"429 rate limited", http.StatusTooManyRequests, "", ErrRateLimited},
		{"500 server error", http.StatusInternalServerError, "", ErrUpstreamFailure},
		{"502 bad gateway", http.StatusBadGateway, "", ErrUpstreamFailure},
		{"400 bad request", http.StatusBadRequest, "", ErrUnexpectedStatus},
		{"200 malformed body", http.StatusOK, "{not json", ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL).FetchCurrent(context.Background(), models.Coordinate{Lat: 1, Lon: 1}, models.Metric)
			if err == nil {
				t.Fatal("FetchCurrent() expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FetchCurrent() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrNetwork) {
				t.Errorf("FetchCurrent() error = %v, want it to match ErrNetwork", err)
			}
			var netErr *NetworkError
			if !errors.As(err, &netErr) {
				t.Fatalf("error %T is not *NetworkError", err)
			}
			if netErr.Endpoint != EndpointWeather || netErr.Status != tt.statusCode {
				t.Errorf("NetworkError = %+v", netErr)
			}
			if n := atomic.LoadInt32(&attempts); n != 1 {
				t.Errorf("attempts = %d, want exactly 1 (no retries)", n)
			}
		})
	}
}

func TestOpenWeather_FetchCurrent_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url).FetchCurrent(context.Background(), models.Coordinate{}, models.Metric)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, ErrNetwork) {
		t.Fatalf("FetchCurrent() error = %v, want transport network error", err)
	}
}

func TestOpenWeather_FetchCurrent_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, server.URL).FetchCurrent(ctx, models.Coordinate{}, models.Metric)
	if err == nil {
		t.Fatal("FetchCurrent() expected error, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FetchCurrent() error = %v, want context.Canceled", err)
	}
}

func TestOpenWeather_FetchCurrent_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewOpenWeather("k", server.URL, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewOpenWeather() error = %v", err)
	}
	_, err = c.FetchCurrent(context.Background(), models.Coordinate{}, models.Metric)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("FetchCurrent() error = %v, want network error", err)
	}
	if got := CategorizeError(err); got != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %v, want timeout", got)
	}
}

func TestOpenWeather_CorrelationID(t *testing.T) {
	var captured atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Store(r.Header.Get("X-Correlation-ID"))
		_ = json.NewEncoder(w).Encode(weatherPayload())
	}))
	defer server.Close()

	ctx := observability.WithCorrelationID(context.Background(), "test-correlation-id-123")
	if _, err := newTestClient(t, server.URL).FetchCurrent(ctx, models.Coordinate{}, models.Metric); err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}
	if got, _ := captured.Load().(string); got != "test-correlation-id-123" {
		t.Errorf("X-Correlation-ID header = %q, want %q", got, "test-correlation-id-123")
	}
}

func TestMapWeather(t *testing.T) {
	coord := models.Coordinate{Lat: 10, Lon: 20}
	tests := []struct {
		name    string
		apiResp openWeatherResponse
		want    models.WeatherSnapshot
	}{
		{
			name: "no description uses main",
			apiResp: func() openWeatherResponse {
				var r openWeatherResponse
				r.Weather = append(r.Weather, struct {
					Main        string `json:"main"`
					Description string `json:"description"`
					Icon        string `json:"icon"`
				}{Main: "Rain", Icon: "10n"})
				return r
			}(),
			want: models.WeatherSnapshot{Coordinate: coord, Unit: models.Metric, Condition: "Rain", Description: "Rain", Icon: "10n"},
		},
		{
			name:    "no weather entries",
			apiResp: openWeatherResponse{Name: "Nowhere"},
			want:    models.WeatherSnapshot{Coordinate: coord, Unit: models.Metric, CityName: "Nowhere"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapWeather(tt.apiResp, coord, models.Metric)
			got.FetchedAt = time.Time{}
			if got != tt.want {
				t.Errorf("mapWeather() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{200: "success", 204: "success", 429: "rate_limited", 404: "client_error", 503: "server_error", 302: "error"}
	for code, want := range tests {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
