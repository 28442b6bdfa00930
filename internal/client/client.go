package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-locator/internal/models"
	"github.com/kjstillabower/weather-locator/internal/observability"
)

// DefaultBaseURL is the OpenWeather API root shared by the weather and geo endpoints.
const DefaultBaseURL = "https://api.openweathermap.org"

const (
	weatherPath        = "/data/2.5/weather"
	geocodeDirectPath  = "/geo/1.0/direct"
	geocodeReversePath = "/geo/1.0/reverse"

	maxResponseBytes = 1 << 20
)

// Endpoint labels used in errors and metrics.
const (
	EndpointWeather        = "weather"
	EndpointGeocodeDirect  = "geocode_direct"
	EndpointGeocodeReverse = "geocode_reverse"
)

// WeatherClient fetches current conditions for a coordinate.
type WeatherClient interface {
	FetchCurrent(ctx context.Context, c models.Coordinate, unit models.UnitSystem) (models.WeatherSnapshot, error)
}

// Geocoder resolves place names to coordinates and back.
type Geocoder interface {
	ForwardGeocode(ctx context.Context, query string, limit int) ([]models.Place, error)
	ReverseGeocode(ctx context.Context, c models.Coordinate, limit int) (string, bool, error)
}

// OpenWeather implements WeatherClient and Geocoder against the OpenWeather API.
// Each call makes exactly one HTTP attempt.
type OpenWeather struct {
	apiKey  string
	baseURL *url.URL
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewOpenWeather returns a client for baseURL (DefaultBaseURL when empty).
// The API key is sent as-is; an empty or revoked key surfaces as ErrUnauthorized from the provider.
func NewOpenWeather(apiKey, baseURL string, timeout time.Duration) (*OpenWeather, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q: scheme and host required", baseURL)
	}
	return &OpenWeather{
		apiKey:  apiKey,
		baseURL: u,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// SetCircuitBreaker routes every call through cb. Pass nil to disable.
func (c *OpenWeather) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// get issues a GET to path with params plus the credential and decodes the JSON body into out.
func (c *OpenWeather) get(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	if c.breaker == nil {
		return c.call(ctx, endpoint, path, params, out)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.call(ctx, endpoint, path, params, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return c.fail(endpoint, 0, fmt.Errorf("%w: %v", ErrCircuitOpen, err))
	}
	return err
}

func (c *OpenWeather) call(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	start := time.Now()

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.buildRequest(reqCtx, path, params)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return c.fail(endpoint, 0, fmt.Errorf("build request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		return c.fail(endpoint, 0, fmt.Errorf("%w: %w", ErrTransport, err))
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	if err := statusError(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return c.fail(endpoint, resp.StatusCode, err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.fail(endpoint, resp.StatusCode, fmt.Errorf("%w: read response body: %w", ErrTransport, err))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.fail(endpoint, resp.StatusCode, fmt.Errorf("%w: parse response: %w", ErrDecode, err))
	}
	return nil
}

func (c *OpenWeather) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("appid", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func (c *OpenWeather) fail(endpoint string, status int, err error) error {
	observability.UpstreamErrorsTotal.WithLabelValues(endpoint, string(CategorizeError(err))).Inc()
	return &NetworkError{Endpoint: endpoint, Status: status, Err: err}
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, code)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, code)
	case code >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, code)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, code)
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
