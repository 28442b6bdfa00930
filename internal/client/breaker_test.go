package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-locator/internal/models"
	"github.com/kjstillabower/weather-locator/internal/observability"
)

// TestCircuitBreaker_FailsFastWhenOpen verifies that after FailureThreshold consecutive
// failures the client stops calling the provider and reports ErrCircuitOpen.
func TestCircuitBreaker_FailsFastWhenOpen(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	cb := NewCircuitBreaker(BreakerConfig{Name: "test_breaker", FailureThreshold: 2, OpenTimeout: time.Minute}, zap.New(core))
	c := newTestClient(t, server.URL)
	c.SetCircuitBreaker(cb)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.FetchCurrent(ctx, models.Coordinate{}, models.Metric); !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("call %d error = %v, want ErrUpstreamFailure", i, err)
		}
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", cb.State())
	}

	_, err := c.ForwardGeocode(ctx, "Paris", 1)
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, ErrNetwork) {
		t.Fatalf("error = %v, want ErrCircuitOpen network error", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}
	if got := testutil.ToFloat64(observability.CircuitBreakerState.WithLabelValues("test_breaker")); got != 2 {
		t.Errorf("circuitBreakerState = %v, want 2 (open)", got)
	}
	if logs.FilterMessage("circuit breaker state change").Len() != 1 {
		t.Errorf("expected one state change log, got %d", logs.Len())
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{}, nil)
	if cb.Name() != "openweather" {
		t.Errorf("Name() = %q, want openweather", cb.Name())
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}
