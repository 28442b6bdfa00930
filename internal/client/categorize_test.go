package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestCategorizeError verifies that CategorizeError maps errors to the correct ErrorCategory
// for metrics labeling.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"unauthorized", ErrUnauthorized, ErrorCategoryUnauthorized},
		{"wrapped unauthorized", &NetworkError{Endpoint: EndpointWeather, Status: 401, Err: fmt.Errorf("%w: HTTP 401", ErrUnauthorized)}, ErrorCategoryUnauthorized},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"upstream failure", ErrUpstreamFailure, ErrorCategoryUpstream5xx},
		{"unexpected status", ErrUnexpectedStatus, ErrorCategoryClientError},
		{"decode", fmt.Errorf("%w: parse response: eof", ErrDecode), ErrorCategoryParsing},
		{"circuit open", ErrCircuitOpen, ErrorCategoryCircuitOpen},
		{"transport timeout in context", fmt.Errorf("%w: %w", ErrTransport, context.DeadlineExceeded), ErrorCategoryTimeout},
		{"transport", fmt.Errorf("%w: dial tcp: refused", ErrTransport), ErrorCategoryNetwork},
		{"connection in message", errors.New("connection refused"), ErrorCategoryNetwork},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNetworkError_IsAndMessage(t *testing.T) {
	err := &NetworkError{Endpoint: EndpointGeocodeDirect, Status: 502, Err: fmt.Errorf("%w: HTTP 502", ErrUpstreamFailure)}
	if !errors.Is(err, ErrNetwork) {
		t.Error("NetworkError should match ErrNetwork")
	}
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Error("NetworkError should unwrap to its cause")
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("NetworkError should not match unrelated causes")
	}
	if got, want := err.Error(), "geocode_direct: status 502: upstream failure: HTTP 502"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	noStatus := &NetworkError{Endpoint: EndpointWeather, Err: ErrTransport}
	if got, want := noStatus.Error(), "weather: transport failure"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
