package client

import (
	"errors"
	"fmt"
)

// ErrNetwork matches every upstream failure: errors.Is(err, ErrNetwork) is true for any *NetworkError.
var ErrNetwork = errors.New("network error")

var (
	ErrTransport        = errors.New("transport failure")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrDecode           = errors.New("malformed response")
	ErrCircuitOpen      = errors.New("circuit open")
)

// NetworkError is returned by every OpenWeather call that did not produce a usable response.
type NetworkError struct {
	Endpoint string
	Status   int // 0 when no response was received
	Err      error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is makes every NetworkError match ErrNetwork.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
