//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-locator/internal/client"
	"github.com/kjstillabower/weather-locator/internal/history"
	"github.com/kjstillabower/weather-locator/internal/selection"
	"github.com/kjstillabower/weather-locator/internal/storage"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey         string
	BaseURL        string
	HistoryBackend string // "memory" (default) or "memcached"
	MemcachedAddrs string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if OPENWEATHERMAP_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("OPENWEATHERMAP_API_KEY")
	if apiKey == "" {
		t.Skip("OPENWEATHERMAP_API_KEY not set, skipping integration test")
	}

	baseURL := os.Getenv("OPENWEATHERMAP_BASE_URL")
	if baseURL == "" {
		baseURL = client.DefaultBaseURL
	}

	memcachedAddrs := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddrs == "" {
		memcachedAddrs = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:         apiKey,
		BaseURL:        baseURL,
		HistoryBackend: os.Getenv("INTEGRATION_HISTORY_BACKEND"),
		MemcachedAddrs: memcachedAddrs,
	}
}

// SetupIntegrationClient creates a live OpenWeather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeather {
	t.Helper()
	ow, err := client.NewOpenWeather(cfg.APIKey, cfg.BaseURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeather() error = %v", err)
	}
	return ow
}

// SetupIntegrationSession creates a session backed by the live provider. Memcached is used
// for history when requested and reachable; otherwise history stays in memory. The history
// key is unique per call so runs do not see each other's entries.
func SetupIntegrationSession(t *testing.T, cfg IntegrationTestConfig) (*selection.Session, func()) {
	t.Helper()
	ow := SetupIntegrationClient(t, cfg)

	var slot storage.Slot = storage.NewInMemorySlot()
	backend := storage.BackendMemory
	if cfg.HistoryBackend == storage.BackendMemcached {
		mc, err := storage.NewMemcachedSlot(cfg.MemcachedAddrs, 500*time.Millisecond, 2)
		if err == nil && mc.Ping(context.Background()) == nil {
			slot = mc
			backend = storage.BackendMemcached
			t.Logf("Using memcached history at %s", cfg.MemcachedAddrs)
		} else {
			t.Logf("memcached not available, using in-memory history")
		}
	}

	hist := history.Load(context.Background(), slot, history.Options{
		Key:     fmt.Sprintf("searchHistory-it-%d", time.Now().UnixNano()),
		Backend: backend,
	})
	session := selection.New(ow, ow, hist, selection.Options{
		LookupTimeout: 5 * time.Second,
		Logger:        zap.NewNop(),
	})
	cleanup := func() {
		session.Close()
		if c, ok := slot.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return session, cleanup
}
