package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-locator/internal/models"
	"github.com/kjstillabower/weather-locator/internal/storage"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	APIKey     string // empty is allowed; the provider rejects calls without it
	APIBaseURL string
	APITimeout time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerOpenTimeout      time.Duration

	DefaultCoordinate       models.Coordinate
	DefaultUnit             models.UnitSystem
	Zoom                    int
	FetchOnStart            bool
	RecordDefault           bool
	KeepSnapshotOnUnitError bool

	HistoryBackend        string
	HistoryPath           string
	HistoryKey            string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RateLimitRPS   int // 0 disables rate limiting
	RateLimitBurst int

	QueryMaxLength int
}

type fileConfig struct {
	Server struct {
		Port            string `yaml:"port"`
		RequestTimeout  string `yaml:"request_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	OpenWeatherMap struct {
		BaseURL        string `yaml:"base_url"`
		Timeout        string `yaml:"timeout"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			OpenTimeout      string `yaml:"open_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"openweathermap"`

	Selection struct {
		DefaultLat              *float64 `yaml:"default_lat"`
		DefaultLon              *float64 `yaml:"default_lon"`
		DefaultUnit             string   `yaml:"default_unit"`
		Zoom                    int      `yaml:"zoom"`
		FetchOnStart            *bool    `yaml:"fetch_on_start"`
		RecordDefault           *bool    `yaml:"record_default"`
		KeepSnapshotOnUnitError *bool    `yaml:"keep_snapshot_on_unit_error"`
	} `yaml:"selection"`

	History struct {
		Backend   string `yaml:"backend"`
		Path      string `yaml:"path"`
		Key       string `yaml:"key"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"history"`

	Reliability struct {
		RateLimitRPS   *int `yaml:"rate_limit_rps"`
		RateLimitBurst int  `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Validation struct {
		QueryMaxLength int `yaml:"query_max_length"`
	} `yaml:"validation"`
}

type secretsFile struct {
	APIKey string `yaml:"openweathermap_api_key"`
}

// envOverrides are applied after the YAML file. Unset variables leave the file value.
type envOverrides struct {
	APIKey         string `envconfig:"OPENWEATHERMAP_API_KEY"`
	Port           string `envconfig:"PORT"`
	HistoryBackend string `envconfig:"HISTORY_BACKEND"`
	HistoryPath    string `envconfig:"HISTORY_PATH"`
	MemcachedAddrs string `envconfig:"MEMCACHED_ADDRS"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), then .env, then the
// environment, then config/secrets.yaml for the API key if still unset. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	// Variables already in the environment win over .env.
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read .env file: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var eo envOverrides
	if err := envconfig.Process("", &eo); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg := fromFile(&fc)
	applyEnv(cfg, &eo)

	if cfg.APIKey == "" {
		key, err := loadAPIKeyFromSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.APIKey = key
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = strings.TrimSpace(fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 5*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Server.ShutdownTimeout, 10*time.Second)

	cfg.APIBaseURL = strings.TrimSpace(fc.OpenWeatherMap.BaseURL)
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.openweathermap.org"
	}
	cfg.APITimeout = parseDurationOrZero(fc.OpenWeatherMap.Timeout, 3*time.Second)

	cb := fc.OpenWeatherMap.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerOpenTimeout = parseDuration(cb.OpenTimeout, 30*time.Second)

	sel := fc.Selection
	cfg.DefaultCoordinate = models.Coordinate{Lat: 51.505, Lon: -0.09}
	if sel.DefaultLat != nil {
		cfg.DefaultCoordinate.Lat = *sel.DefaultLat
	}
	if sel.DefaultLon != nil {
		cfg.DefaultCoordinate.Lon = *sel.DefaultLon
	}
	cfg.DefaultUnit = models.UnitSystem(strings.ToLower(strings.TrimSpace(sel.DefaultUnit)))
	if cfg.DefaultUnit == "" {
		cfg.DefaultUnit = models.Metric
	}
	cfg.Zoom = sel.Zoom
	if cfg.Zoom <= 0 {
		cfg.Zoom = 13
	}
	cfg.FetchOnStart = boolOr(sel.FetchOnStart, true)
	cfg.RecordDefault = boolOr(sel.RecordDefault, false)
	cfg.KeepSnapshotOnUnitError = boolOr(sel.KeepSnapshotOnUnitError, true)

	h := fc.History
	cfg.HistoryBackend = strings.ToLower(strings.TrimSpace(h.Backend))
	if cfg.HistoryBackend == "" {
		cfg.HistoryBackend = storage.BackendFile
	}
	cfg.HistoryPath = strings.TrimSpace(h.Path)
	cfg.HistoryKey = strings.TrimSpace(h.Key)
	if cfg.HistoryKey == "" {
		cfg.HistoryKey = "searchHistory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(h.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(h.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = h.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RateLimitRPS = 20
	if fc.Reliability.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fc.Reliability.RateLimitRPS
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}

	cfg.QueryMaxLength = fc.Validation.QueryMaxLength
	if cfg.QueryMaxLength <= 0 {
		cfg.QueryMaxLength = 100
	}
	return cfg
}

func applyEnv(cfg *Config, eo *envOverrides) {
	if v := strings.TrimSpace(eo.APIKey); v != "" {
		cfg.APIKey = v
	}
	if v := strings.TrimSpace(eo.Port); v != "" {
		cfg.ServerPort = v
	}
	if v := strings.ToLower(strings.TrimSpace(eo.HistoryBackend)); v != "" {
		cfg.HistoryBackend = v
	}
	if v := strings.TrimSpace(eo.HistoryPath); v != "" {
		cfg.HistoryPath = v
	}
	if v := strings.TrimSpace(eo.MemcachedAddrs); v != "" {
		cfg.MemcachedAddrs = v
	}
}

// loadAPIKeyFromSecrets returns the key from path, or "" when the file does not exist.
func loadAPIKeyFromSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.APIKey), nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// RequestTimeout is raised above APITimeout so a form post can wait for its lookups.
func validate(cfg *Config) error {
	if cfg.APITimeout <= 0 {
		return fmt.Errorf("openweathermap.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.APITimeout {
		cfg.RequestTimeout = cfg.APITimeout + time.Second
	}
	c := cfg.DefaultCoordinate
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || !c.Valid() {
		return fmt.Errorf("selection default coordinate out of range: %v", c)
	}
	if _, err := models.ParseUnitSystem(string(cfg.DefaultUnit)); err != nil {
		return fmt.Errorf("selection.default_unit: %w", err)
	}
	switch cfg.HistoryBackend {
	case storage.BackendMemory, storage.BackendFile, storage.BackendSQLite, storage.BackendMemcached:
		// valid
	default:
		return fmt.Errorf("history.backend must be memory, file, sqlite or memcached, got %q", cfg.HistoryBackend)
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("reliability.rate_limit_rps must not be negative")
	}
	return nil
}

// StorageConfig returns the history backend settings in the form storage.Open takes.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Backend:               c.HistoryBackend,
		Path:                  c.HistoryPath,
		MemcachedAddrs:        c.MemcachedAddrs,
		MemcachedTimeout:      c.MemcachedTimeout,
		MemcachedMaxIdleConns: c.MemcachedMaxIdleConns,
	}
}
