package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendSQLite    = "sqlite"
	BackendMemcached = "memcached"
)

// Slot is durable string-keyed storage holding one serialized value per key.
// Get returns ("", false, nil) when the key has never been written.
type Slot interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Pinger is implemented by backends with a reachability check. Used by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Path is the directory for file, or the database file for sqlite.
	Path string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
}

// Open returns the Slot for cfg.Backend. Callers should Close the result when it implements io.Closer.
func Open(cfg Config) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory, "":
		return NewInMemorySlot(), nil
	case BackendFile:
		return NewFileSlot(cfg.Path)
	case BackendSQLite:
		return NewSQLiteSlot(cfg.Path)
	case BackendMemcached:
		return NewMemcachedSlot(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// InMemorySlot keeps values for the life of the process. Safe for concurrent use.
type InMemorySlot struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewInMemorySlot creates an empty in-memory slot.
func NewInMemorySlot() *InMemorySlot {
	return &InMemorySlot{data: make(map[string]string)}
}

// Get implements Slot.Get.
func (s *InMemorySlot) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set implements Slot.Set.
func (s *InMemorySlot) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}
