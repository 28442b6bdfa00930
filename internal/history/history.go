// Package history keeps the bounded list of recently selected coordinates and
// persists it to a storage slot after every change.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-locator/internal/models"
	"github.com/kjstillabower/weather-locator/internal/observability"
	"github.com/kjstillabower/weather-locator/internal/storage"
)

const (
	// DefaultKey is the storage slot the list is persisted under.
	DefaultKey = "searchHistory"
	// Capacity is the maximum number of entries kept; older entries are evicted first.
	Capacity = 5
)

// ErrMalformed marks stored content that is not a JSON list of {lat, lon} objects.
var ErrMalformed = errors.New("malformed stored history")

// Options configures Load.
type Options struct {
	Key     string // defaults to DefaultKey
	Backend string // metric label for persist failures
	Logger  *zap.Logger
}

// Store is an insertion-ordered FIFO of at most Capacity coordinates, oldest first.
type Store struct {
	mu      sync.Mutex
	slot    storage.Slot
	key     string
	backend string
	logger  *zap.Logger
	entries []models.Coordinate
}

// Load restores the list from slot. Absent, unreadable and malformed content all
// yield an empty list; the latter two are logged and never returned to the caller.
func Load(ctx context.Context, slot storage.Slot, opts Options) *Store {
	s := &Store{
		slot:    slot,
		key:     opts.Key,
		backend: opts.Backend,
		logger:  opts.Logger,
		entries: []models.Coordinate{},
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.backend == "" {
		s.backend = "unknown"
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	raw, ok, err := slot.Get(ctx, s.key)
	if err != nil {
		s.logger.Warn("history load failed, starting empty", zap.String("key", s.key), zap.Error(err))
		return s
	}
	if !ok {
		return s
	}
	entries, err := Decode(raw)
	if err != nil {
		observability.HistoryRecoveredTotal.Inc()
		s.logger.Warn("stored history malformed, starting empty", zap.String("key", s.key), zap.Error(err))
		return s
	}
	s.entries = entries
	s.logger.Debug("history loaded", zap.String("key", s.key), zap.Int("entries", len(entries)))
	return s
}

type storedEntry struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// Decode parses the persisted form. A JSON null is an empty list. Lists longer than
// Capacity keep their newest Capacity entries.
func Decode(raw string) ([]models.Coordinate, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var stored []storedEntry
	if err := dec.Decode(&stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}

	entries := make([]models.Coordinate, 0, len(stored))
	for i, e := range stored {
		if e.Lat == nil || e.Lon == nil {
			return nil, fmt.Errorf("%w: entry %d missing lat or lon", ErrMalformed, i)
		}
		c := models.Coordinate{Lat: *e.Lat, Lon: *e.Lon}
		if !c.Valid() {
			return nil, fmt.Errorf("%w: entry %d out of range", ErrMalformed, i)
		}
		entries = append(entries, c)
	}
	if len(entries) > Capacity {
		entries = entries[len(entries)-Capacity:]
	}
	return entries, nil
}

// Encode renders entries in the persisted form.
func Encode(entries []models.Coordinate) (string, error) {
	if entries == nil {
		entries = []models.Coordinate{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Append adds c as the newest entry, evicts from the front down to Capacity, and
// persists the whole list. On a persist error the in-memory list keeps the change.
func (s *Store) Append(ctx context.Context, c models.Coordinate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, c)
	for len(s.entries) > Capacity {
		s.entries = s.entries[1:]
		observability.HistoryEvictionsTotal.Inc()
	}
	return s.persist(ctx)
}

// persist writes the current list. Caller holds s.mu.
func (s *Store) persist(ctx context.Context) error {
	raw, err := Encode(s.entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.slot.Set(ctx, s.key, raw); err != nil {
		observability.HistoryPersistErrorsTotal.WithLabelValues(s.backend).Inc()
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

// Entries returns a copy of the list, oldest first.
func (s *Store) Entries() []models.Coordinate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Coordinate, len(s.entries))
	copy(out, s.entries)
	return out
}

// At returns entry i (0 = oldest).
func (s *Store) At(i int) (models.Coordinate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.entries) {
		return models.Coordinate{}, false
	}
	return s.entries[i], true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
