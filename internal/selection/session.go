// Package selection owns the current location selection: which coordinate and unit
// system are active, the weather snapshot and place name resolved for them, and the
// search history that selections feed.
//
// Lookups run asynchronously. Each one carries a ticket naming the selection it was
// issued for; a completion whose ticket no longer matches the current selection is
// dropped, so a slow response can never overwrite state for a newer choice.
package selection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-locator/internal/client"
	"github.com/kjstillabower/weather-locator/internal/history"
	"github.com/kjstillabower/weather-locator/internal/models"
	"github.com/kjstillabower/weather-locator/internal/observability"
	"github.com/kjstillabower/weather-locator/internal/validation"
)

// DefaultCoordinate is used when no other selection has been made.
var DefaultCoordinate = models.Coordinate{Lat: 51.505, Lon: -0.09}

const (
	DefaultZoom           = 13
	DefaultQueryMaxLength = 100

	waitCheckInterval = 10 * time.Millisecond
)

var (
	ErrClosed            = errors.New("session closed")
	ErrInvalidUnit       = errors.New("unknown unit system")
	ErrHistoryIndex      = errors.New("history index out of range")
	ErrInvalidCoordinate = validation.ErrCoordinateOutOfRange
)

// Status is derived from what is pending and what has been received.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusResolvingLocation Status = "resolving_location"
	StatusFetchingWeather   Status = "fetching_weather"
	StatusReady             Status = "ready"
	StatusError             Status = "error"
)

// Source labels where a selection came from.
type Source string

const (
	SourceMap     Source = "map"
	SourceForm    Source = "form"
	SourceSearch  Source = "search"
	SourceHistory Source = "history"
	SourceDefault Source = "default"
)

const (
	lookupWeather = "weather"
	lookupName    = "reverse_geocode"
	lookupSearch  = "forward_geocode"
)

// Options configures a Session. Zero values fall back to the package defaults,
// except the booleans which are taken as given.
type Options struct {
	Default                 models.Coordinate
	Unit                    models.UnitSystem
	Zoom                    int
	FetchOnStart            bool
	RecordDefault           bool
	KeepSnapshotOnUnitError bool
	LookupTimeout           time.Duration
	QueryMaxLength          int
	Logger                  *zap.Logger
}

// MapView is the recenter instruction for the map widget.
type MapView struct {
	Center models.Coordinate `json:"center"`
	Zoom   int               `json:"zoom"`
}

// State is a point-in-time copy of the session.
type State struct {
	Status     Status                  `json:"status"`
	Coordinate models.Coordinate       `json:"coordinate"`
	Unit       models.UnitSystem       `json:"unit"`
	CityName   string                  `json:"cityName,omitempty"`
	Weather    *models.WeatherSnapshot `json:"weather,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Map        MapView                 `json:"map"`
	History    []models.Coordinate     `json:"history"`
}

// ticket identifies the selection a lookup was issued for.
type ticket struct {
	seq   uint64
	coord models.Coordinate
	unit  models.UnitSystem
}

// Session is the single owner of selection state. All mutation happens under mu;
// lookups run on their own goroutines and report back through complete* methods.
type Session struct {
	weather  client.WeatherClient
	geocoder client.Geocoder
	history  *history.Store
	opts     Options
	logger   *zap.Logger
	tracker  lookupTracker

	// selectMu serializes selection changes with their history append, so the newest
	// history entry is always the coordinate that was made current last. Taken before mu.
	selectMu sync.Mutex

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	closed   bool
	coord    models.Coordinate
	unit     models.UnitSystem
	cityName string
	snapshot *models.WeatherSnapshot
	lastErr  error

	// generation advances on every coordinate change; searches compare against it.
	generation uint64

	weatherIssued, weatherSettled uint64
	nameIssued, nameSettled       uint64
	searching                     int
}

// New returns a session positioned at opts.Default with nothing fetched.
func New(weather client.WeatherClient, geocoder client.Geocoder, hist *history.Store, opts Options) *Session {
	if opts.Default == (models.Coordinate{}) {
		opts.Default = DefaultCoordinate
	}
	if opts.Unit == "" {
		opts.Unit = models.Metric
	}
	if opts.Zoom <= 0 {
		opts.Zoom = DefaultZoom
	}
	if opts.QueryMaxLength <= 0 {
		opts.QueryMaxLength = DefaultQueryMaxLength
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		weather:  weather,
		geocoder: geocoder,
		history:  hist,
		opts:     opts,
		logger:   opts.Logger,
		baseCtx:  ctx,
		cancel:   cancel,
		coord:    opts.Default,
		unit:     opts.Unit,
	}
}

// Start applies the configured startup behaviour: optionally recording the default
// coordinate in history and fetching its weather. The default is never reverse geocoded.
func (s *Session) Start(ctx context.Context) error {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	coord := s.coord
	var wt *ticket
	if s.opts.FetchOnStart {
		t := s.issueWeather()
		wt = &t
	}
	s.mu.Unlock()

	if s.opts.RecordDefault {
		s.record(ctx, coord)
	}
	observability.SelectionsTotal.WithLabelValues(string(SourceDefault)).Inc()
	if wt != nil {
		s.dispatchWeather(ctx, *wt)
	}
	return nil
}

// SelectCoordinate makes c current, fetches its weather and place name, and
// appends it to history.
func (s *Session) SelectCoordinate(ctx context.Context, c models.Coordinate, src Source) error {
	c, err := validation.ValidateCoordinate(c)
	if err != nil {
		return err
	}
	_, err = s.selectCoordinate(ctx, pick{coord: c, src: src, resolve: true, record: src != SourceHistory})
	return err
}

// SelectByName forward geocodes query and selects the first match under the
// match's name. It returns false without changing anything when the query is blank
// or nothing matches. A provider failure puts the session in StatusError and is returned.
func (s *Session) SelectByName(ctx context.Context, query string) (bool, error) {
	query, err := validation.ValidateQuery(query, s.opts.QueryMaxLength)
	if errors.Is(err, validation.ErrQueryEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	gen := s.generation
	s.searching++
	s.mu.Unlock()

	lctx, cancel := s.lookupContext(ctx)
	s.tracker.increment()
	places, err := s.geocoder.ForwardGeocode(lctx, query, 1)
	s.tracker.decrement()
	cancel()

	s.mu.Lock()
	s.searching--
	if gen != s.generation {
		s.mu.Unlock()
		s.discard(lookupSearch, "selection changed during search")
		return false, nil
	}
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Warn("place search failed", zap.String("query", query), zap.Error(err))
		return false, err
	}
	s.mu.Unlock()

	if len(places) == 0 {
		s.logger.Debug("place search found nothing", zap.String("query", query))
		return false, nil
	}
	first := places[0]
	return s.selectCoordinate(ctx, pick{
		coord:      first.Coordinate,
		src:        SourceSearch,
		name:       first.Name,
		record:     true,
		generation: &gen,
	})
}

// ChangeUnit switches the unit system and refetches weather for the current
// coordinate. Selecting the unit already in use does nothing.
func (s *Session) ChangeUnit(ctx context.Context, u models.UnitSystem) error {
	if u != models.Metric && u != models.Imperial {
		return fmt.Errorf("%w: %q", ErrInvalidUnit, u)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if u == s.unit {
		s.mu.Unlock()
		return nil
	}
	s.unit = u
	s.lastErr = nil
	t := s.issueWeather()
	s.mu.Unlock()

	observability.UnitChangesTotal.WithLabelValues(string(u)).Inc()
	s.logger.Debug("unit changed", zap.String("unit", string(u)), zap.Stringer("coordinate", t.coord))
	s.dispatchWeather(ctx, t)
	return nil
}

// SelectHistory re-applies history entry i (0 = oldest) without appending it again.
func (s *Session) SelectHistory(ctx context.Context, i int) error {
	c, ok := s.history.At(i)
	if !ok {
		return fmt.Errorf("%w: %d", ErrHistoryIndex, i)
	}
	return s.SelectCoordinate(ctx, c, SourceHistory)
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	st := State{
		Status:     s.status(),
		Coordinate: s.coord,
		Unit:       s.unit,
		CityName:   s.cityName,
		Map:        MapView{Center: s.coord, Zoom: s.opts.Zoom},
	}
	if s.snapshot != nil {
		snap := *s.snapshot
		st.Weather = &snap
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	s.mu.Unlock()

	st.History = s.history.Entries()
	return st
}

// Wait blocks until every issued lookup has completed or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	return s.tracker.waitForZero(ctx, waitCheckInterval)
}

// InFlight returns the number of lookups that have not completed.
func (s *Session) InFlight() int64 {
	return s.tracker.Count()
}

// Close rejects further operations and cancels outstanding lookups.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

// pick describes one coordinate change.
type pick struct {
	coord   models.Coordinate
	src     Source
	name    string // place name known up front (search results)
	resolve bool   // reverse geocode the coordinate
	record  bool   // append to history
	// generation, when set, is the generation the pick was computed against; the
	// pick is dropped if another selection happened since.
	generation *uint64
}

// selectCoordinate makes p.coord current and issues its lookups. applied is false
// when p was superseded before it could take effect.
func (s *Session) selectCoordinate(ctx context.Context, p pick) (applied bool, err error) {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	if p.generation != nil && *p.generation != s.generation {
		s.mu.Unlock()
		s.discard(lookupSearch, "selection changed during search")
		return false, nil
	}
	s.coord = p.coord
	s.cityName = p.name
	s.snapshot = nil
	s.lastErr = nil
	s.generation++
	wt := s.issueWeather()
	var nt *ticket
	if p.resolve {
		t := s.issueName()
		nt = &t
	}
	s.mu.Unlock()

	observability.SelectionsTotal.WithLabelValues(string(p.src)).Inc()
	s.logger.Debug("coordinate selected",
		zap.String("source", string(p.src)),
		zap.Stringer("coordinate", p.coord),
		zap.String("unit", string(wt.unit)),
	)

	if p.record {
		s.record(ctx, p.coord)
	}
	s.dispatchWeather(ctx, wt)
	if nt != nil {
		s.dispatchName(ctx, *nt)
	}
	return true, nil
}

func (s *Session) record(ctx context.Context, c models.Coordinate) {
	if err := s.history.Append(ctx, c); err != nil {
		s.logger.Warn("history persist failed", zap.Stringer("coordinate", c), zap.Error(err))
	}
}

// issueWeather and issueName allocate a ticket for the current selection. Caller holds s.mu.
func (s *Session) issueWeather() ticket {
	s.weatherIssued++
	return ticket{seq: s.weatherIssued, coord: s.coord, unit: s.unit}
}

func (s *Session) issueName() ticket {
	s.nameIssued++
	return ticket{seq: s.nameIssued, coord: s.coord, unit: s.unit}
}

func (s *Session) dispatchWeather(ctx context.Context, t ticket) {
	lctx, cancel := s.lookupContext(ctx)
	s.tracker.increment()
	go func() {
		defer s.tracker.decrement()
		defer cancel()
		snap, err := s.weather.FetchCurrent(lctx, t.coord, t.unit)
		s.completeWeather(t, snap, err)
	}()
}

func (s *Session) dispatchName(ctx context.Context, t ticket) {
	lctx, cancel := s.lookupContext(ctx)
	s.tracker.increment()
	go func() {
		defer s.tracker.decrement()
		defer cancel()
		name, found, err := s.geocoder.ReverseGeocode(lctx, t.coord, 1)
		s.completeName(t, name, found, err)
	}()
}

// lookupContext detaches a lookup from the caller's lifetime, keeping its correlation id.
// The returned context is also cancelled by Close and after LookupTimeout.
func (s *Session) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	lctx := s.baseCtx
	if id := observability.CorrelationID(ctx); id != "" {
		lctx = observability.WithCorrelationID(lctx, id)
	}
	if s.opts.LookupTimeout > 0 {
		return context.WithTimeout(lctx, s.opts.LookupTimeout)
	}
	return context.WithCancel(lctx)
}

func (s *Session) completeWeather(t ticket, snap models.WeatherSnapshot, err error) {
	s.mu.Lock()
	if t.seq != s.weatherIssued || t.coord != s.coord || t.unit != s.unit {
		s.mu.Unlock()
		s.discard(lookupWeather, "superseded")
		return
	}
	s.weatherSettled = t.seq
	if err != nil {
		s.lastErr = err
		if s.snapshot != nil {
			if s.opts.KeepSnapshotOnUnitError && s.snapshot.Coordinate == t.coord {
				s.snapshot.Stale = true
			} else {
				s.snapshot = nil
			}
		}
		s.mu.Unlock()
		s.logger.Warn("weather fetch failed",
			zap.Stringer("coordinate", t.coord),
			zap.String("unit", string(t.unit)),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		return
	}
	snap.Coordinate = t.coord
	snap.Unit = t.unit
	snap.Stale = false
	s.snapshot = &snap
	s.mu.Unlock()
	s.logger.Debug("weather ready", zap.Stringer("coordinate", t.coord), zap.String("unit", string(t.unit)))
}

func (s *Session) completeName(t ticket, name string, found bool, err error) {
	s.mu.Lock()
	// The place name does not depend on the unit system, so only the coordinate is compared.
	if t.seq != s.nameIssued || t.coord != s.coord {
		s.mu.Unlock()
		s.discard(lookupName, "superseded")
		return
	}
	s.nameSettled = t.seq
	if err == nil && found {
		s.cityName = name
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("reverse geocoding failed", zap.Stringer("coordinate", t.coord), zap.Error(err))
	}
}

func (s *Session) discard(lookup, reason string) {
	observability.StaleResponsesDiscardedTotal.WithLabelValues(lookup).Inc()
	s.logger.Debug("stale lookup discarded", zap.String("lookup", lookup), zap.String("reason", reason))
}

// status derives the externally visible state. Caller holds s.mu.
func (s *Session) status() Status {
	switch {
	case s.weatherIssued != s.weatherSettled:
		return StatusFetchingWeather
	case s.nameIssued != s.nameSettled || s.searching > 0:
		return StatusResolvingLocation
	case s.lastErr != nil:
		return StatusError
	case s.snapshot != nil:
		return StatusReady
	default:
		return StatusIdle
	}
}
