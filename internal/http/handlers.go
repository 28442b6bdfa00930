package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-locator/internal/client"
	"github.com/kjstillabower/weather-locator/internal/lifecycle"
	"github.com/kjstillabower/weather-locator/internal/models"
	"github.com/kjstillabower/weather-locator/internal/observability"
	"github.com/kjstillabower/weather-locator/internal/selection"
	"github.com/kjstillabower/weather-locator/internal/validation"
)

const maxBodyBytes = 1 << 16

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	session          *selection.Session
	lifecycle        *lifecycle.State
	storagePing      func(context.Context) error
	hasCredential    bool
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. storagePing may be nil when the history backend
// has nothing to reach.
func NewHandler(
	session *selection.Session,
	state *lifecycle.State,
	storagePing func(context.Context) error,
	hasCredential bool,
	logger *zap.Logger,
) *Handler {
	if state == nil {
		state = lifecycle.New()
	}
	return &Handler{
		session:       session,
		lifecycle:     state,
		storagePing:   storagePing,
		hasCredential: hasCredential,
		logger:        logger,
	}
}

type selectionResponse struct {
	Applied bool            `json:"applied"`
	State   selection.State `json:"state"`
}

type searchResponse struct {
	Matched bool            `json:"matched"`
	State   selection.State `json:"state"`
}

// GetState handles GET /api/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.State())
}

// GetHistory handles GET /api/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": h.session.State().History,
	})
}

// PostCoordinate handles POST /api/selection/coordinate with lat and lon.
// Values that are not numbers are ignored, matching the page form.
func (h *Handler) PostCoordinate(w http.ResponseWriter, r *http.Request) {
	fields, isForm, err := readFields(r, "lat", "lon")
	if err != nil {
		h.fail(w, r, isForm, http.StatusBadRequest, "INVALID_COORDINATE", "request body must carry lat and lon")
		return
	}
	coord, err := validation.ParseCoordinate(fields["lat"], fields["lon"])
	if errors.Is(err, validation.ErrCoordinateNotNumber) {
		h.done(w, r, isForm, http.StatusOK, selectionResponse{Applied: false, State: h.session.State()})
		return
	}
	if err != nil {
		h.fail(w, r, isForm, http.StatusBadRequest, "INVALID_COORDINATE", "latitude must be within [-90,90] and longitude within [-180,180]")
		return
	}

	src := selection.SourceMap
	if isForm {
		src = selection.SourceForm
	}
	switch selection.Source(strings.TrimSpace(fields["source"])) {
	case selection.SourceMap:
		src = selection.SourceMap
	case selection.SourceForm:
		src = selection.SourceForm
	}
	if err := h.session.SelectCoordinate(r.Context(), coord, src); err != nil {
		h.writeSessionError(w, r, isForm, err)
		return
	}
	h.waitIfRequested(r, isForm)
	h.done(w, r, isForm, http.StatusOK, selectionResponse{Applied: true, State: h.session.State()})
}

// PostSearch handles POST /api/selection/search with query.
func (h *Handler) PostSearch(w http.ResponseWriter, r *http.Request) {
	fields, isForm, err := readFields(r, "query")
	if err != nil {
		h.fail(w, r, isForm, http.StatusBadRequest, "INVALID_QUERY", "request body must carry query")
		return
	}
	matched, err := h.session.SelectByName(r.Context(), fields["query"])
	if err != nil {
		h.writeSessionError(w, r, isForm, err)
		return
	}
	if matched {
		h.waitIfRequested(r, isForm)
	}
	h.done(w, r, isForm, http.StatusOK, searchResponse{Matched: matched, State: h.session.State()})
}

// PostUnit handles POST /api/selection/unit with unit (metric or imperial).
func (h *Handler) PostUnit(w http.ResponseWriter, r *http.Request) {
	fields, isForm, err := readFields(r, "unit")
	if err != nil {
		h.fail(w, r, isForm, http.StatusBadRequest, "INVALID_UNIT", "request body must carry unit")
		return
	}
	unit, err := models.ParseUnitSystem(fields["unit"])
	if err != nil {
		h.fail(w, r, isForm, http.StatusBadRequest, "INVALID_UNIT", "unit must be metric or imperial")
		return
	}
	if err := h.session.ChangeUnit(r.Context(), unit); err != nil {
		h.writeSessionError(w, r, isForm, err)
		return
	}
	h.waitIfRequested(r, isForm)
	h.done(w, r, isForm, http.StatusOK, selectionResponse{Applied: true, State: h.session.State()})
}

// PostHistorySelect handles POST /api/history/{index}/select.
func (h *Handler) PostHistorySelect(w http.ResponseWriter, r *http.Request) {
	isForm := isFormRequest(r)
	idx, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		h.fail(w, r, isForm, http.StatusNotFound, "HISTORY_INDEX_OUT_OF_RANGE", "history index must be an integer")
		return
	}
	if err := h.session.SelectHistory(r.Context(), idx); err != nil {
		h.writeSessionError(w, r, isForm, err)
		return
	}
	h.waitIfRequested(r, isForm)
	h.done(w, r, isForm, http.StatusOK, selectionResponse{Applied: true, State: h.session.State()})
}

// waitIfRequested blocks until the session settles when ?wait=true, or by default for
// page forms. The request deadline bounds the wait; on expiry the current state is returned.
func (h *Handler) waitIfRequested(r *http.Request, isForm bool) {
	wait := isForm
	if v := r.URL.Query().Get("wait"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			wait = b
		}
	}
	if !wait {
		return
	}
	if err := h.session.Wait(r.Context()); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Debug("lookups still in flight at response", zap.Error(err))
	}
}

// done writes v for API clients and redirects page forms back to the index.
func (h *Handler) done(w http.ResponseWriter, r *http.Request, isForm bool, status int, v interface{}) {
	if isForm {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, status, v)
}

// fail writes the error envelope for API clients; page forms are redirected with a notice.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, isForm bool, status int, code, message string) {
	if isForm {
		http.Redirect(w, r, "/?notice="+url.QueryEscape(message), http.StatusSeeOther)
		return
	}
	writeError(w, r, status, code, message)
}

func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, isForm bool, err error) {
	switch {
	case errors.Is(err, validation.ErrCoordinateOutOfRange), errors.Is(err, validation.ErrCoordinateNotNumber):
		h.fail(w, r, isForm, http.StatusBadRequest, "INVALID_COORDINATE", "latitude must be within [-90,90] and longitude within [-180,180]")
	case errors.Is(err, validation.ErrQueryEmpty):
		h.fail(w, r, isForm, http.StatusBadRequest, "INVALID_QUERY", "query is required")
	case errors.Is(err, validation.ErrQueryTooLong):
		h.fail(w, r, isForm, http.StatusBadRequest, "INVALID_QUERY", "query is too long")
	case errors.Is(err, validation.ErrQueryInvalidChars):
		h.fail(w, r, isForm, http.StatusBadRequest, "INVALID_QUERY", "query contains invalid characters")
	case errors.Is(err, selection.ErrInvalidUnit):
		h.fail(w, r, isForm, http.StatusBadRequest, "INVALID_UNIT", "unit must be metric or imperial")
	case errors.Is(err, selection.ErrHistoryIndex):
		h.fail(w, r, isForm, http.StatusNotFound, "HISTORY_INDEX_OUT_OF_RANGE", "no history entry at that index")
	case errors.Is(err, selection.ErrClosed):
		h.fail(w, r, isForm, http.StatusServiceUnavailable, "SHUTTING_DOWN", "service is shutting down")
	case errors.Is(err, client.ErrNetwork):
		h.fail(w, r, isForm, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to reach the location provider")
		observability.LoggerFromContext(r.Context(), h.logger).Debug("upstream error",
			zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
	default:
		observability.LoggerFromContext(r.Context(), h.logger).Error("selection failed", zap.Error(err))
		h.fail(w, r, isForm, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// readFields returns the named fields from a JSON object or form-encoded body.
// JSON values may be numbers or strings. isForm is true for page form submissions.
func readFields(r *http.Request, names ...string) (map[string]string, bool, error) {
	names = append(names, "source")
	out := make(map[string]string, len(names))
	if !isJSONRequest(r) {
		isForm := isFormRequest(r)
		if err := r.ParseForm(); err != nil {
			return nil, isForm, err
		}
		for _, n := range names {
			out[n] = r.PostForm.Get(n)
		}
		return out, isForm, nil
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		return nil, false, err
	}
	for _, n := range names {
		v, ok := raw[n]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[n] = s
			continue
		}
		out[n] = strings.TrimSpace(string(v))
	}
	return out, false, nil
}

func isJSONRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/json"
}

// isFormRequest reports whether r came from a page form rather than an API client.
func isFormRequest(r *http.Request) bool {
	if isJSONRequest(r) {
		return false
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	result := h.computeHealthStatus(r.Context(), checks)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":          result.status,
		"service":         observability.ServiceName,
		"version":         "dev",
		"checks":          checks,
		"lookupsInFlight": h.session.InFlight(),
		"uptimeSeconds":   int64(h.lifecycle.Uptime().Seconds()),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus fills checks and returns the overall status.
// Decision order: shutting-down > storage unreachable > healthy. A missing credential
// is reported but does not fail the check, since the provider reports it per call.
func (h *Handler) computeHealthStatus(ctx context.Context, checks map[string]string) healthResult {
	if h.hasCredential {
		checks["credential"] = "present"
	} else {
		checks["credential"] = "missing"
	}
	if h.lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.storagePing != nil {
		if err := h.storagePing(ctx); err != nil {
			checks["storage"] = "unhealthy"
			return healthResult{"degraded", http.StatusServiceUnavailable, "storage_unreachable"}
		}
		checks["storage"] = "healthy"
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) when one is in the request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

func formatIndexPath(i int) string {
	return fmt.Sprintf("/api/history/%d/select", i)
}
