package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-locator/internal/observability"
)

// RouterConfig holds the limits applied to the /api subrouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter // nil disables rate limiting
}

// NewRouter wires every route served by the process.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(h.logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/", h.GetIndex).Methods(http.MethodGet)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/state", h.GetState).Methods(http.MethodGet)
	api.HandleFunc("/history", h.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/{index}/select", h.PostHistorySelect).Methods(http.MethodPost)
	api.HandleFunc("/selection/coordinate", h.PostCoordinate).Methods(http.MethodPost)
	api.HandleFunc("/selection/search", h.PostSearch).Methods(http.MethodPost)
	api.HandleFunc("/selection/unit", h.PostUnit).Methods(http.MethodPost)
	return router
}
