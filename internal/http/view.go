package http

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-locator/internal/models"
	"github.com/kjstillabower/weather-locator/internal/observability"
	"github.com/kjstillabower/weather-locator/internal/selection"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"historyPath": formatIndexPath,
}).ParseFS(templateFS, "templates/index.html"))

type indexView struct {
	State    selection.State
	Notice   string
	Units    []models.UnitSystem
	Status   string
	Fetching bool
}

// GetIndex handles GET /: the weather view, unit picker, coordinate and search forms,
// history list, and the map container the widget recenters from.
func (h *Handler) GetIndex(w http.ResponseWriter, r *http.Request) {
	st := h.session.State()
	view := indexView{
		State:    st,
		Notice:   r.URL.Query().Get("notice"),
		Units:    []models.UnitSystem{models.Metric, models.Imperial},
		Status:   statusText(st.Status),
		Fetching: st.Status == selection.StatusFetchingWeather || st.Status == selection.StatusResolvingLocation,
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, view); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Error("render index", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func statusText(s selection.Status) string {
	switch s {
	case selection.StatusFetchingWeather:
		return "Loading weather..."
	case selection.StatusResolvingLocation:
		return "Finding location..."
	case selection.StatusError:
		return "Something went wrong"
	case selection.StatusReady:
		return ""
	default:
		return "Select a location"
	}
}
