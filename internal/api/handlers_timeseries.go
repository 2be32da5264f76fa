package api

import (
	"net/http"
	"time"

	"github.com/openpdu/powerd/internal/config"
	"github.com/openpdu/powerd/internal/tsdb"
)

const (
	defaultLookback = time.Hour
	maxLookback     = 30 * 24 * time.Hour
)

type timeseriesResponse struct {
	Data []tsdb.Point   `json:"data"`
	Meta timeseriesMeta `json:"meta"`
}

type timeseriesMeta struct {
	Source string `json:"source"`
	Field  string `json:"field"`
	Start  string `json:"start"`
	Window string `json:"window,omitempty"`
}

// handleTimeseriesQuery reads points back from the store. Source and field
// are validated against the board's sensor complement before the store is
// asked anything.
func (s *Server) handleTimeseriesQuery(w http.ResponseWriter, r *http.Request) {
	if s.tsq == nil {
		writeMessage(w, http.StatusServiceUnavailable, "time-series store not configured")
		return
	}

	q := r.URL.Query()
	source := q.Get("source")
	field := q.Get("field")

	desc := config.SensorByID(s.manager.Sensors(), source)
	if desc == nil {
		writeMessage(w, http.StatusNotFound, "unknown source")
		return
	}
	if !desc.HasField(field) {
		writeMessage(w, http.StatusBadRequest, "unknown field for source")
		return
	}

	start := defaultLookback
	if raw := q.Get("start"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > maxLookback {
			writeMessage(w, http.StatusBadRequest, "invalid start lookback")
			return
		}
		start = d
	}

	var window time.Duration
	if raw := q.Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeMessage(w, http.StatusBadRequest, "invalid aggregate window")
			return
		}
		window = d
	}

	points, err := s.tsq.Query(r.Context(), tsdb.QueryParams{
		Source: source,
		Field:  field,
		Start:  start,
		Window: window,
	})
	if err != nil {
		writeMessage(w, http.StatusServiceUnavailable, "time-series store unavailable")
		return
	}
	if points == nil {
		points = []tsdb.Point{}
	}

	meta := timeseriesMeta{Source: source, Field: field, Start: start.String()}
	if window > 0 {
		meta.Window = window.String()
	}
	writeJSON(w, http.StatusOK, timeseriesResponse{Data: points, Meta: meta})
}
