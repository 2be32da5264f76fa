// Package api is the HTTP surface of the daemon. Handlers never touch
// hardware or configuration directly: every mutation crosses the command
// bus, and reads come from the component caches.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/openpdu/powerd/internal/auth"
	"github.com/openpdu/powerd/internal/command"
	"github.com/openpdu/powerd/internal/config"
	"github.com/openpdu/powerd/internal/health"
	"github.com/openpdu/powerd/internal/sensor"
	"github.com/openpdu/powerd/internal/stream"
	"github.com/openpdu/powerd/internal/sysmon"
	"github.com/openpdu/powerd/internal/tsdb"
)

// TimeseriesQuerier reads points back from the time-series store. Nil when
// no store is configured; the query endpoint then reports 503.
type TimeseriesQuerier interface {
	Query(ctx context.Context, p tsdb.QueryParams) ([]tsdb.Point, error)
}

// UsageSampler provides host resource snapshots for the usage stream.
type UsageSampler interface {
	Sample(ctx context.Context) sysmon.Usage
}

// Deps are the server's collaborators, wired at startup.
type Deps struct {
	Bus        *command.Bus
	Auth       *auth.Service
	Manager    *config.Manager
	Cache      *sensor.Cache
	Hub        *stream.Hub
	Timeseries TimeseriesQuerier
	Usage      UsageSampler
	Health     *health.Manager

	// LogFiles maps downloadable log names to absolute paths.
	LogFiles map[string]string
}

// Server holds the handler graph.
type Server struct {
	bus      *command.Bus
	auth     *auth.Service
	manager  *config.Manager
	cache    *sensor.Cache
	hub      *stream.Hub
	tsq      TimeseriesQuerier
	usage    UsageSampler
	health   *health.Manager
	logFiles map[string]string
}

// New builds the server.
func New(d Deps) *Server {
	return &Server{
		bus:      d.Bus,
		auth:     d.Auth,
		manager:  d.Manager,
		cache:    d.Cache,
		hub:      d.Hub,
		tsq:      d.Timeseries,
		usage:    d.Usage,
		health:   d.Health,
		logFiles: d.LogFiles,
	}
}

// Handler returns the routed handler, traced as one otel span per request.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.routes(), "powerd-api")
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(httprate.LimitByIP(120, time.Minute))

	// unauthenticated
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)

	// user or admin
	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(auth.RoleUser))

		r.Get("/config", s.handleGetConfig)
		r.Get("/config/{section}", s.handleGetSection)

		r.Post("/io/{id}/state/on", s.handleRelayOn)
		r.Post("/io/{id}/state/off", s.handleRelayOff)
		r.Post("/io/{id}/state/pulse", s.handleRelayPulse)
		r.Get("/io/relays/state", s.handleRelayStates)
		r.Get("/io/relays/enabled/state", s.handleEnabledRelayStates)
		r.Get("/io/rules/status", s.handleRuleStatus)
		r.Get("/io/sensors/status", s.handleSensorStatus)

		r.Get("/timeseries/query", s.handleTimeseriesQuery)
	})

	// admin only
	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(auth.RoleAdmin))

		r.Post("/config", s.handleUpdateConfig)
		r.Post("/config/revert", s.handleRevertConfig)
		r.Post("/config/{section}", s.handleUpdateSection)
		r.Post("/device/reboot", s.handleReboot)
		r.Get("/device/logs/{name}", s.handleLogDownload)
	})

	// websocket streams authenticate inside the handler so failures close
	// with 1008 instead of an HTTP status
	r.Get("/device/usage", s.wsUsage)
	r.Get("/sensor/ina260/{id}", s.wsPowerSensor)
	r.Get("/sensor/sht30/environmental", s.wsEnvironmental)
	r.Get("/io/relays/state/ws", s.wsRelayStates)
	r.Get("/io/relays/enabled/state/ws", s.wsEnabledRelayStates)
	r.Get("/dashboard/ws", s.wsDashboard)
	r.Get("/settings/ws", s.wsSettings)

	return r
}
