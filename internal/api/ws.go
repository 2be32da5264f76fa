package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openpdu/powerd/internal/auth"
	"github.com/openpdu/powerd/internal/config"
	"github.com/openpdu/powerd/internal/relay"
	"github.com/openpdu/powerd/internal/sensor"
	"github.com/openpdu/powerd/internal/stream"
)

// authorizeWS authenticates a stream request. WebSocket clients may carry
// the token as a query parameter because browsers cannot set headers on
// upgrade requests. Returns false after rejecting the connection.
func (s *Server) authorizeWS(w http.ResponseWriter, r *http.Request, role string) bool {
	p, err := s.auth.Authenticate(r, true)
	if err != nil {
		s.hub.Reject(w, r, "authentication required")
		return false
	}
	if !p.Allows(role) {
		s.hub.Reject(w, r, "forbidden")
		return false
	}
	return true
}

func (s *Server) wsUsage(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWS(w, r, auth.RoleUser) {
		return
	}
	ctx := r.Context()
	s.hub.Serve(w, r, "usage", func() (any, error) {
		return s.usage.Sample(ctx), nil
	})
}

func (s *Server) wsPowerSensor(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWS(w, r, auth.RoleUser) {
		return
	}
	id := chi.URLParam(r, "id")
	desc := config.SensorByID(s.manager.Sensors(), id)
	if desc == nil || desc.Kind != config.SensorPower {
		s.hub.Reject(w, r, "unknown power sensor")
		return
	}
	s.hub.Serve(w, r, "ina260", s.latestSnapshot(id))
}

func (s *Server) wsEnvironmental(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWS(w, r, auth.RoleUser) {
		return
	}
	s.hub.Serve(w, r, "sht30", s.latestSnapshot("environmental"))
}

func (s *Server) wsRelayStates(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWS(w, r, auth.RoleUser) {
		return
	}
	ctx := r.Context()
	s.hub.Serve(w, r, "relay_states", func() (any, error) {
		return s.bus.RelayStates(ctx, nil)
	})
}

func (s *Server) wsEnabledRelayStates(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWS(w, r, auth.RoleUser) {
		return
	}
	ctx := r.Context()
	s.hub.Serve(w, r, "relay_states_enabled", func() (any, error) {
		return s.bus.EnabledRelayStates(ctx)
	})
}

// dashboardFrame is the aggregate the front-end renders on its landing
// page: every relay plus the main rail and the environment in one frame.
type dashboardFrame struct {
	Relays        map[string]relay.State `json:"relays"`
	Main          *sensor.Sample         `json:"main,omitempty"`
	Environmental *sensor.Sample         `json:"environmental,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

func (s *Server) wsDashboard(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWS(w, r, auth.RoleUser) {
		return
	}
	ctx := r.Context()
	s.hub.Serve(w, r, "dashboard", func() (any, error) {
		states, err := s.bus.RelayStates(ctx, nil)
		if err != nil {
			return nil, err
		}
		frame := dashboardFrame{Relays: states, Timestamp: time.Now()}
		if sample, ok := s.cache.Latest("main"); ok {
			frame.Main = &sample
		}
		if sample, ok := s.cache.Latest("environmental"); ok {
			frame.Environmental = &sample
		}
		return frame, nil
	})
}

// settingsFrame streams the effective configuration so settings pages
// follow hot reloads without polling.
type settingsFrame struct {
	Config  config.Document           `json:"config"`
	Sensors []config.SensorDescriptor `json:"sensors"`
}

func (s *Server) wsSettings(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWS(w, r, auth.RoleUser) {
		return
	}
	s.hub.Serve(w, r, "settings", func() (any, error) {
		return settingsFrame{Config: s.manager.Get(), Sensors: s.manager.Sensors()}, nil
	})
}

func (s *Server) latestSnapshot(source string) stream.Snapshot {
	return func() (any, error) {
		sample, ok := s.cache.Latest(source)
		if !ok {
			return nil, errors.New("no sample yet for " + source)
		}
		return sample, nil
	}
}
