package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleRelayOn(w http.ResponseWriter, r *http.Request) {
	res, err := s.bus.RelayOn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRelayOff(w http.ResponseWriter, r *http.Request) {
	res, err := s.bus.RelayOff(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRelayPulse(w http.ResponseWriter, r *http.Request) {
	res, err := s.bus.RelayPulse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRelayStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.bus.RelayStates(r.Context(), nil)
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleEnabledRelayStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.bus.EnabledRelayStates(r.Context())
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleRuleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.bus.RuleStatuses(r.Context())
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleSensorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.HealthAll())
}
