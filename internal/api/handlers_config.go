package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openpdu/powerd/internal/config"
)

const maxConfigBody = 1 << 20

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Get())
}

func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) {
	section, err := s.manager.Section(chi.URLParam(r, "section"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, section)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var doc config.Document
	if err := decodeBody(r, &doc); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.bus.UpdateConfig(r.Context(), doc)
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleUpdateSection(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if !json.Valid(raw) {
		writeMessage(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}

	section, err := s.bus.UpdateConfigSection(r.Context(), chi.URLParam(r, "section"), raw)
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, section)
}

func (s *Server) handleRevertConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := s.bus.RevertConfig(r.Context())
	if err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxConfigBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
