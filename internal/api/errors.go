package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openpdu/powerd/internal/command"
	"github.com/openpdu/powerd/internal/log"
)

// errorBody is the JSON error envelope every endpoint uses.
type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Message: msg})
}

// writeCommandError maps the command taxonomy onto HTTP status codes.
// Validation and lookup failures carry their message; server-side classes
// get a generic message so component details stay in the logs.
func writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, command.ErrValidation):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, command.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, command.ErrTimeout):
		writeMessage(w, http.StatusGatewayTimeout, "command timed out")
	case errors.Is(err, command.ErrHardware):
		writeMessage(w, http.StatusInternalServerError, "hardware operation failed")
	case errors.Is(err, command.ErrBackend):
		writeMessage(w, http.StatusServiceUnavailable, "backend unavailable")
	default:
		l := log.WithComponentFromContext(r.Context(), "api")
		l.Error().Err(err).Msg("unclassified handler error")
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	writeMessage(w, http.StatusUnauthorized, "unauthorized")
}

func writeForbidden(w http.ResponseWriter) {
	writeMessage(w, http.StatusForbidden, "forbidden")
}
