package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openpdu/powerd/internal/auth"
	"github.com/openpdu/powerd/internal/log"
)

// handleReboot schedules a supervised reboot. The response is sent before
// the watchdog expires, so clients see it even though the system goes down.
func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	actor := "unknown"
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		actor = p.Username
	}
	l := log.WithComponentFromContext(r.Context(), "api")
	l.Warn().
		Str(log.FieldEvent, "device.reboot_requested").
		Str("username", actor).
		Msg("reboot requested")

	if err := s.bus.Reboot(r.Context()); err != nil {
		writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "reboot scheduled"})
}

// handleLogDownload streams one of the configured log files. Names map to
// fixed paths; there is no path construction from user input.
func (s *Server) handleLogDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, ok := s.logFiles[name]
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown log")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.log"`)
	http.ServeFile(w, r, path)
}
