package api

import (
	"net/http"

	"github.com/openpdu/powerd/internal/log"
)

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleLogin verifies form credentials and issues a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed form body")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		writeMessage(w, http.StatusBadRequest, "username and password are required")
		return
	}

	token, err := s.auth.Login(username, password)
	if err != nil {
		l := log.WithComponentFromContext(r.Context(), "auth")
		l.Warn().
			Str(log.FieldEvent, "auth.login_failed").
			Str("username", username).
			Msg("login rejected")
		writeMessage(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	l := log.WithComponentFromContext(r.Context(), "auth")
	l.Info().
		Str(log.FieldEvent, "auth.login").
		Str("username", username).
		Msg("login succeeded")
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token, TokenType: "bearer"})
}

// handleLogout exists for client symmetry. Tokens are stateless; the client
// discards its copy.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
