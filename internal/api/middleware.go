package api

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/openpdu/powerd/internal/auth"
	"github.com/openpdu/powerd/internal/log"
)

// requestLogger attaches the chi request id to the context logger and emits
// one access line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := chimw.GetReqID(r.Context())
		ctx := log.ContextWithRequestID(r.Context(), reqID)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		l := log.WithComponentFromContext(ctx, "http")
		l.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// requireRole authenticates the request and enforces the minimum role. The
// principal is stored in the context for handlers that log the actor.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := s.auth.Authenticate(r, false)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			if !p.Allows(role) {
				l := log.WithComponentFromContext(r.Context(), "authz")
				l.Warn().
					Str("username", p.Username).
					Str("required_role", role).
					Str("path", r.URL.Path).
					Msg("insufficient role for request")
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}
