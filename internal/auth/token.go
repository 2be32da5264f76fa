package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// InternalTokenHeader carries the shared secret sidecar processes present
// instead of a user token. It is equivalent to admin.
const InternalTokenHeader = "X-Internal-Token"

// ExtractToken retrieves the bearer token from the request:
// 1. Authorization: Bearer <token>
// 2. Query: ?token= (WebSocket clients cannot set headers)
func ExtractToken(r *http.Request, allowQuery bool) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if allowQuery {
		if t := r.URL.Query().Get("token"); t != "" {
			return t
		}
	}
	return ""
}

// AuthorizeInternal returns true if the request presents the correct
// internal shared secret. Empty secrets never authorize.
func AuthorizeInternal(r *http.Request, expected string) bool {
	got := r.Header.Get(InternalTokenHeader)
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
