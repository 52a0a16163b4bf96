package api

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/gridshield/backend/internal/audit"
)

// authenticated guards a handler with bearer token auth. Presented
// tokens are compared against the configured bcrypt hashes; an empty
// hash list locks the route.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || !s.tokenValid(token) {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func (s *Server) tokenValid(token string) bool {
	for _, hash := range s.tokens {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			return true
		}
	}
	return false
}

// statusRecorder captures the response code for the audit trail.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// audited records every state-changing call in the audit log.
func (s *Server) audited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if s.auditor == nil {
			return
		}
		actor := "anonymous"
		if token := bearerToken(r); token != "" {
			actor = "api_token"
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		s.auditor.Write(r.Context(), audit.Record{
			Actor:    actor,
			Action:   audit.ActionForMethod(r.Method),
			Resource: r.URL.Path,
			Method:   r.Method,
			Status:   rec.status,
			RemoteIP: host,
		})
	}
}
