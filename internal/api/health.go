package api

import (
	"context"
	"net/http"
	"time"
)

// handleHealth reports per-dependency status. Degraded still returns 200
// so load balancers keep routing; /ready is the gate that fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps, healthy := s.probeAll(r.Context())
	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"dependencies": deps,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	deps, healthy := s.probeAll(r.Context())
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":        false,
			"dependencies": deps,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"alive": true})
}

func (s *Server) probeAll(ctx context.Context) (map[string]string, bool) {
	deps := make(map[string]string, len(s.probes))
	healthy := true
	for name, probe := range s.probes {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := probe.Ping(probeCtx)
		cancel()
		if err != nil {
			deps[name] = "unreachable: " + err.Error()
			healthy = false
			continue
		}
		deps[name] = "ok"
	}
	return deps, healthy
}
