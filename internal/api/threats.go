package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gridshield/backend/internal/pipeline"
	"github.com/gridshield/backend/internal/storage"
	"github.com/gridshield/backend/internal/stream"
)

func (s *Server) handleListThreats(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	q := r.URL.Query()
	filter := map[string]interface{}{}
	for _, key := range []string{"attack_type", "severity", "source", "source_ip"} {
		if v := q.Get(key); v != "" {
			filter[key] = v
		}
	}
	opts := storage.FindOptions{
		SortBy:   "timestamp",
		SortDesc: true,
		Limit:    queryInt(q.Get("limit"), 100),
		Skip:     queryInt(q.Get("skip"), 0),
	}
	threats, err := s.docs.Find(r.Context(), stream.ThreatCollection, filter, opts)
	if err != nil {
		s.log.Error("threat query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "threat query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"threats": threats,
		"count":   len(threats),
	})
}

func (s *Server) handleGetThreat(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	id := mux.Vars(r)["id"]
	docs, err := s.docs.Find(r.Context(), stream.ThreatCollection,
		map[string]interface{}{"threat_id": id}, storage.FindOptions{Limit: 1})
	if err != nil {
		s.log.Error("threat query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "threat query failed")
		return
	}
	if len(docs) == 0 {
		writeError(w, http.StatusNotFound, "threat not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, docs[0])
}

func (s *Server) handleThreatStats(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	ctx := r.Context()
	total, err := s.docs.Count(ctx, stream.ThreatCollection, nil)
	if err != nil {
		s.log.Error("threat count failed", "error", err)
		writeError(w, http.StatusInternalServerError, "threat count failed")
		return
	}

	byAttack := map[string]int64{}
	for _, at := range []string{
		pipeline.AttackDDoS, pipeline.AttackRansomware, pipeline.AttackSCADA,
		pipeline.AttackInsiderThreat, pipeline.AttackNetworkIntrusion,
		pipeline.AttackAPT, pipeline.AttackZeroDay, pipeline.AttackMalware,
	} {
		n, err := s.docs.Count(ctx, stream.ThreatCollection, map[string]interface{}{"attack_type": at})
		if err != nil {
			continue
		}
		if n > 0 {
			byAttack[at] = n
		}
	}

	bySeverity := map[string]int64{}
	for _, sev := range []pipeline.Severity{
		pipeline.SeverityLow, pipeline.SeverityMedium,
		pipeline.SeverityHigh, pipeline.SeverityCritical,
	} {
		n, err := s.docs.Count(ctx, stream.ThreatCollection, map[string]interface{}{"severity": string(sev)})
		if err != nil {
			continue
		}
		if n > 0 {
			bySeverity[string(sev)] = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":          total,
		"by_attack_type": byAttack,
		"by_severity":    bySeverity,
	})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
