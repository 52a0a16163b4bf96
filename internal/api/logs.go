package api

import (
	"net/http"
	"time"

	"github.com/gridshield/backend/internal/storage"
)

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	if s.timeSeries == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	q := r.URL.Query()
	query := storage.LogQuery{
		Source: q.Get("source"),
		Limit:  queryInt(q.Get("limit"), 100),
	}
	var err error
	if query.Start, err = queryTime(q.Get("start")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid start time, want RFC3339")
		return
	}
	if query.End, err = queryTime(q.Get("end")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid end time, want RFC3339")
		return
	}
	rows, err := s.timeSeries.QueryLogs(r.Context(), query)
	if err != nil {
		s.log.Error("log query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "log query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  rows,
		"count": len(rows),
	})
}

func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "audit not configured")
		return
	}
	q := r.URL.Query()
	filter := map[string]interface{}{}
	if v := q.Get("actor"); v != "" {
		filter["actor"] = v
	}
	if v := q.Get("action"); v != "" {
		filter["action"] = v
	}
	records, err := s.auditor.Query(r.Context(), filter, queryInt(q.Get("limit"), 100))
	if err != nil {
		s.log.Error("audit query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func queryTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
