package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gridshield/backend/internal/alerting"
	"github.com/gridshield/backend/internal/pipeline"
)

type createAlertRequest struct {
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Severity string                 `json:"severity"`
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "alerting not configured")
		return
	}
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "title and message are required")
		return
	}
	sev := pipeline.Severity(req.Severity)
	if req.Severity == "" {
		sev = pipeline.SeverityMedium
	}
	if !sev.Valid() {
		writeError(w, http.StatusBadRequest, "unknown severity: "+req.Severity)
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}
	result := s.notifier.Send(r.Context(), req.Title, req.Message, sev, source, req.Metadata)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alerting not configured")
		return
	}
	q := r.URL.Query()
	f := alerting.Filters{
		Severity: pipeline.Severity(q.Get("severity")),
		Source:   q.Get("source"),
		Status:   q.Get("status"),
	}
	alerts := s.alerts.List(f)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alerting not configured")
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.alerts.MarkResolved(id); err != nil {
		if errors.Is(err, alerting.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": true, "alert_id": id})
}
