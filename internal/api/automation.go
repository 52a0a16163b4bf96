package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gridshield/backend/internal/automation"
	"github.com/gridshield/backend/internal/pipeline"
)

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "automation not configured")
		return
	}
	var det pipeline.Detection
	if err := json.NewDecoder(r.Body).Decode(&det); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if det.AttackType == "" {
		writeError(w, http.StatusBadRequest, "attack_type is required")
		return
	}
	if det.Severity == "" {
		det.Severity = pipeline.SeverityMedium
	}
	if !det.Severity.Valid() {
		writeError(w, http.StatusBadRequest, "unknown severity: "+string(det.Severity))
		return
	}
	report := s.orchestrator.HandleThreat(r.Context(), &det)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if s.approvals == nil {
		writeError(w, http.StatusServiceUnavailable, "automation not configured")
		return
	}
	pending := s.approvals.Pending()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"approvals": pending,
		"count":     len(pending),
	})
}

type decisionRequest struct {
	Approver string `json:"approver"`
	Comment  string `json:"comment,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.approvals == nil || s.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "automation not configured")
		return
	}
	id := mux.Vars(r)["id"]
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Approver == "" {
		writeError(w, http.StatusBadRequest, "approver is required")
		return
	}
	if err := s.approvals.Approve(id, req.Approver, req.Comment); err != nil {
		writeApprovalError(w, err)
		return
	}
	result, err := s.orchestrator.ExecuteApproved(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"approved":    true,
		"approval_id": id,
		"result":      result,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if s.approvals == nil {
		writeError(w, http.StatusServiceUnavailable, "automation not configured")
		return
	}
	id := mux.Vars(r)["id"]
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Approver == "" {
		writeError(w, http.StatusBadRequest, "approver is required")
		return
	}
	if err := s.approvals.Reject(id, req.Approver, req.Comment); err != nil {
		writeApprovalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rejected":    true,
		"approval_id": id,
	})
}

func writeApprovalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrApprovalNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, automation.ErrApprovalExpired), errors.Is(err, automation.ErrApprovalWrongState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleAutomationStatus(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "automation not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.orchestrator.Status())
}
