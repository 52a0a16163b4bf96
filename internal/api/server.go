// Package api exposes the GridShield pipeline over REST/JSON plus a
// websocket event stream for dashboards.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gridshield/backend/internal/alerting"
	"github.com/gridshield/backend/internal/audit"
	"github.com/gridshield/backend/internal/automation"
	"github.com/gridshield/backend/internal/events"
	"github.com/gridshield/backend/internal/storage"
)

// Server wires the HTTP surface to the pipeline components.
type Server struct {
	alerts       *alerting.Manager
	notifier     *alerting.Notifier
	orchestrator *automation.Orchestrator
	approvals    *automation.ApprovalWorkflow
	docs         storage.DocStore
	timeSeries   storage.TimeSeriesStore
	auditor      *audit.Logger
	bus          *events.EventBus
	probes       map[string]storage.HealthProbe
	tokens       []string
	metrics      http.Handler
	log          *slog.Logger
}

// Options carries the dependencies for NewServer. Every field except
// Log and Metrics is required for the routes that use it; nil values
// make those routes return 503.
type Options struct {
	Alerts       *alerting.Manager
	Notifier     *alerting.Notifier
	Orchestrator *automation.Orchestrator
	Approvals    *automation.ApprovalWorkflow
	Docs         storage.DocStore
	TimeSeries   storage.TimeSeriesStore
	Auditor      *audit.Logger
	Bus          *events.EventBus
	Probes       map[string]storage.HealthProbe
	Tokens       []string
	Metrics      http.Handler
	Log          *slog.Logger
}

func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		alerts:       opts.Alerts,
		notifier:     opts.Notifier,
		orchestrator: opts.Orchestrator,
		approvals:    opts.Approvals,
		docs:         opts.Docs,
		timeSeries:   opts.TimeSeries,
		auditor:      opts.Auditor,
		bus:          opts.Bus,
		probes:       opts.Probes,
		tokens:       opts.Tokens,
		metrics:      opts.Metrics,
		log:          log.With("component", "api"),
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if req.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	// --- Alerts ---
	r.HandleFunc("/alerts", s.audited(s.handleCreateAlert)).Methods("POST")
	r.HandleFunc("/alerts", s.handleListAlerts).Methods("GET")
	r.HandleFunc("/alerts/{id}/resolve", s.audited(s.handleResolveAlert)).Methods("POST")

	// --- Automation ---
	r.HandleFunc("/automation/execute", s.audited(s.handleExecute)).Methods("POST")
	r.HandleFunc("/automation/approvals", s.authenticated(s.handleListApprovals)).Methods("GET")
	r.HandleFunc("/automation/approvals/{id}/approve", s.authenticated(s.audited(s.handleApprove))).Methods("POST")
	r.HandleFunc("/automation/approvals/{id}/reject", s.authenticated(s.audited(s.handleReject))).Methods("POST")
	r.HandleFunc("/automation/status", s.handleAutomationStatus).Methods("GET")

	// --- Threats ---
	r.HandleFunc("/threats", s.handleListThreats).Methods("GET")
	r.HandleFunc("/threats/stats/summary", s.handleThreatStats).Methods("GET")
	r.HandleFunc("/threats/{id}", s.handleGetThreat).Methods("GET")

	// --- Logs / audit ---
	r.HandleFunc("/logs", s.handleQueryLogs).Methods("GET")
	r.HandleFunc("/audit", s.authenticated(s.handleQueryAudit)).Methods("GET")

	// --- Operational ---
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ready", s.handleReady).Methods("GET")
	r.HandleFunc("/live", s.handleLive).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods("GET")
	}
	r.HandleFunc("/events/stream", s.handleEventStream)

	return r
}

// Start blocks serving the router on the given port.
func (s *Server) Start(port string) error {
	addr := ":" + port
	s.log.Info("api listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
