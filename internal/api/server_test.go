package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gridshield/backend/internal/alerting"
	"github.com/gridshield/backend/internal/audit"
	"github.com/gridshield/backend/internal/automation"
	"github.com/gridshield/backend/internal/events"
	"github.com/gridshield/backend/internal/pipeline"
	"github.com/gridshield/backend/internal/storage"
	"github.com/gridshield/backend/internal/stream"
)

// ============================================================================
// Test fixtures
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubChat struct {
	mu    sync.Mutex
	sent  []alerting.Alert
	fails bool
}

func (c *stubChat) Enabled() bool { return true }

func (c *stubChat) Send(_ context.Context, alert alerting.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fails {
		return errors.New("chat down")
	}
	c.sent = append(c.sent, alert)
	return nil
}

type memDocStore struct {
	mu   sync.Mutex
	docs map[string][]map[string]interface{}
}

func newMemDocStore() *memDocStore {
	return &memDocStore{docs: make(map[string][]map[string]interface{})}
}

func (s *memDocStore) Insert(_ context.Context, collection string, doc map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[collection] = append(s.docs[collection], doc)
	return nil
}

func docMatches(doc, filter map[string]interface{}) bool {
	for k, v := range filter {
		if fmt.Sprint(doc[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (s *memDocStore) Find(_ context.Context, collection string, filter map[string]interface{}, opts storage.FindOptions) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]interface{}
	for _, doc := range s.docs[collection] {
		if docMatches(doc, filter) {
			out = append(out, doc)
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *memDocStore) Count(_ context.Context, collection string, filter map[string]interface{}) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, doc := range s.docs[collection] {
		if docMatches(doc, filter) {
			n++
		}
	}
	return n, nil
}

type memTimeSeries struct {
	mu   sync.Mutex
	rows []storage.LogRow
}

func (s *memTimeSeries) InsertLog(_ context.Context, row storage.LogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

func (s *memTimeSeries) QueryLogs(_ context.Context, q storage.LogQuery) ([]storage.LogRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.LogRow
	for _, row := range s.rows {
		if q.Source != "" && row.Source != q.Source {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

type stubProbe struct{ err error }

func (p stubProbe) Ping(context.Context) error { return p.err }

type testEnv struct {
	server   *Server
	router   http.Handler
	chat     *stubChat
	manager  *alerting.Manager
	docs     *memDocStore
	ts       *memTimeSeries
	bus      *events.EventBus
	workflow *automation.ApprovalWorkflow
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := testLogger()
	bus := events.NewEventBus()

	manager := alerting.NewManager(300*time.Second, 100, log)
	chat := &stubChat{}
	notifier := alerting.NewNotifier(alerting.NotifierOptions{
		Manager:  manager,
		Chat:     chat,
		Channels: []string{"chat"},
		Logger:   log,
	})

	workflow := automation.NewApprovalWorkflow(300*time.Second, true, log, bus)
	orchestrator := automation.NewOrchestrator(automation.OrchestratorOptions{
		Isolator:   automation.NewMemoryIsolator(log),
		Quarantine: automation.NewMemoryQuarantine(log, nil),
		Blocker:    automation.NewMemoryBlocker(log, nil),
		Backup: automation.NewMemoryBackupActivator(log, map[string]automation.BackupSystem{
			"default": {Type: "dns_switch", Endpoint: "backup.grid.local"},
		}),
		Approvals:  workflow,
		Breakers: map[string]*automation.Breaker{
			"isolation": automation.NewBreaker("isolation", 5, 30*time.Second),
			"failover":  automation.NewBreaker("failover", 3, 30*time.Second),
		},
		Logger:  log,
		Emitter: bus,
	})

	docs := newMemDocStore()
	ts := &memTimeSeries{}
	auditor := audit.NewLogger(docs, log)

	token := "test-secret"
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)

	srv := NewServer(Options{
		Alerts:       manager,
		Notifier:     notifier,
		Orchestrator: orchestrator,
		Approvals:    workflow,
		Docs:         docs,
		TimeSeries:   ts,
		Auditor:      auditor,
		Bus:          bus,
		Probes:       map[string]storage.HealthProbe{"postgres": stubProbe{}},
		Tokens:       []string{string(hash)},
		Log:          log,
	})
	return &testEnv{
		server:   srv,
		router:   srv.Router(),
		chat:     chat,
		manager:  manager,
		docs:     docs,
		ts:       ts,
		bus:      bus,
		workflow: workflow,
		token:    token,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// ============================================================================
// Alerts
// ============================================================================

func TestCreateAlertFansOutAndDeduplicates(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]interface{}{
		"title":    "Substation breach",
		"message":  "Unauthorized PLC write on RTU-7",
		"severity": "critical",
		"source":   "operator",
	}
	w := env.do(t, "POST", "/alerts", payload, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["alert_id"])
	require.Len(t, env.chat.sent, 1)
	assert.Equal(t, "Substation breach", env.chat.sent[0].Title)

	// Same title and message inside the window is suppressed.
	w = env.do(t, "POST", "/alerts", payload, "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "duplicate", body["reason"])
	assert.Len(t, env.chat.sent, 1)
}

func TestCreateAlertValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/alerts", map[string]interface{}{"title": "x"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/alerts", map[string]interface{}{
		"title": "x", "message": "y", "severity": "catastrophic",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAlertsFilters(t *testing.T) {
	env := newTestEnv(t)
	env.manager.Create("one", "m1", pipeline.SeverityHigh, "detector", nil)
	env.manager.Create("two", "m2", pipeline.SeverityLow, "operator", nil)

	w := env.do(t, "GET", "/alerts?severity=high", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["count"])

	w = env.do(t, "GET", "/alerts", nil, "")
	body = decodeBody(t, w)
	assert.EqualValues(t, 2, body["count"])
}

func TestResolveAlert(t *testing.T) {
	env := newTestEnv(t)
	alert := env.manager.Create("stuck", "msg", pipeline.SeverityMedium, "test", nil)

	w := env.do(t, "POST", "/alerts/"+alert.ID+"/resolve", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	got, err := env.manager.Get(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, alerting.AlertResolved, got.Status)

	w = env.do(t, "POST", "/alerts/no-such-id/resolve", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ============================================================================
// Automation
// ============================================================================

func TestExecuteRunsAutomationPolicy(t *testing.T) {
	env := newTestEnv(t)

	det := map[string]interface{}{
		"attack_type": pipeline.AttackRansomware,
		"detector":    "ransomware_detector",
		"severity":    "critical",
		"confidence":  0.95,
		"source_ip":   "203.0.113.7",
	}
	w := env.do(t, "POST", "/automation/execute", det, "")
	require.Equal(t, http.StatusOK, w.Code)

	var report pipeline.ActionReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Success)
	require.Len(t, report.Actions, 3)
	for _, action := range report.Actions {
		assert.Equal(t, pipeline.ActionExecuted, action.Status)
	}
}

func TestApprovalEndpointsRequireToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/automation/approvals", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "GET", "/automation/approvals", nil, "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "GET", "/automation/approvals", nil, env.token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApprovalLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	// Insider threat at medium severity queues a quarantine for approval.
	det := map[string]interface{}{
		"attack_type": pipeline.AttackInsiderThreat,
		"detector":    "insider_detector",
		"severity":    "medium",
		"confidence":  0.7,
		"user":        "alice",
	}
	w := env.do(t, "POST", "/automation/execute", det, "")
	require.Equal(t, http.StatusOK, w.Code)
	var report pipeline.ActionReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Approvals, 1)
	approvalID := report.Approvals[0]

	w = env.do(t, "GET", "/automation/approvals", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])

	// Approver identity is mandatory.
	w = env.do(t, "POST", "/automation/approvals/"+approvalID+"/approve",
		map[string]interface{}{}, env.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/automation/approvals/"+approvalID+"/approve",
		map[string]interface{}{"approver": "soc-lead", "comment": "confirmed"}, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["approved"])
	result := body["result"].(map[string]interface{})
	assert.Equal(t, pipeline.ActionExecuted, result["status"])

	// Deciding twice conflicts.
	w = env.do(t, "POST", "/automation/approvals/"+approvalID+"/approve",
		map[string]interface{}{"approver": "soc-lead"}, env.token)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "GET", "/automation/approvals", nil, env.token)
	assert.EqualValues(t, 0, decodeBody(t, w)["count"])
}

func TestRejectApprovalOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	req := env.workflow.Request("device_quarantine",
		&pipeline.Detection{AttackType: pipeline.AttackInsiderThreat, Severity: pipeline.SeverityMedium, User: "bob"},
		"insider_threat attack detected", pipeline.SeverityMedium, false)

	w := env.do(t, "POST", "/automation/approvals/"+req.ID+"/reject",
		map[string]interface{}{"approver": "soc-lead", "comment": "false positive"}, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["rejected"])

	w = env.do(t, "POST", "/automation/approvals/unknown/reject",
		map[string]interface{}{"approver": "soc-lead"}, env.token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutomationStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/automation/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	breakers := body["circuit_breakers"].(map[string]interface{})
	assert.Contains(t, breakers, "isolation")
	assert.Contains(t, breakers, "failover")
}

// ============================================================================
// Threats and logs
// ============================================================================

func seedThreat(t *testing.T, docs *memDocStore, id, attackType, severity string) {
	t.Helper()
	require.NoError(t, docs.Insert(context.Background(), stream.ThreatCollection, map[string]interface{}{
		"threat_id":   id,
		"attack_type": attackType,
		"severity":    severity,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}))
}

func TestThreatQueries(t *testing.T) {
	env := newTestEnv(t)
	seedThreat(t, env.docs, "t-1", pipeline.AttackDDoS, "high")
	seedThreat(t, env.docs, "t-2", pipeline.AttackRansomware, "critical")
	seedThreat(t, env.docs, "t-3", pipeline.AttackDDoS, "high")

	w := env.do(t, "GET", "/threats?attack_type=ddos", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decodeBody(t, w)["count"])

	w = env.do(t, "GET", "/threats/t-2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ransomware", decodeBody(t, w)["attack_type"])

	w = env.do(t, "GET", "/threats/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestThreatStatsSummary(t *testing.T) {
	env := newTestEnv(t)
	seedThreat(t, env.docs, "t-1", pipeline.AttackDDoS, "high")
	seedThreat(t, env.docs, "t-2", pipeline.AttackDDoS, "high")
	seedThreat(t, env.docs, "t-3", pipeline.AttackSCADA, "critical")

	w := env.do(t, "GET", "/threats/stats/summary", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 3, body["total"])
	byAttack := body["by_attack_type"].(map[string]interface{})
	assert.EqualValues(t, 2, byAttack["ddos"])
	assert.EqualValues(t, 1, byAttack["scada_attack"])
	bySeverity := body["by_severity"].(map[string]interface{})
	assert.EqualValues(t, 2, bySeverity["high"])
}

func TestQueryLogs(t *testing.T) {
	env := newTestEnv(t)
	env.ts.rows = []storage.LogRow{
		{Time: time.Now(), Source: "syslog", Host: "rtu-1", Message: "heartbeat"},
		{Time: time.Now(), Source: "netflow", Host: "fw-1", Message: "flow"},
	}

	w := env.do(t, "GET", "/logs?source=syslog", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])

	w = env.do(t, "GET", "/logs?start=not-a-time", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Audit
// ============================================================================

func TestStateChangesAreAudited(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/alerts", map[string]interface{}{
		"title": "audit me", "message": "x", "severity": "low",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/audit", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	records := body["records"].([]interface{})
	require.NotEmpty(t, records)
	rec := records[0].(map[string]interface{})
	assert.Equal(t, string(audit.ActionCreate), rec["action"])
	assert.Equal(t, "/alerts", rec["resource"])

	// Audit trail itself is token guarded.
	w = env.do(t, "GET", "/audit", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ============================================================================
// Health and events
// ============================================================================

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])

	w = env.do(t, "GET", "/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/live", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	env.server.probes["postgres"] = stubProbe{err: errors.New("connection refused")}
	w = env.do(t, "GET", "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", decodeBody(t, w)["status"])

	w = env.do(t, "GET", "/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventStreamDeliversBusEvents(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream?types=" + events.EventThreatDetected
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Subscription is registered synchronously during the upgrade handler,
	// but give the server goroutine a beat before publishing.
	require.Eventually(t, func() bool { return env.bus.SubscriberCount() > 0 },
		time.Second, 10*time.Millisecond)

	env.bus.Emit(events.EventThreatDetected, "stream", "rec-1", map[string]interface{}{
		"attack_type": "ddos",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event events.CloudEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, events.EventThreatDetected, event.Type)
	assert.Equal(t, "rec-1", event.Subject)
}
