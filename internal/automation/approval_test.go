package automation

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshield/backend/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDetection(attackType string, severity pipeline.Severity) *pipeline.Detection {
	return &pipeline.Detection{
		AttackType: attackType,
		Detector:   attackType,
		Severity:   severity,
		Confidence: 0.9,
		SourceIP:   "203.0.113.7",
	}
}

func TestApprovalLifecycle(t *testing.T) {
	w := NewApprovalWorkflow(5*time.Minute, true, testLogger(), nil)

	req := w.Request("device_quarantine", testDetection(pipeline.AttackInsiderThreat, pipeline.SeverityHigh), "insider threat", pipeline.SeverityHigh, false)
	require.Equal(t, ApprovalPending, req.Status)
	require.NotEmpty(t, req.ID)

	pending := w.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)

	require.NoError(t, w.Approve(req.ID, "operator1", "confirmed"))

	got, err := w.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, got.Status)
	assert.Equal(t, "operator1", got.DecidedBy)
	assert.Equal(t, "confirmed", got.Comment)
	assert.Empty(t, w.Pending())

	// Deciding twice is rejected.
	err = w.Approve(req.ID, "operator2", "")
	require.ErrorIs(t, err, ErrApprovalWrongState)
}

func TestApprovalReject(t *testing.T) {
	w := NewApprovalWorkflow(5*time.Minute, true, testLogger(), nil)

	req := w.Request("network_isolation", testDetection(pipeline.AttackNetworkIntrusion, pipeline.SeverityHigh), "intrusion", pipeline.SeverityHigh, false)
	require.NoError(t, w.Reject(req.ID, "operator1", "false positive"))

	got, err := w.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalRejected, got.Status)
}

func TestApprovalAutoApprovedOnCritical(t *testing.T) {
	w := NewApprovalWorkflow(5*time.Minute, true, testLogger(), nil)

	req := w.Request("failover", testDetection(pipeline.AttackRansomware, pipeline.SeverityCritical), "ransomware", pipeline.SeverityCritical, true)
	assert.Equal(t, ApprovalAutoApproved, req.Status)
	assert.Equal(t, "auto_approved", req.DecidedBy)
	assert.Empty(t, w.Pending())
}

func TestApprovalNoAutoApproveBelowCritical(t *testing.T) {
	w := NewApprovalWorkflow(5*time.Minute, true, testLogger(), nil)

	req := w.Request("traffic_blocking", testDetection(pipeline.AttackDDoS, pipeline.SeverityHigh), "ddos", pipeline.SeverityHigh, true)
	assert.Equal(t, ApprovalPending, req.Status)
}

func TestApprovalExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewApprovalWorkflow(time.Second, true, testLogger(), nil)
	w.now = func() time.Time { return now }

	req := w.Request("device_quarantine", testDetection(pipeline.AttackInsiderThreat, pipeline.SeverityHigh), "insider threat", pipeline.SeverityHigh, false)
	require.Equal(t, ApprovalPending, req.Status)

	now = now.Add(2 * time.Second)

	err := w.Approve(req.ID, "operator1", "too late")
	require.ErrorIs(t, err, ErrApprovalExpired)

	got, err := w.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalExpired, got.Status)
	assert.Empty(t, w.Pending())
}

func TestApprovalGetUnknown(t *testing.T) {
	w := NewApprovalWorkflow(time.Minute, true, testLogger(), nil)
	_, err := w.Get("nope")
	require.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestApprovalSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewApprovalWorkflow(time.Second, true, testLogger(), nil)
	w.now = func() time.Time { return now }

	req := w.Request("network_isolation", testDetection(pipeline.AttackMalware, pipeline.SeverityHigh), "malware", pipeline.SeverityHigh, false)

	now = now.Add(5 * time.Second)
	w.sweep()

	got, err := w.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalExpired, got.Status)
}
