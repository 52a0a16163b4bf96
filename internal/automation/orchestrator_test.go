package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshield/backend/internal/pipeline"
)

type failingIsolator struct {
	calls int
}

func (f *failingIsolator) Isolate(context.Context, *pipeline.Detection) (IsolationResult, error) {
	f.calls++
	return IsolationResult{}, errors.New("firewall unreachable")
}

func (f *failingIsolator) UnblockIP(context.Context, string) error { return nil }
func (f *failingIsolator) BlockedIPs() []string                    { return nil }

func testOrchestrator(t *testing.T, iso NetworkIsolator) (*Orchestrator, *MemoryQuarantine, *MemoryBlocker) {
	t.Helper()
	if iso == nil {
		iso = NewMemoryIsolator(testLogger())
	}
	quarantine := NewMemoryQuarantine(testLogger(), nil)
	blocker := NewMemoryBlocker(testLogger(), nil)
	backup := NewMemoryBackupActivator(testLogger(), map[string]BackupSystem{
		"default": {Type: "dns_switch", Endpoint: "backup.grid.local"},
	})
	workflow := NewApprovalWorkflow(5*time.Minute, true, testLogger(), nil)

	o := NewOrchestrator(OrchestratorOptions{
		Isolator:   iso,
		Quarantine: quarantine,
		Blocker:    blocker,
		Backup:     backup,
		Approvals:  workflow,
		Breakers: map[string]*Breaker{
			"isolation": NewBreaker("isolation", 5, 30*time.Second),
			"failover":  NewBreaker("failover", 3, 30*time.Second),
		},
		ActuatorTimeout: time.Second,
		Logger:          testLogger(),
	})
	return o, quarantine, blocker
}

func TestHandleThreatCriticalRansomware(t *testing.T) {
	o, quarantine, _ := testOrchestrator(t, nil)

	det := testDetection(pipeline.AttackRansomware, pipeline.SeverityCritical)
	report := o.HandleThreat(context.Background(), det)

	require.True(t, report.Success)
	require.Len(t, report.Actions, 3)
	for _, action := range report.Actions {
		assert.Equal(t, pipeline.ActionExecuted, action.Status, action.Type)
	}
	assert.Empty(t, report.Approvals)
	assert.True(t, quarantine.IsQuarantined("203.0.113.7"))
}

func TestHandleThreatDDoSBlocksTraffic(t *testing.T) {
	o, _, blocker := testOrchestrator(t, nil)

	det := testDetection(pipeline.AttackDDoS, pipeline.SeverityHigh)
	det.Context = map[string]interface{}{"requests_per_second": 2.0}
	report := o.HandleThreat(context.Background(), det)

	// Isolation and quarantine wait for approval at high severity, the
	// traffic block goes out immediately.
	require.True(t, report.Success)
	require.Len(t, report.Actions, 3)
	assert.Equal(t, pipeline.ActionAwaitingApproval, report.Actions[0].Status)
	assert.Equal(t, pipeline.ActionAwaitingApproval, report.Actions[1].Status)
	assert.Equal(t, pipeline.ActionExecuted, report.Actions[2].Status)
	assert.Len(t, report.Approvals, 2)

	blocks := blocker.Blocked()
	require.Len(t, blocks, 1)
	assert.Equal(t, "203.0.113.7", blocks[0].SourceIP)
	assert.Equal(t, "tcp", blocks[0].Protocol)
}

func TestHandleThreatInsiderQueuesApproval(t *testing.T) {
	o, quarantine, _ := testOrchestrator(t, nil)

	det := testDetection(pipeline.AttackInsiderThreat, pipeline.SeverityMedium)
	det.SourceIP = ""
	det.User = "alice"
	report := o.HandleThreat(context.Background(), det)

	require.False(t, report.Success)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, pipeline.ActionAwaitingApproval, report.Actions[0].Status)
	assert.True(t, report.Actions[0].RequiresApproval)
	require.Len(t, report.Approvals, 1)
	assert.False(t, quarantine.IsQuarantined("alice"))
}

func TestExecuteApprovedRunsQuarantine(t *testing.T) {
	o, quarantine, _ := testOrchestrator(t, nil)

	det := testDetection(pipeline.AttackInsiderThreat, pipeline.SeverityMedium)
	det.SourceIP = ""
	det.User = "alice"
	report := o.HandleThreat(context.Background(), det)
	require.Len(t, report.Approvals, 1)
	id := report.Approvals[0]

	// Not yet approved.
	_, err := o.ExecuteApproved(context.Background(), id)
	require.ErrorIs(t, err, ErrApprovalWrongState)

	require.NoError(t, o.approvals.Approve(id, "operator1", "confirmed"))

	res, err := o.ExecuteApproved(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ActionExecuted, res.Status)
	assert.True(t, quarantine.IsQuarantined("alice"))
}

func TestExecuteApprovedUnknownID(t *testing.T) {
	o, _, _ := testOrchestrator(t, nil)
	_, err := o.ExecuteApproved(context.Background(), "nope")
	require.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestIsolationBreakerTripsAfterRepeatedFailures(t *testing.T) {
	iso := &failingIsolator{}
	o, _, _ := testOrchestrator(t, iso)

	det := testDetection(pipeline.AttackNetworkIntrusion, pipeline.SeverityCritical)
	planned := PlannedAction{Type: ActionNetworkIsolation, AutoApprove: true}

	for i := 0; i < 5; i++ {
		res := o.execute(context.Background(), planned, det)
		assert.Equal(t, pipeline.ActionFailed, res.Status)
	}
	require.Equal(t, 5, iso.calls)
	require.Equal(t, BreakerOpen, o.Breaker("isolation").State())

	// The sixth attempt is skipped without touching the actuator.
	res := o.execute(context.Background(), planned, det)
	assert.Equal(t, pipeline.ActionCircuitOpen, res.Status)
	assert.Equal(t, 5, iso.calls)
}

func TestHandleThreatMixedBreakerOutcomes(t *testing.T) {
	iso := &failingIsolator{}
	o, quarantine, _ := testOrchestrator(t, iso)

	det := testDetection(pipeline.AttackNetworkIntrusion, pipeline.SeverityCritical)

	// Quarantine succeeds after each isolation failure, so the shared
	// breaker keeps resetting and never opens.
	for i := 0; i < 6; i++ {
		report := o.HandleThreat(context.Background(), det)
		require.Len(t, report.Actions, 2)
		assert.Equal(t, pipeline.ActionFailed, report.Actions[0].Status)
		assert.Equal(t, pipeline.ActionExecuted, report.Actions[1].Status)
		assert.True(t, report.Success)
		assert.NotEmpty(t, report.Errors)
	}
	assert.Equal(t, 6, iso.calls)
	assert.Equal(t, BreakerClosed, o.Breaker("isolation").State())
	assert.True(t, quarantine.IsQuarantined("203.0.113.7"))
}

func TestOrchestratorStatus(t *testing.T) {
	o, _, _ := testOrchestrator(t, nil)

	det := testDetection(pipeline.AttackInsiderThreat, pipeline.SeverityMedium)
	det.User = "alice"
	o.HandleThreat(context.Background(), det)

	status := o.Status()
	breakers, ok := status["circuit_breakers"].(map[string]BreakerSnapshot)
	require.True(t, ok)
	assert.Contains(t, breakers, "isolation")
	assert.Contains(t, breakers, "failover")
	assert.Equal(t, 0, status["quarantined_devices"])
	assert.Equal(t, 0, status["blocked_traffic"])
	assert.Equal(t, 1, status["pending_approvals"])
}
