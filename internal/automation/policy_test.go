package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshield/backend/internal/pipeline"
)

func TestDetermineActions(t *testing.T) {
	tests := []struct {
		name       string
		attackType string
		severity   pipeline.Severity
		want       []PlannedAction
	}{
		{
			name:       "critical intrusion isolates and quarantines automatically",
			attackType: pipeline.AttackNetworkIntrusion,
			severity:   pipeline.SeverityCritical,
			want: []PlannedAction{
				{Type: ActionNetworkIsolation, AutoApprove: true},
				{Type: ActionDeviceQuarantine, AutoApprove: true},
			},
		},
		{
			name:       "high severity needs approval",
			attackType: pipeline.AttackMalware,
			severity:   pipeline.SeverityHigh,
			want: []PlannedAction{
				{Type: ActionNetworkIsolation, AutoApprove: false},
				{Type: ActionDeviceQuarantine, AutoApprove: false},
			},
		},
		{
			name:       "ddos blocks traffic without approval",
			attackType: pipeline.AttackDDoS,
			severity:   pipeline.SeverityHigh,
			want: []PlannedAction{
				{Type: ActionNetworkIsolation, AutoApprove: false},
				{Type: ActionDeviceQuarantine, AutoApprove: false},
				{Type: ActionTrafficBlocking, AutoApprove: true},
			},
		},
		{
			name:       "ransomware fails over immediately",
			attackType: pipeline.AttackRansomware,
			severity:   pipeline.SeverityCritical,
			want: []PlannedAction{
				{Type: ActionNetworkIsolation, AutoApprove: true},
				{Type: ActionDeviceQuarantine, AutoApprove: true},
				{Type: ActionFailover, AutoApprove: true},
			},
		},
		{
			name:       "scada attack fails over",
			attackType: pipeline.AttackSCADA,
			severity:   pipeline.SeverityCritical,
			want: []PlannedAction{
				{Type: ActionNetworkIsolation, AutoApprove: true},
				{Type: ActionDeviceQuarantine, AutoApprove: true},
				{Type: ActionFailover, AutoApprove: true},
			},
		},
		{
			name:       "insider quarantine always needs a human",
			attackType: pipeline.AttackInsiderThreat,
			severity:   pipeline.SeverityMedium,
			want: []PlannedAction{
				{Type: ActionDeviceQuarantine, AutoApprove: false},
			},
		},
		{
			name:       "low severity anomaly takes no action",
			attackType: pipeline.AttackZeroDay,
			severity:   pipeline.SeverityLow,
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineActions(tt.attackType, tt.severity)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseActionType(t *testing.T) {
	for _, a := range []ActionType{ActionNetworkIsolation, ActionDeviceQuarantine, ActionTrafficBlocking, ActionFailover} {
		got, ok := ParseActionType(a.String())
		require.True(t, ok)
		assert.Equal(t, a, got)
	}
	_, ok := ParseActionType("reboot_everything")
	assert.False(t, ok)
}

func TestBreakerRouting(t *testing.T) {
	assert.Equal(t, "isolation", ActionNetworkIsolation.BreakerName())
	assert.Equal(t, "isolation", ActionDeviceQuarantine.BreakerName())
	assert.Equal(t, "isolation", ActionTrafficBlocking.BreakerName())
	assert.Equal(t, "failover", ActionFailover.BreakerName())
}
