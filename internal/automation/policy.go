package automation

import "github.com/gridshield/backend/internal/pipeline"

// ActionType enumerates the automated defenses. The string form appears
// only at JSON and HTTP boundaries.
type ActionType int

const (
	ActionNetworkIsolation ActionType = iota
	ActionDeviceQuarantine
	ActionTrafficBlocking
	ActionFailover
)

func (a ActionType) String() string {
	switch a {
	case ActionNetworkIsolation:
		return "network_isolation"
	case ActionDeviceQuarantine:
		return "device_quarantine"
	case ActionTrafficBlocking:
		return "traffic_blocking"
	case ActionFailover:
		return "failover"
	default:
		return "unknown"
	}
}

// ParseActionType maps the wire form back to the enum.
func ParseActionType(s string) (ActionType, bool) {
	switch s {
	case "network_isolation":
		return ActionNetworkIsolation, true
	case "device_quarantine":
		return ActionDeviceQuarantine, true
	case "traffic_blocking":
		return ActionTrafficBlocking, true
	case "failover":
		return ActionFailover, true
	default:
		return 0, false
	}
}

// BreakerName returns the circuit breaker guarding this action family.
func (a ActionType) BreakerName() string {
	if a == ActionFailover {
		return "failover"
	}
	return "isolation"
}

// PlannedAction is one policy-resolved step for a detection.
type PlannedAction struct {
	Type        ActionType
	AutoApprove bool
}

// DetermineActions resolves the static response policy. The result is
// deterministic for equal (attack_type, severity) pairs:
//
//	severity high/critical  -> network_isolation, device_quarantine (auto on critical)
//	ddos                    -> traffic_blocking (always auto)
//	ransomware, scada       -> failover (always auto)
//	insider_threat          -> device_quarantine (never auto)
func DetermineActions(attackType string, severity pipeline.Severity) []PlannedAction {
	var actions []PlannedAction

	if severity == pipeline.SeverityHigh || severity == pipeline.SeverityCritical {
		critical := severity == pipeline.SeverityCritical
		actions = append(actions,
			PlannedAction{Type: ActionNetworkIsolation, AutoApprove: critical},
			PlannedAction{Type: ActionDeviceQuarantine, AutoApprove: critical},
		)
	}

	switch attackType {
	case pipeline.AttackDDoS:
		actions = append(actions, PlannedAction{Type: ActionTrafficBlocking, AutoApprove: true})
	case pipeline.AttackRansomware, pipeline.AttackSCADA:
		actions = append(actions, PlannedAction{Type: ActionFailover, AutoApprove: true})
	case pipeline.AttackInsiderThreat:
		actions = append(actions, PlannedAction{Type: ActionDeviceQuarantine, AutoApprove: false})
	}

	return actions
}
