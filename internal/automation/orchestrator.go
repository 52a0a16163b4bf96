package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridshield/backend/internal/config"
	"github.com/gridshield/backend/internal/events"
	"github.com/gridshield/backend/internal/pipeline"
)

// Orchestrator turns detections into containment actions. Each detection
// walks the same path: resolve the policy, gate each action on approval,
// dispatch through the family circuit breaker, report the outcome.
type Orchestrator struct {
	isolator   NetworkIsolator
	quarantine DeviceQuarantine
	blocker    TrafficBlocker
	backup     BackupActivator
	approvals  *ApprovalWorkflow
	breakers   map[string]*Breaker

	actuatorTimeout time.Duration
	log             *slog.Logger
	emitter         events.EventEmitter
}

// OrchestratorOptions wires the orchestrator's collaborators.
type OrchestratorOptions struct {
	Isolator        NetworkIsolator
	Quarantine      DeviceQuarantine
	Blocker         TrafficBlocker
	Backup          BackupActivator
	Approvals       *ApprovalWorkflow
	Breakers        map[string]*Breaker
	ActuatorTimeout time.Duration
	Logger          *slog.Logger
	Emitter         events.EventEmitter
}

// BuildBreakers constructs one breaker per configured family.
func BuildBreakers(specs map[string]config.BreakerSpec) map[string]*Breaker {
	breakers := make(map[string]*Breaker, len(specs))
	for name, spec := range specs {
		breakers[name] = NewBreaker(name, spec.FailureThreshold, spec.Cooldown)
	}
	return breakers
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.ActuatorTimeout <= 0 {
		opts.ActuatorTimeout = 10 * time.Second
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NopEmitter{}
	}
	return &Orchestrator{
		isolator:        opts.Isolator,
		quarantine:      opts.Quarantine,
		blocker:         opts.Blocker,
		backup:          opts.Backup,
		approvals:       opts.Approvals,
		breakers:        opts.Breakers,
		actuatorTimeout: opts.ActuatorTimeout,
		log:             opts.Logger,
		emitter:         opts.Emitter,
	}
}

// HandleThreat resolves and executes the response policy for a detection.
// Actions needing approval are queued, not awaited; the report's success
// means at least one action executed.
func (o *Orchestrator) HandleThreat(ctx context.Context, det *pipeline.Detection) *pipeline.ActionReport {
	report := &pipeline.ActionReport{}

	o.log.Warn("handling threat",
		"attack_type", det.AttackType,
		"severity", det.Severity,
		"source_ip", det.SourceIP)

	for _, planned := range DetermineActions(det.AttackType, det.Severity) {
		res := o.execute(ctx, planned, det)
		report.Actions = append(report.Actions, res)
		if res.RequiresApproval {
			report.Approvals = append(report.Approvals, res.ApprovalID)
		}
		if res.Error != "" {
			report.Errors = append(report.Errors, res.Error)
		}
		if res.Success {
			report.Success = true
		}
	}

	o.emitter.Emit(events.EventAutomationExecuted, "automation", det.AttackType, map[string]interface{}{
		"attack_type": det.AttackType,
		"severity":    string(det.Severity),
		"actions":     len(report.Actions),
		"approvals":   len(report.Approvals),
		"success":     report.Success,
	})
	return report
}

// ExecuteApproved runs an action whose approval request has been granted.
func (o *Orchestrator) ExecuteApproved(ctx context.Context, approvalID string) (*pipeline.ActionResult, error) {
	req, err := o.approvals.Get(approvalID)
	if err != nil {
		return nil, err
	}
	if req.Status != ApprovalApproved && req.Status != ApprovalAutoApproved {
		return nil, fmt.Errorf("%w: status is %s", ErrApprovalWrongState, req.Status)
	}

	actionType, ok := ParseActionType(req.Action)
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", req.Action)
	}

	res := o.execute(ctx, PlannedAction{Type: actionType, AutoApprove: true}, req.Params)
	return &res, nil
}

// Status summarizes the live containment state for the admin surface.
func (o *Orchestrator) Status() map[string]interface{} {
	breakers := make(map[string]BreakerSnapshot, len(o.breakers))
	for name, b := range o.breakers {
		breakers[name] = b.Snapshot()
	}
	return map[string]interface{}{
		"circuit_breakers":    breakers,
		"quarantined_devices": len(o.quarantine.Quarantined()),
		"blocked_traffic":     len(o.blocker.Blocked()),
		"pending_approvals":   len(o.approvals.Pending()),
	}
}

// Breaker returns the named breaker, nil when absent.
func (o *Orchestrator) Breaker(name string) *Breaker {
	return o.breakers[name]
}

func (o *Orchestrator) execute(ctx context.Context, planned PlannedAction, det *pipeline.Detection) pipeline.ActionResult {
	result := pipeline.ActionResult{Type: planned.Type.String()}

	if !planned.AutoApprove && o.approvals.RequireApproval() {
		req := o.approvals.Request(
			planned.Type.String(),
			det,
			det.AttackType+" attack detected",
			det.Severity,
			false,
		)
		if req.Status == ApprovalPending {
			result.Status = pipeline.ActionAwaitingApproval
			result.RequiresApproval = true
			result.ApprovalID = req.ID
			return result
		}
	}

	breaker := o.breakers[planned.Type.BreakerName()]
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			result.Status = pipeline.ActionCircuitOpen
			o.log.Warn("action skipped, circuit open",
				"action", planned.Type.String(),
				"breaker", breaker.Name())
			return result
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.actuatorTimeout)
	detail, err := o.dispatch(callCtx, planned.Type, det)
	cancel()

	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		result.Status = pipeline.ActionFailed
		result.Error = err.Error()
		o.log.Error("action failed",
			"action", planned.Type.String(),
			"error", err)
		return result
	}

	if breaker != nil {
		breaker.RecordSuccess()
	}
	result.Status = pipeline.ActionExecuted
	result.Success = true
	result.Detail = detail
	return result
}

func (o *Orchestrator) dispatch(ctx context.Context, action ActionType, det *pipeline.Detection) (string, error) {
	reason := det.AttackType + " attack"

	switch action {
	case ActionNetworkIsolation:
		res, err := o.isolator.Isolate(ctx, det)
		if err != nil {
			return "", err
		}
		if !res.Success {
			return "", fmt.Errorf("isolation failed: %v", res.Errors)
		}
		return fmt.Sprintf("%v", res.Actions), nil

	case ActionDeviceQuarantine:
		deviceID := det.SourceIP
		if deviceID == "" {
			deviceID = det.User
		}
		if deviceID == "" {
			return "", fmt.Errorf("no device id in detection")
		}
		if err := o.quarantine.Quarantine(ctx, deviceID, reason, det.Context); err != nil {
			return "", err
		}
		return "quarantined " + deviceID, nil

	case ActionTrafficBlocking:
		port, _ := contextInt(det.Context, "port")
		proto := contextString(det.Context, "protocol", "tcp")
		if err := o.blocker.Block(ctx, det.SourceIP, "", port, proto, reason); err != nil {
			return "", err
		}
		return "blocked traffic from " + det.SourceIP, nil

	case ActionFailover:
		system := contextString(det.Context, "system", "default")
		res, err := o.backup.Activate(ctx, system, reason)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%v", res.Actions), nil
	}

	return "", fmt.Errorf("unknown action %d", action)
}

func contextInt(m map[string]interface{}, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func contextString(m map[string]interface{}, key, fallback string) string {
	if m != nil {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
