package automation

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridshield/backend/internal/events"
	"github.com/gridshield/backend/internal/pipeline"
)

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalApproved     ApprovalStatus = "approved"
	ApprovalRejected     ApprovalStatus = "rejected"
	ApprovalExpired      ApprovalStatus = "expired"
	ApprovalAutoApproved ApprovalStatus = "auto_approved"
)

var (
	ErrApprovalNotFound   = errors.New("approval request not found")
	ErrApprovalExpired    = errors.New("approval request expired")
	ErrApprovalWrongState = errors.New("approval request not pending")
)

// ApprovalRequest gates one action on an operator decision.
type ApprovalRequest struct {
	ID        string              `json:"id"`
	Action    string              `json:"action"`
	Params    *pipeline.Detection `json:"params"`
	Reason    string              `json:"reason"`
	Severity  pipeline.Severity   `json:"severity"`
	Status    ApprovalStatus      `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	ExpiresAt time.Time           `json:"expires_at"`
	DecidedBy string              `json:"decided_by,omitempty"`
	DecidedAt time.Time           `json:"decided_at,omitempty"`
	Comment   string              `json:"comment,omitempty"`
}

// ApprovalWorkflow owns the approval store. All mutation goes through it;
// callers get copies.
type ApprovalWorkflow struct {
	timeout         time.Duration
	requireApproval bool
	log             *slog.Logger
	emitter         events.EventEmitter
	now             func() time.Time

	mu        sync.Mutex
	approvals map[string]*ApprovalRequest

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewApprovalWorkflow(timeout time.Duration, requireApproval bool, log *slog.Logger, emitter events.EventEmitter) *ApprovalWorkflow {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &ApprovalWorkflow{
		timeout:         timeout,
		requireApproval: requireApproval,
		log:             log,
		emitter:         emitter,
		now:             time.Now,
		approvals:       make(map[string]*ApprovalRequest),
		stop:            make(chan struct{}),
	}
}

// RequireApproval reports whether non-auto-approved actions need a pending
// request.
func (w *ApprovalWorkflow) RequireApproval() bool { return w.requireApproval }

// Request creates an approval request. A critical request with autoApprove
// set is decided synchronously by the "auto_approved" approver and comes
// back ready to execute.
func (w *ApprovalWorkflow) Request(action string, params *pipeline.Detection, reason string, severity pipeline.Severity, autoApprove bool) *ApprovalRequest {
	now := w.now()
	req := &ApprovalRequest{
		ID:        uuid.New().String(),
		Action:    action,
		Params:    params,
		Reason:    reason,
		Severity:  severity,
		Status:    ApprovalPending,
		CreatedAt: now,
		ExpiresAt: now.Add(w.timeout),
	}

	w.mu.Lock()
	w.approvals[req.ID] = req
	if severity == pipeline.SeverityCritical && autoApprove {
		req.Status = ApprovalAutoApproved
		req.DecidedBy = "auto_approved"
		req.DecidedAt = now
		req.Comment = "critical threat, auto approved"
	}
	snapshot := *req
	w.mu.Unlock()

	w.log.Info("approval requested",
		"approval_id", req.ID,
		"action", action,
		"severity", severity,
		"status", snapshot.Status)
	w.emitter.Emit(events.EventApprovalRequested, "automation", snapshot.ID, map[string]interface{}{
		"approval_id": snapshot.ID,
		"action":      snapshot.Action,
		"severity":    string(snapshot.Severity),
		"status":      string(snapshot.Status),
	})
	return &snapshot
}

// Approve marks a pending request approved. Requests past their expiry are
// transitioned to expired and the call fails.
func (w *ApprovalWorkflow) Approve(id, approver, comment string) error {
	return w.decide(id, ApprovalApproved, approver, comment)
}

// Reject marks a pending request rejected.
func (w *ApprovalWorkflow) Reject(id, rejector, reason string) error {
	return w.decide(id, ApprovalRejected, rejector, reason)
}

func (w *ApprovalWorkflow) decide(id string, to ApprovalStatus, decider, comment string) error {
	w.mu.Lock()
	req, ok := w.approvals[id]
	if !ok {
		w.mu.Unlock()
		return ErrApprovalNotFound
	}
	if req.Status == ApprovalPending && w.now().After(req.ExpiresAt) {
		req.Status = ApprovalExpired
	}
	if req.Status == ApprovalExpired {
		w.mu.Unlock()
		return ErrApprovalExpired
	}
	if req.Status != ApprovalPending {
		w.mu.Unlock()
		return ErrApprovalWrongState
	}
	req.Status = to
	req.DecidedBy = decider
	req.DecidedAt = w.now()
	req.Comment = comment
	snapshot := *req
	w.mu.Unlock()

	w.log.Info("approval decided",
		"approval_id", id,
		"status", to,
		"decided_by", decider)
	w.emitter.Emit(events.EventApprovalDecided, "automation", snapshot.ID, map[string]interface{}{
		"approval_id": snapshot.ID,
		"action":      snapshot.Action,
		"status":      string(snapshot.Status),
		"decided_by":  snapshot.DecidedBy,
	})
	return nil
}

// Get returns a copy of the request, expiring it first when overdue.
func (w *ApprovalWorkflow) Get(id string) (*ApprovalRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	req, ok := w.approvals[id]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	if req.Status == ApprovalPending && w.now().After(req.ExpiresAt) {
		req.Status = ApprovalExpired
	}
	snapshot := *req
	return &snapshot, nil
}

// Pending returns copies of all requests still awaiting a decision.
func (w *ApprovalWorkflow) Pending() []ApprovalRequest {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	var pending []ApprovalRequest
	for _, req := range w.approvals {
		if req.Status == ApprovalPending && now.After(req.ExpiresAt) {
			req.Status = ApprovalExpired
		}
		if req.Status == ApprovalPending {
			pending = append(pending, *req)
		}
	}
	return pending
}

// Start launches the expiry sweeper. The sweep interval stays at or below
// a tenth of the approval timeout so requests expire promptly.
func (w *ApprovalWorkflow) Start() {
	interval := w.timeout / 10
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval <= 0 {
		interval = time.Second
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.sweep()
			case <-w.stop:
				return
			}
		}
	}()
}

func (w *ApprovalWorkflow) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *ApprovalWorkflow) sweep() {
	now := w.now()
	expired := 0
	w.mu.Lock()
	for _, req := range w.approvals {
		if req.Status == ApprovalPending && now.After(req.ExpiresAt) {
			req.Status = ApprovalExpired
			expired++
		}
	}
	w.mu.Unlock()
	if expired > 0 {
		w.log.Info("expired stale approvals", "count", expired)
	}
}
