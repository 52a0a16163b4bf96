// Package audit records who did what against the API and the automation
// surface. Records are written best-effort to the document store.
package audit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridshield/backend/internal/storage"
)

// Collection is the DocStore collection audit records land in.
const Collection = "audit_logs"

// Action classifies an audited operation.
type Action string

const (
	ActionRead    Action = "READ"
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionExecute Action = "EXECUTE"
)

// ActionForMethod maps an HTTP method to its audit action.
func ActionForMethod(method string) Action {
	switch method {
	case http.MethodGet:
		return ActionRead
	case http.MethodPost:
		return ActionCreate
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionExecute
	}
}

// Record is one audit entry.
type Record struct {
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor"`
	Action    Action                 `json:"action"`
	Resource  string                 `json:"resource"`
	Method    string                 `json:"method,omitempty"`
	Status    int                    `json:"status,omitempty"`
	RemoteIP  string                 `json:"remote_ip,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Logger persists audit records. A nil store degrades to log-only.
type Logger struct {
	store storage.DocStore
	log   *slog.Logger
	now   func() time.Time
}

func NewLogger(store storage.DocStore, log *slog.Logger) *Logger {
	return &Logger{store: store, log: log, now: time.Now}
}

// Write records an entry. Persistence failures are logged, never returned:
// auditing must not take the guarded operation down with it.
func (l *Logger) Write(ctx context.Context, rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	l.log.Info("audit",
		"actor", rec.Actor,
		"action", rec.Action,
		"resource", rec.Resource,
		"status", rec.Status)

	if l.store == nil {
		return
	}
	doc := map[string]interface{}{
		"timestamp": rec.Timestamp.Format(time.RFC3339Nano),
		"actor":     rec.Actor,
		"action":    string(rec.Action),
		"resource":  rec.Resource,
	}
	if rec.Method != "" {
		doc["method"] = rec.Method
	}
	if rec.Status != 0 {
		doc["status"] = rec.Status
	}
	if rec.RemoteIP != "" {
		doc["remote_ip"] = rec.RemoteIP
	}
	if len(rec.Detail) > 0 {
		doc["detail"] = rec.Detail
	}
	if err := l.store.Insert(ctx, Collection, doc); err != nil {
		l.log.Error("audit record not persisted", "error", err)
	}
}

// Query returns recent audit entries matching the filter, newest first.
func (l *Logger) Query(ctx context.Context, filter map[string]interface{}, limit int) ([]map[string]interface{}, error) {
	if l.store == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	return l.store.Find(ctx, Collection, filter, storage.FindOptions{
		SortDesc: true,
		Limit:    limit,
	})
}
