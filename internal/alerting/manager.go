// Package alerting turns detections and operator requests into alerts and
// routes them to the configured notification channels.
package alerting

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridshield/backend/internal/pipeline"
)

// Alert statuses.
const (
	AlertPending  = "pending"
	AlertSent     = "sent"
	AlertResolved = "resolved"
)

// Alert is one alert record. Alerts are never deleted, only trimmed from
// the bounded history once it exceeds the cap.
type Alert struct {
	ID           string                 `json:"alert_id"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Severity     pipeline.Severity      `json:"severity"`
	Source       string                 `json:"source"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	Status       string                 `json:"status"`
	SentChannels []string               `json:"sent_channels"`
}

// ErrAlertNotFound is returned for unknown alert ids.
var ErrAlertNotFound = fmt.Errorf("alert not found")

// Manager owns alert state: the live set, the bounded history used for
// deduplication, and status transitions.
type Manager struct {
	log         *slog.Logger
	dedupWindow time.Duration
	maxHistory  int
	now         func() time.Time

	mu      sync.Mutex
	alerts  map[string]*Alert
	history []*Alert
}

func NewManager(dedupWindow time.Duration, maxHistory int, log *slog.Logger) *Manager {
	if maxHistory < 1 {
		maxHistory = 1000
	}
	return &Manager{
		log:         log,
		dedupWindow: dedupWindow,
		maxHistory:  maxHistory,
		now:         time.Now,
		alerts:      make(map[string]*Alert),
	}
}

// Create registers a new alert and appends it to the history, trimming the
// oldest entries past the cap.
func (m *Manager) Create(title, message string, severity pipeline.Severity, source string, metadata map[string]interface{}) Alert {
	alert := &Alert{
		ID:        uuid.New().String(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		Source:    source,
		Metadata:  metadata,
		CreatedAt: m.now(),
		Status:    AlertPending,
	}

	m.mu.Lock()
	m.alerts[alert.ID] = alert
	m.history = append(m.history, alert)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
	snapshot := *alert
	m.mu.Unlock()

	m.log.Info("alert created", "alert_id", alert.ID, "title", title, "severity", severity)
	return snapshot
}

func (m *Manager) Get(id string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return *alert, nil
}

// Filters narrows a List call; zero values match everything.
type Filters struct {
	Severity pipeline.Severity
	Source   string
	Status   string
}

// List returns matching alerts, newest first.
func (m *Manager) List(f Filters) []Alert {
	m.mu.Lock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Source != "" && a.Source != f.Source {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, *a)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// MarkSent records a successful delivery on one channel.
func (m *Manager) MarkSent(id, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return
	}
	for _, c := range alert.SentChannels {
		if c == channel {
			return
		}
	}
	alert.SentChannels = append(alert.SentChannels, channel)
	alert.Status = AlertSent
}

func (m *Manager) MarkResolved(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	alert.Status = AlertResolved
	m.log.Info("alert resolved", "alert_id", id)
	return nil
}

// IsDuplicate reports whether an alert with the same title and message was
// created within the dedup window. The history is scanned newest to oldest
// and the scan stops at the window boundary.
func (m *Manager) IsDuplicate(title, message string) bool {
	cutoff := m.now().Add(-m.dedupWindow)

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		a := m.history[i]
		if a.CreatedAt.Before(cutoff) {
			break
		}
		if a.Title == title && a.Message == message {
			return true
		}
	}
	return false
}
